// Package engine holds the buffering, diffing, and flush scheduling that
// keeps the persisted market dataset in step with the firehose. Buffers
// are owned by a single loop; they carry no locking of their own.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/galnet/marketsync/internal/metrics"
	"github.com/galnet/marketsync/internal/model"
	"github.com/galnet/marketsync/internal/store"
)

// FlushStats summarizes the persisted effect of one commodity flush.
type FlushStats struct {
	StationsUpdated    int
	CommoditiesWritten int
}

// FlushSummary is the reporting-only diff presented to the commit policy.
// The flush itself always replaces whole row sets; these counts exist for
// operators, not correctness.
type FlushSummary struct {
	Stations int
	Added    int
	Updated  int
	Deleted  int
}

// CommodityBuffer accumulates the latest commodity snapshot per station.
// The last message for a station in a window overwrites any prior one.
type CommodityBuffer struct {
	snapshots map[string]*model.CommoditySnapshot
}

// NewCommodityBuffer creates an empty buffer.
func NewCommodityBuffer() *CommodityBuffer {
	return &CommodityBuffer{snapshots: make(map[string]*model.CommoditySnapshot)}
}

// Accept stores a snapshot, overwriting any earlier one for the station.
func (b *CommodityBuffer) Accept(snap *model.CommoditySnapshot) {
	b.snapshots[store.DirectoryKey(snap.SystemName, snap.StationName)] = snap
}

// Len returns the number of buffered stations.
func (b *CommodityBuffer) Len() int { return len(b.snapshots) }

// Flush reconciles every buffered snapshot against the persisted store in
// one transaction. Unresolvable stations are skipped; stations are never
// invented. On a persistence error the buffer is retained so the next
// cycle retries; on success (or a declined commit) it is cleared.
func (b *CommodityBuffer) Flush(ctx context.Context, st store.Store, policy CommitPolicy) (FlushStats, error) {
	if len(b.snapshots) == 0 {
		return FlushStats{}, nil
	}

	var updates []model.StationUpdate
	var summary FlushSummary

	for _, snap := range b.snapshots {
		key, err := st.ResolveStation(ctx, snap.SystemName, snap.StationName)
		if errors.Is(err, store.ErrStationUnknown) {
			metrics.FramesSkipped.WithLabelValues("unknown_station").Inc()
			slog.Warn("skipping unknown station",
				"system", snap.SystemName, "station", snap.StationName)
			continue
		}
		if err != nil {
			return FlushStats{}, err
		}

		existing, err := st.GetStationCommodities(ctx, key)
		if err != nil {
			return FlushStats{}, err
		}
		diffInto(&summary, existing, snap.Commodities)
		summary.Stations++

		update := model.StationUpdate{
			Key:        key,
			UpdateTime: snap.Timestamp,
			Rows:       make([]model.StationCommodity, 0, len(snap.Commodities)),
		}
		for _, c := range snap.Commodities {
			update.Rows = append(update.Rows, model.StationCommodity{
				SystemID:      key.SystemID,
				StationID:     key.StationID,
				CommodityName: c.Name,
				SellPrice:     c.SellPrice,
				Demand:        c.Demand,
			})
		}
		updates = append(updates, update)
	}

	if len(updates) == 0 {
		b.Clear()
		return FlushStats{}, nil
	}

	if policy != nil && !policy.ShouldCommit(summary) {
		slog.Info("commit declined", "stations", summary.Stations)
		b.Clear()
		return FlushStats{}, nil
	}

	start := time.Now()
	written, err := st.ReplaceCommodities(ctx, updates)
	metrics.FlushDuration.WithLabelValues("commodity").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FlushFailures.WithLabelValues("commodity").Inc()
		return FlushStats{}, err
	}

	b.Clear()
	metrics.StationsUpdated.Add(float64(len(updates)))
	metrics.CommoditiesWritten.Add(float64(written))
	return FlushStats{StationsUpdated: len(updates), CommoditiesWritten: written}, nil
}

// Clear drops all buffered snapshots.
func (b *CommodityBuffer) Clear() {
	b.snapshots = make(map[string]*model.CommoditySnapshot)
}

// diffInto accumulates added/updated/deleted counts between the persisted
// rows and the incoming snapshot.
func diffInto(sum *FlushSummary, existing, incoming map[string]model.Commodity) {
	for name, c := range incoming {
		old, ok := existing[name]
		switch {
		case !ok:
			sum.Added++
		case old.SellPrice != c.SellPrice || old.Demand != c.Demand:
			sum.Updated++
		}
	}
	for name := range existing {
		if _, ok := incoming[name]; !ok {
			sum.Deleted++
		}
	}
}
