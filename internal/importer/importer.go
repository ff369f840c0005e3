// Package importer implements the resumable batch catch-up import: it
// locates the most recent daily snapshot, finds stations whose data is
// newer than the persisted dataset, and replaces their rows in batched,
// checkpointed transactions. A crashed run resumes from its checkpoint
// minus a safety margin rather than trusting the exact last offset.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/galnet/marketsync/internal/engine"
	"github.com/galnet/marketsync/internal/feed"
	"github.com/galnet/marketsync/internal/metrics"
	"github.com/galnet/marketsync/internal/model"
	"github.com/galnet/marketsync/internal/store"
)

// Options are the CLI-facing switches of one import run.
type Options struct {
	Auto  bool // skip interactive commit confirmation
	Fast  bool // full per-station replace without per-record diff tracking
	Force bool // bypass the completed-checkpoint short-circuit
}

// Batch sizes and the resume safety margin. Exposed as fields on Importer
// so tests can shrink them.
const (
	defaultDeleteBatch  = 1000 // stations per delete transaction
	defaultInsertBatch  = 500  // stations per insert transaction
	defaultSafetyMargin = 1000 // entries re-processed after a crash
)

// Importer drives one catch-up run against the shared store.
type Importer struct {
	Store          store.Store
	Locator        *Locator
	CheckpointPath string
	Policy         engine.CommitPolicy

	DeleteBatch  int
	InsertBatch  int
	SafetyMargin int
}

// New creates an importer with production batch sizes.
func New(st store.Store, loc *Locator, checkpointPath string, policy engine.CommitPolicy) *Importer {
	return &Importer{
		Store:          st,
		Locator:        loc,
		CheckpointPath: checkpointPath,
		Policy:         policy,
		DeleteBatch:    defaultDeleteBatch,
		InsertBatch:    defaultInsertBatch,
		SafetyMargin:   defaultSafetyMargin,
	}
}

// dumpEntry is one JSON line of the snapshot file.
type dumpEntry struct {
	SystemName  string    `json:"systemName"`
	StationName string    `json:"stationName"`
	StationType string    `json:"stationType"`
	Timestamp   time.Time `json:"timestamp"`
	Commodities []struct {
		Name      string `json:"name"`
		SellPrice int64  `json:"sellPrice"`
		Demand    int64  `json:"demand"`
	} `json:"commodities"`
}

// Run executes the state machine:
//
//	LOCATE_FILE → {DOWNLOAD → EXTRACT} → SCAN_LATEST_PER_STATION →
//	DELETE_STALE → STREAM_AND_INSERT → COMPLETE|INCOMPLETE
//
// The checkpoint is written after every batch and in every termination
// path, including errors.
func (imp *Importer) Run(ctx context.Context, opts Options) (err error) {
	cp, err := LoadCheckpoint(imp.CheckpointPath)
	if err != nil {
		return err
	}

	// Durable record of failure in every exit path.
	defer func() {
		if err != nil {
			cp.Error = err.Error()
			if serr := SaveCheckpoint(imp.CheckpointPath, cp); serr != nil {
				slog.Error("checkpoint write failed", "err", serr)
			}
		}
	}()

	src, err := imp.Locator.Locate(ctx)
	if err != nil {
		return err
	}

	if cp.Completed && cp.LastFile == src.Name && !opts.Force {
		slog.Info("snapshot already imported", "file", src.Name)
		return nil
	}

	// Resume policy: roll back by the safety margin; never trust the
	// exact last offset, it may cover a partially committed batch.
	resumeFrom := 0
	resumed := cp.LastFile == src.Name && !cp.Completed && cp.ProcessedEntries > 0
	if resumed {
		resumeFrom = cp.ProcessedEntries - imp.SafetyMargin
		if resumeFrom < 0 {
			resumeFrom = 0
		}
		slog.Info("resuming incomplete import",
			"file", src.Name, "checkpoint", cp.ProcessedEntries, "resume_from", resumeFrom)
	}

	path, err := imp.Locator.Fetch(ctx, src)
	if err != nil {
		return err
	}

	marked, total, err := imp.scanLatest(ctx, path)
	if err != nil {
		return err
	}
	slog.Info("scan complete", "entries", total, "stations_to_replace", len(marked))
	metrics.ImportTotal.Set(float64(total))

	if len(marked) == 0 {
		*cp = model.ImportCheckpoint{
			LastUpdate: time.Now().UTC(), LastFile: src.Name,
			Completed: true, ProcessedEntries: total, TotalEntries: total,
		}
		return SaveCheckpoint(imp.CheckpointPath, cp)
	}

	if imp.Policy != nil && !imp.Policy.ShouldCommit(engine.FlushSummary{Stations: len(marked)}) {
		slog.Info("import declined")
		return nil
	}

	cp.LastFile = src.Name
	cp.TotalEntries = total
	cp.Completed = false
	cp.Error = ""

	// Fresh runs bulk-delete stale rows up front. Resumed runs skip the
	// phase (it already ran) and replace per station instead, which keeps
	// re-processed entries idempotent.
	if !resumed {
		if err := imp.deleteStale(ctx, marked); err != nil {
			return err
		}
	}

	return imp.streamInsert(ctx, path, marked, resumeFrom, resumed, cp, opts)
}

// markedStation is a station whose snapshot data is strictly newer than
// the persisted dataset.
type markedStation struct {
	key    model.StationKey
	newest time.Time
}

// scanLatest is the first pass: per station, the newest timestamp in the
// file. Only stations strictly newer than the stored update time are
// marked, so fresher live-updated data is never regressed.
func (imp *Importer) scanLatest(ctx context.Context, path string) (map[string]markedStation, int, error) {
	dir, err := imp.Store.StationDirectory(ctx)
	if err != nil {
		return nil, 0, err
	}

	newest := make(map[string]time.Time)
	total := 0
	err = forEachEntry(path, func(e *dumpEntry) error {
		total++
		if feed.ExcludedStationType(e.StationType) {
			return nil
		}
		k := store.DirectoryKey(e.SystemName, e.StationName)
		if e.Timestamp.After(newest[k]) {
			newest[k] = e.Timestamp
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	marked := make(map[string]markedStation)
	for k, ts := range newest {
		info, ok := dir[k]
		if !ok {
			continue // never invent stations
		}
		if ts.After(info.UpdateTime) {
			marked[k] = markedStation{key: info.Key, newest: ts}
		}
	}
	return marked, total, nil
}

// deleteStale bulk-deletes existing rows for marked stations, one commit
// per batch.
func (imp *Importer) deleteStale(ctx context.Context, marked map[string]markedStation) error {
	keys := make([]model.StationKey, 0, len(marked))
	for _, m := range marked {
		keys = append(keys, m.key)
	}

	for start := 0; start < len(keys); start += imp.DeleteBatch {
		end := start + imp.DeleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		if err := imp.Store.DeleteCommodities(ctx, keys[start:end]); err != nil {
			return fmt.Errorf("delete stale rows: %w", err)
		}
		slog.Info("deleted stale rows", "stations", end)
	}
	return nil
}

// streamInsert is the second pass: buffer records for marked stations and
// commit every InsertBatch stations, checkpointing after each batch.
func (imp *Importer) streamInsert(ctx context.Context, path string, marked map[string]markedStation,
	resumeFrom int, resumed bool, cp *model.ImportCheckpoint, opts Options) error {

	var batch []model.StationUpdate
	var summary engine.FlushSummary
	processed := 0
	applied := make(map[string]bool, len(marked))

	flushBatch := func() error {
		if len(batch) > 0 {
			var err error
			if resumed {
				_, err = imp.Store.ReplaceCommodities(ctx, batch)
			} else {
				err = imp.Store.InsertCommodities(ctx, batch)
			}
			if err != nil {
				return fmt.Errorf("insert batch: %w", err)
			}
			batch = batch[:0]
		}
		cp.ProcessedEntries = processed
		metrics.ImportProgress.Set(float64(processed))
		return SaveCheckpoint(imp.CheckpointPath, cp)
	}

	err := forEachEntry(path, func(e *dumpEntry) error {
		processed++
		if processed <= resumeFrom {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		k := store.DirectoryKey(e.SystemName, e.StationName)
		m, ok := marked[k]
		if !ok || applied[k] || !e.Timestamp.Equal(m.newest) {
			return nil // unmarked station, duplicate, or superseded entry
		}
		applied[k] = true

		update := model.StationUpdate{Key: m.key, UpdateTime: e.Timestamp.UTC()}
		incoming := make(map[string]model.Commodity, len(e.Commodities))
		for _, c := range e.Commodities {
			update.Rows = append(update.Rows, model.StationCommodity{
				SystemID:      m.key.SystemID,
				StationID:     m.key.StationID,
				CommodityName: c.Name,
				SellPrice:     c.SellPrice,
				Demand:        c.Demand,
			})
			incoming[c.Name] = model.Commodity{Name: c.Name, SellPrice: c.SellPrice, Demand: c.Demand}
		}

		if !opts.Fast {
			// Per-record diff accounting for the run report only.
			existing, err := imp.Store.GetStationCommodities(ctx, m.key)
			if err == nil {
				diffEntry(&summary, existing, incoming)
			}
		}
		summary.Stations++
		batch = append(batch, update)

		if len(batch) >= imp.InsertBatch {
			return flushBatch()
		}
		return nil
	})
	if err != nil {
		// Persist whatever progress the last committed batch reached.
		if serr := SaveCheckpoint(imp.CheckpointPath, cp); serr != nil {
			slog.Error("checkpoint write failed", "err", serr)
		}
		return err
	}

	if err := flushBatch(); err != nil {
		return err
	}

	cp.Completed = true
	cp.LastUpdate = time.Now().UTC()
	cp.Error = ""
	if err := SaveCheckpoint(imp.CheckpointPath, cp); err != nil {
		return err
	}

	slog.Info("import complete",
		"entries", processed,
		"stations", summary.Stations,
		"added", summary.Added,
		"updated", summary.Updated,
		"deleted", summary.Deleted)
	return nil
}

func diffEntry(sum *engine.FlushSummary, existing, incoming map[string]model.Commodity) {
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

// forEachEntry streams the JSON-lines file. A malformed line fails only
// itself.
func forEachEntry(path string, fn func(*dumpEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1<<20), 16<<20) // station entries can be large
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e dumpEntry
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("skipping malformed snapshot line", "err", err)
			continue
		}
		if err := fn(&e); err != nil {
			return err
		}
	}
	return sc.Err()
}
