package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/galnet/marketsync/internal/model"
	"github.com/galnet/marketsync/internal/store"
)

func seedLembava(t *testing.T) (*store.MemoryStore, model.StationKey) {
	t.Helper()
	ms := store.NewMemoryStore()
	ms.SeedSystem(100, "Lembava", "", "")
	key := ms.SeedStation(100, 7, "Lembava", "Goldstein Port", "Coriolis",
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	return ms, key
}

func snapshot(ts time.Time, commodities ...model.Commodity) *model.CommoditySnapshot {
	snap := &model.CommoditySnapshot{
		SystemName:  "Lembava",
		StationName: "Goldstein Port",
		StationType: "Coriolis",
		Timestamp:   ts,
		Commodities: make(map[string]model.Commodity, len(commodities)),
	}
	for _, c := range commodities {
		snap.Commodities[c.Name] = c
	}
	return snap
}

func TestFlush_WritesSnapshotAndUpdateTime(t *testing.T) {
	ms, key := seedLembava(t)
	ts := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

	buf := NewCommodityBuffer()
	buf.Accept(snapshot(ts, model.Commodity{Name: "Gold", SellPrice: 9000, Demand: 5}))

	stats, err := buf.Flush(context.Background(), ms, AutoCommit{})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if stats.StationsUpdated != 1 || stats.CommoditiesWritten != 1 {
		t.Errorf("stats = %+v, want 1 station / 1 commodity", stats)
	}

	rows, _ := ms.GetStationCommodities(context.Background(), key)
	gold, ok := rows["Gold"]
	if !ok || gold.SellPrice != 9000 || gold.Demand != 5 {
		t.Errorf("persisted gold = %+v", rows)
	}

	st, _ := ms.Station(key)
	if !st.UpdateTime.Equal(ts) {
		t.Errorf("station update time = %v, want message timestamp %v", st.UpdateTime, ts)
	}
}

func TestFlush_ReplacesWholeRowSet(t *testing.T) {
	ms, key := seedLembava(t)
	ctx := context.Background()

	buf := NewCommodityBuffer()
	buf.Accept(snapshot(time.Now().UTC(), model.Commodity{Name: "Gold", SellPrice: 9000, Demand: 5}))
	if _, err := buf.Flush(ctx, ms, AutoCommit{}); err != nil {
		t.Fatalf("first flush: %v", err)
	}

	// Next snapshot has no Gold; the stale row must disappear.
	buf.Accept(snapshot(time.Now().UTC(),
		model.Commodity{Name: "Silver", SellPrice: 4000, Demand: 2},
		model.Commodity{Name: "Bertrandite", SellPrice: 2500, Demand: 90}))
	if _, err := buf.Flush(ctx, ms, AutoCommit{}); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	rows, _ := ms.GetStationCommodities(ctx, key)
	if len(rows) != 2 {
		t.Fatalf("expected exactly the replacement set, got %v", rows)
	}
	if _, ok := rows["Gold"]; ok {
		t.Error("stale Gold row survived a whole-set replace")
	}
	if rows["Silver"].SellPrice != 4000 || rows["Bertrandite"].Demand != 90 {
		t.Errorf("replacement rows wrong: %v", rows)
	}
}

func TestFlush_LastMessageWins(t *testing.T) {
	ms, key := seedLembava(t)

	buf := NewCommodityBuffer()
	buf.Accept(snapshot(time.Now().UTC(), model.Commodity{Name: "Gold", SellPrice: 1000, Demand: 1}))
	buf.Accept(snapshot(time.Now().UTC(), model.Commodity{Name: "Gold", SellPrice: 9999, Demand: 3}))

	if buf.Len() != 1 {
		t.Fatalf("buffer should hold one station, got %d", buf.Len())
	}
	if _, err := buf.Flush(context.Background(), ms, AutoCommit{}); err != nil {
		t.Fatalf("flush: %v", err)
	}
	rows, _ := ms.GetStationCommodities(context.Background(), key)
	if rows["Gold"].SellPrice != 9999 {
		t.Errorf("earlier buffered message won: %+v", rows["Gold"])
	}
}

func TestFlush_EmptyBufferIsNoop(t *testing.T) {
	ms, _ := seedLembava(t)
	buf := NewCommodityBuffer()

	stats, err := buf.Flush(context.Background(), ms, AutoCommit{})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if stats != (FlushStats{}) {
		t.Errorf("empty flush produced stats %+v", stats)
	}
}

func TestFlush_UnknownStationSkipped(t *testing.T) {
	ms, key := seedLembava(t)
	ctx := context.Background()

	buf := NewCommodityBuffer()
	buf.Accept(snapshot(time.Now().UTC(), model.Commodity{Name: "Gold", SellPrice: 9000, Demand: 5}))
	buf.Accept(&model.CommoditySnapshot{
		SystemName:  "Nowhere",
		StationName: "Ghost Dock",
		Timestamp:   time.Now().UTC(),
		Commodities: map[string]model.Commodity{"Gold": {Name: "Gold", SellPrice: 1, Demand: 1}},
	})

	stats, err := buf.Flush(ctx, ms, AutoCommit{})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if stats.StationsUpdated != 1 {
		t.Errorf("expected only the known station written, got %+v", stats)
	}
	if rows, _ := ms.GetStationCommodities(ctx, key); len(rows) != 1 {
		t.Errorf("known station rows = %v", rows)
	}
}

func TestFlush_ErrorRetainsBuffer(t *testing.T) {
	ms, key := seedLembava(t)
	ctx := context.Background()

	buf := NewCommodityBuffer()
	buf.Accept(snapshot(time.Now().UTC(), model.Commodity{Name: "Gold", SellPrice: 9000, Demand: 5}))

	ms.ReplaceErr = errors.New("connection reset")
	if _, err := buf.Flush(ctx, ms, AutoCommit{}); err == nil {
		t.Fatal("expected flush error")
	}
	if buf.Len() != 1 {
		t.Fatalf("buffer must survive a failed flush, len = %d", buf.Len())
	}

	// Next cycle succeeds with the retained data.
	stats, err := buf.Flush(ctx, ms, AutoCommit{})
	if err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if stats.StationsUpdated != 1 {
		t.Errorf("retry stats = %+v", stats)
	}
	if rows, _ := ms.GetStationCommodities(ctx, key); rows["Gold"].SellPrice != 9000 {
		t.Errorf("retry did not persist: %v", rows)
	}
}

type declineAll struct{ asked int }

func (d *declineAll) ShouldCommit(FlushSummary) bool { d.asked++; return false }

func TestFlush_DeclinedCommitClearsWithoutWriting(t *testing.T) {
	ms, key := seedLembava(t)
	ctx := context.Background()

	buf := NewCommodityBuffer()
	buf.Accept(snapshot(time.Now().UTC(), model.Commodity{Name: "Gold", SellPrice: 9000, Demand: 5}))

	policy := &declineAll{}
	stats, err := buf.Flush(ctx, ms, policy)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if policy.asked != 1 {
		t.Errorf("policy consulted %d times", policy.asked)
	}
	if stats != (FlushStats{}) {
		t.Errorf("declined flush produced stats %+v", stats)
	}
	if rows, _ := ms.GetStationCommodities(ctx, key); len(rows) != 0 {
		t.Errorf("declined flush wrote rows: %v", rows)
	}
	if buf.Len() != 0 {
		t.Error("declined flush must clear the buffer")
	}
}

func TestDiffInto(t *testing.T) {
	existing := map[string]model.Commodity{
		"Gold":   {Name: "Gold", SellPrice: 1000, Demand: 1},
		"Silver": {Name: "Silver", SellPrice: 4000, Demand: 2},
	}
	incoming := map[string]model.Commodity{
		"Gold":        {Name: "Gold", SellPrice: 9000, Demand: 5}, // updated
		"Bertrandite": {Name: "Bertrandite", SellPrice: 2500, Demand: 90}, // added
	}

	var sum FlushSummary
	diffInto(&sum, existing, incoming)
	if sum.Added != 1 || sum.Updated != 1 || sum.Deleted != 1 {
		t.Errorf("summary = %+v, want 1/1/1", sum)
	}
}
