package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/galnet/marketsync/internal/model"
)

func TestDirectoryKey(t *testing.T) {
	if DirectoryKey("Lembava", "Goldstein Port") != "lembava/goldstein port" {
		t.Errorf("key = %q", DirectoryKey("Lembava", "Goldstein Port"))
	}
	if DirectoryKey("LEMBAVA", "GOLDSTEIN PORT") != DirectoryKey("lembava", "goldstein port") {
		t.Error("directory keys must be case-insensitive")
	}
}

func TestResolveStation_CaseInsensitive(t *testing.T) {
	ms := NewMemoryStore()
	ms.SeedSystem(1, "Lembava", "", "")
	want := ms.SeedStation(1, 7, "Lembava", "Goldstein Port", "Coriolis", time.Time{})

	got, err := ms.ResolveStation(context.Background(), "LEMBAVA", "goldstein PORT")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != want {
		t.Errorf("key = %+v, want %+v", got, want)
	}

	if _, err := ms.ResolveStation(context.Background(), "Lembava", "Nowhere"); !errors.Is(err, ErrStationUnknown) {
		t.Errorf("expected ErrStationUnknown, got %v", err)
	}
}

func TestReplaceCommodities_AdvancesUpdateTime(t *testing.T) {
	ms := NewMemoryStore()
	ms.SeedSystem(1, "Lembava", "", "")
	key := ms.SeedStation(1, 7, "Lembava", "Goldstein Port", "Coriolis", time.Time{})

	ts := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	written, err := ms.ReplaceCommodities(context.Background(), []model.StationUpdate{{
		Key: key, UpdateTime: ts,
		Rows: []model.StationCommodity{
			{SystemID: 1, StationID: 7, CommodityName: "Gold", SellPrice: 9000, Demand: 5},
			{SystemID: 1, StationID: 7, CommodityName: "Silver", SellPrice: 4000, Demand: 2},
		},
	}})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if written != 2 {
		t.Errorf("written = %d", written)
	}

	st, ok := ms.Station(key)
	if !ok || !st.UpdateTime.Equal(ts) {
		t.Errorf("update time = %v, want %v", st.UpdateTime, ts)
	}
}

func TestStationDirectory(t *testing.T) {
	ms := NewMemoryStore()
	ms.SeedSystem(1, "Lembava", "", "")
	key := ms.SeedStation(1, 7, "Lembava", "Goldstein Port", "Coriolis",
		time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))

	dir, err := ms.StationDirectory(context.Background())
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	info, ok := dir[DirectoryKey("Lembava", "Goldstein Port")]
	if !ok {
		t.Fatalf("station missing from directory: %v", dir)
	}
	if info.Key != key || info.UpdateTime.IsZero() {
		t.Errorf("info = %+v", info)
	}
}

func TestGetSystemPower(t *testing.T) {
	ms := NewMemoryStore()
	ms.SeedSystem(1, "Lembava", "Li Yong-Rui", "Controlled")

	power, state, err := ms.GetSystemPower(context.Background(), "lembava")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if power != "Li Yong-Rui" || state != "Controlled" {
		t.Errorf("power = %s/%s", power, state)
	}

	if _, _, err := ms.GetSystemPower(context.Background(), "Nowhere"); !errors.Is(err, ErrSystemUnknown) {
		t.Errorf("expected ErrSystemUnknown, got %v", err)
	}
}
