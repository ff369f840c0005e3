package engine

import (
	"bytes"
	"compress/zlib"
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/galnet/marketsync/internal/feed"
	"github.com/galnet/marketsync/internal/model"
	"github.com/galnet/marketsync/internal/store"
)

// scriptedSource replays canned frames, then cancels the run context so
// Run performs its final flush and returns.
type scriptedSource struct {
	mu     sync.Mutex
	frames [][]byte
	cancel context.CancelFunc
}

func (s *scriptedSource) Next(_ context.Context, _ time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		if s.cancel != nil {
			s.cancel()
		}
		return nil, feed.ErrTimeout
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *scriptedSource) Close() error { return nil }

func compress(t *testing.T, payload string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(payload)); err != nil {
		t.Fatalf("compress: %v", err)
	}
	zw.Close()
	return buf.Bytes()
}

func commodityPayload(station string, price int64) string {
	return `{"$schemaRef": "https://feed.galnet.dev/schemas/commodity/3",
		"message": {"systemName": "Lembava", "stationName": "` + station + `",
			"stationType": "Coriolis", "timestamp": "2026-08-27T12:00:00Z",
			"commodities": [{"name": "Gold", "sellPrice": ` + strconv.FormatInt(price, 10) + `, "demand": 5}]}}`
}

func TestRoute_CarrierExcluded(t *testing.T) {
	r := NewRunner(&scriptedSource{}, store.NewMemoryStore(), time.Second)

	carrier := `{"$schemaRef": "x/commodity/3",
		"message": {"systemName": "Lembava", "stationName": "X7F-22B",
			"stationType": "FleetCarrier", "timestamp": "2026-08-27T12:00:00Z",
			"commodities": [{"name": "Gold", "sellPrice": 1, "demand": 1}]}}`
	r.route(compress(t, carrier))
	if r.Commodities.Len() != 0 {
		t.Error("carrier snapshot must never be buffered")
	}

	r.route(compress(t, commodityPayload("Goldstein Port", 9000)))
	if r.Commodities.Len() != 1 {
		t.Errorf("station snapshot not buffered, len = %d", r.Commodities.Len())
	}
}

func TestRoute_BadFrameFailsAlone(t *testing.T) {
	r := NewRunner(&scriptedSource{}, store.NewMemoryStore(), time.Second)

	r.route([]byte("garbage"))
	r.route(compress(t, commodityPayload("Goldstein Port", 9000)))
	if r.Commodities.Len() != 1 {
		t.Error("a bad frame must not poison later frames")
	}
}

func TestRoute_AmbiguousPowerDropped(t *testing.T) {
	r := NewRunner(&scriptedSource{}, store.NewMemoryStore(), time.Second)

	multi := `{"$schemaRef": "x/journal/1",
		"message": {"event": "FSDJump", "StarSystem": "Lembava",
			"Powers": ["A", "B"], "timestamp": "2026-08-27T12:00:00Z"}}`
	r.route(compress(t, multi))
	if r.Powers.Len() != 0 {
		t.Error("multi-power declaration must be dropped")
	}
}

func TestRun_FinalFlushPersistsBufferedData(t *testing.T) {
	ms := store.NewMemoryStore()
	ms.SeedSystem(100, "Lembava", "", "")
	key := ms.SeedStation(100, 7, "Lembava", "Goldstein Port", "Coriolis", time.Time{})

	src := &scriptedSource{frames: [][]byte{
		compress(t, commodityPayload("Goldstein Port", 9000)),
	}}

	// Long interval so nothing flushes until shutdown.
	r := NewRunner(src, ms, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	src.cancel = cancel

	if err := r.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	rows, _ := ms.GetStationCommodities(context.Background(), key)
	if rows["Gold"].SellPrice != 9000 {
		t.Errorf("final flush did not persist buffered data: %v", rows)
	}
}

func TestRun_AnnouncesHeartbeats(t *testing.T) {
	ms := store.NewMemoryStore()

	var mu sync.Mutex
	var seen []model.StatusRecord

	src := &scriptedSource{}
	r := NewRunner(src, ms, time.Hour)
	r.Announce = func(rec model.StatusRecord) {
		mu.Lock()
		seen = append(seen, rec)
		mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	src.cancel = cancel

	if err := r.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("no heartbeats announced")
	}
	if seen[0].State != model.StateConnecting {
		t.Errorf("first announcement state = %q, want connecting", seen[0].State)
	}
}
