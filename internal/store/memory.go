package store

import (
	"context"
	"sync"
	"time"

	"github.com/galnet/marketsync/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	systems     map[string]*model.System // keyed by lower-cased name
	stations    map[model.StationKey]*model.Station
	byName      map[string]model.StationKey // DirectoryKey → identity
	commodities map[model.StationKey]map[string]model.Commodity

	// ReplaceErr, when set, fails the next write call and is then cleared.
	// Lets tests exercise the buffer-retained-on-error path.
	ReplaceErr error
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		systems:     make(map[string]*model.System),
		stations:    make(map[model.StationKey]*model.Station),
		byName:      make(map[string]model.StationKey),
		commodities: make(map[model.StationKey]map[string]model.Commodity),
	}
}

// SeedSystem adds a system row. Test helper; the real schema is created
// by migration tooling.
func (s *MemoryStore) SeedSystem(id int64, name, power, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systems[DirectoryKey(name, "")] = &model.System{
		ID: id, Name: name, ControllingPower: power, PowerState: state,
	}
}

// SeedStation adds a station row under a previously seeded system.
func (s *MemoryStore) SeedStation(systemID, stationID int64, systemName, stationName, stationType string, updateTime time.Time) model.StationKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.StationKey{SystemID: systemID, StationID: stationID}
	s.stations[key] = &model.Station{
		SystemID: systemID, StationID: stationID,
		Name: stationName, Type: stationType, UpdateTime: updateTime,
	}
	s.byName[DirectoryKey(systemName, stationName)] = key
	return key
}

// Station returns the stored station row, for test assertions.
func (s *MemoryStore) Station(key model.StationKey) (model.Station, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[key]
	if !ok {
		return model.Station{}, false
	}
	return *st, true
}

func (s *MemoryStore) takeErr() error {
	err := s.ReplaceErr
	s.ReplaceErr = nil
	return err
}

func (s *MemoryStore) ResolveStation(_ context.Context, systemName, stationName string) (model.StationKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.byName[DirectoryKey(systemName, stationName)]
	if !ok {
		return model.StationKey{}, ErrStationUnknown
	}
	return key, nil
}

func (s *MemoryStore) StationDirectory(_ context.Context) (map[string]model.StationInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := make(map[string]model.StationInfo, len(s.byName))
	for name, key := range s.byName {
		dir[name] = model.StationInfo{Key: key, UpdateTime: s.stations[key].UpdateTime}
	}
	return dir, nil
}

func (s *MemoryStore) GetStationCommodities(_ context.Context, key model.StationKey) (map[string]model.Commodity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.Commodity, len(s.commodities[key]))
	for name, c := range s.commodities[key] {
		out[name] = c
	}
	return out, nil
}

func (s *MemoryStore) ReplaceCommodities(_ context.Context, updates []model.StationUpdate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeErr(); err != nil {
		return 0, err
	}

	written := 0
	for _, u := range updates {
		rows := make(map[string]model.Commodity, len(u.Rows))
		for _, r := range u.Rows {
			rows[r.CommodityName] = model.Commodity{
				Name: r.CommodityName, SellPrice: r.SellPrice, Demand: r.Demand,
			}
			written++
		}
		s.commodities[u.Key] = rows
		if st, ok := s.stations[u.Key]; ok {
			st.UpdateTime = u.UpdateTime
		}
	}
	return written, nil
}

func (s *MemoryStore) DeleteCommodities(_ context.Context, keys []model.StationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeErr(); err != nil {
		return err
	}
	for _, k := range keys {
		delete(s.commodities, k)
	}
	return nil
}

func (s *MemoryStore) InsertCommodities(_ context.Context, updates []model.StationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeErr(); err != nil {
		return err
	}
	for _, u := range updates {
		rows := s.commodities[u.Key]
		if rows == nil {
			rows = make(map[string]model.Commodity, len(u.Rows))
			s.commodities[u.Key] = rows
		}
		for _, r := range u.Rows {
			rows[r.CommodityName] = model.Commodity{
				Name: r.CommodityName, SellPrice: r.SellPrice, Demand: r.Demand,
			}
		}
		if st, ok := s.stations[u.Key]; ok {
			st.UpdateTime = u.UpdateTime
		}
	}
	return nil
}

func (s *MemoryStore) GetSystemPower(_ context.Context, systemName string) (string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sys, ok := s.systems[DirectoryKey(systemName, "")]
	if !ok {
		return "", "", ErrSystemUnknown
	}
	return sys.ControllingPower, sys.PowerState, nil
}

func (s *MemoryStore) UpdateSystemPowers(_ context.Context, decls []model.PowerDeclaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeErr(); err != nil {
		return err
	}
	for _, d := range decls {
		sys, ok := s.systems[DirectoryKey(d.SystemName, "")]
		if !ok {
			continue
		}
		sys.ControllingPower = d.Power
		sys.PowerState = d.PowerState
	}
	return nil
}
