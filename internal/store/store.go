// Package store defines the persistence interface for marketsync.
// Implementations include PostgreSQL (source of truth) and in-memory
// (for testing). The schema is pre-existing; the store only reads and
// writes rows of the systems, stations, and station_commodities tables.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/galnet/marketsync/internal/model"
)

// ErrStationUnknown is returned when a message references a station the
// persisted dataset has never seen. The caller drops the message's effect;
// stations are never invented.
var ErrStationUnknown = errors.New("station not found")

// ErrSystemUnknown is the system-level counterpart of ErrStationUnknown.
var ErrSystemUnknown = errors.New("system not found")

// Store is the persistence interface. All multi-row write operations are
// transactional: either every row in the call lands or none do.
type Store interface {
	// --- Identity resolution ---

	// ResolveStation maps a (system name, station name) pair to its
	// persisted identity. Matching is case-insensitive. Returns
	// ErrStationUnknown if no such station exists.
	ResolveStation(ctx context.Context, systemName, stationName string) (model.StationKey, error)

	// StationDirectory returns identity and last update time for every
	// persisted station, keyed by the lower-cased "system/station" name
	// pair. Used by the batch importer to resolve and compare a whole
	// dump in one read.
	StationDirectory(ctx context.Context) (map[string]model.StationInfo, error)

	// --- Commodities ---

	// GetStationCommodities returns the persisted commodity rows for one
	// station, keyed by commodity name.
	GetStationCommodities(ctx context.Context, key model.StationKey) (map[string]model.Commodity, error)

	// ReplaceCommodities deletes and reinserts the full commodity row set
	// for each station in updates, and sets each station's update time,
	// all in one transaction. Returns the number of rows written.
	ReplaceCommodities(ctx context.Context, updates []model.StationUpdate) (int, error)

	// DeleteCommodities bulk-deletes all commodity rows for the given
	// stations in one transaction.
	DeleteCommodities(ctx context.Context, keys []model.StationKey) error

	// InsertCommodities bulk-inserts commodity rows and sets station
	// update times in one transaction. Unlike ReplaceCommodities it does
	// not delete first; callers pair it with DeleteCommodities.
	InsertCommodities(ctx context.Context, updates []model.StationUpdate) error

	// --- Power declarations ---

	// GetSystemPower returns the stored controlling power and power state
	// for a system. Returns ErrSystemUnknown if the system does not exist.
	GetSystemPower(ctx context.Context, systemName string) (power, state string, err error)

	// UpdateSystemPowers writes the given declarations in one transaction.
	// Callers pass only declarations that differ from the stored values.
	UpdateSystemPowers(ctx context.Context, decls []model.PowerDeclaration) error
}

// DirectoryKey builds the lower-cased lookup key used by StationDirectory.
func DirectoryKey(systemName, stationName string) string {
	return strings.ToLower(systemName) + "/" + strings.ToLower(stationName)
}
