// Package model defines the core domain types shared across marketsync:
// station identity, ephemeral commodity snapshots, power declarations,
// the status record fanned out to downstream consumers, and the batch
// import checkpoint.
package model

import "time"

// StationKey is the persisted composite identity of one trading post.
type StationKey struct {
	SystemID  int64
	StationID int64
}

// Commodity is one commodity listing at a station: what the station pays
// for it and how much it wants.
type Commodity struct {
	Name      string `json:"name"`
	SellPrice int64  `json:"sellPrice"`
	Demand    int64  `json:"demand"`
}

// CommoditySnapshot is the complete commodity state for one station as
// carried by a single firehose message. The last message for a station
// wins within a buffering window; snapshots never outlive a flush.
type CommoditySnapshot struct {
	SystemName  string
	StationName string
	StationType string
	Timestamp   time.Time
	Commodities map[string]Commodity // keyed by commodity name
}

// StationCommodity is one persisted row of the station_commodities table.
type StationCommodity struct {
	SystemID      int64
	StationID     int64
	CommodityName string
	SellPrice     int64
	Demand        int64
}

// StationUpdate is the wholesale replacement of one station's persisted
// commodity rows, applied together with the station's new update time.
type StationUpdate struct {
	Key        StationKey
	Rows       []StationCommodity
	UpdateTime time.Time
}

// PowerDeclaration records which power controls a system and in what state.
// Buffered per system; written only when it differs from the stored value.
type PowerDeclaration struct {
	SystemName string
	Power      string
	PowerState string
}

// System mirrors the systems table.
type System struct {
	ID               int64
	Name             string
	X, Y, Z          float64
	ControllingPower string
	PowerState       string
}

// Station mirrors the stations table.
type Station struct {
	SystemID       int64
	StationID      int64
	Name           string
	Type           string
	LandingPadSize string
	UpdateTime     time.Time
}

// StationInfo is the directory entry the batch importer uses to map a
// station's name pair to its identity and last persisted update time.
type StationInfo struct {
	Key        StationKey
	UpdateTime time.Time
}

// Status states carried by StatusRecord.State.
const (
	StateStarting   = "starting"
	StateConnecting = "connecting"
	StateRunning    = "running"
	StateError      = "error"
	StateOffline    = "offline"
)

// StatusRecord is the liveness/health payload distributed over the status
// channel. Last write wins; consumers treat the most recently received
// record as current truth.
type StatusRecord struct {
	State        string    `json:"state"`
	LastDBUpdate time.Time `json:"last_db_update"`
	OwnerPID     int       `json:"owning_process_id"`
	Token        string    `json:"token,omitempty"`   // adapter self-announcement identity
	Message      string    `json:"message,omitempty"` // short error description only
	ReceivedAt   time.Time `json:"received_at,omitempty"`
}

// ImportCheckpoint is the durable progress record of a batch catch-up run.
// Written after every processed batch and in all termination paths.
type ImportCheckpoint struct {
	LastUpdate       time.Time `json:"last_update"`
	LastFile         string    `json:"last_file"`
	Completed        bool      `json:"completed"`
	ProcessedEntries int       `json:"processed_entries"`
	TotalEntries     int       `json:"total_entries"`
	Error            string    `json:"error,omitempty"`
}
