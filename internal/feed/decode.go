// Package feed connects to the firehose and turns its opaque compressed
// frames into typed messages. Classification is strict: a frame is parsed
// only after its schema reference says what shape to expect, so routing
// never depends on probing payload fields.
package feed

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/galnet/marketsync/internal/model"
)

// Kind is the classification of one decoded frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindCommodity
	KindPower
)

func (k Kind) String() string {
	switch k {
	case KindCommodity:
		return "commodity"
	case KindPower:
		return "power"
	}
	return "unknown"
}

// Decoded is the tagged result of classifying and parsing one frame.
// Exactly one of Commodity/Power is set for the matching kind; a power
// frame whose declaration was ambiguous carries Kind KindPower with a
// nil Power (counted, then dropped).
type Decoded struct {
	Kind      Kind
	Commodity *model.CommoditySnapshot
	Power     *model.PowerDeclaration
}

// envelope is the outer wrapper of every firehose frame.
type envelope struct {
	SchemaRef string          `json:"$schemaRef"`
	Message   json.RawMessage `json:"message"`
}

type commodityMessage struct {
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

type journalMessage struct {
	Event            string    `json:"event"`
	StarSystem       string    `json:"StarSystem"`
	ControllingPower string    `json:"ControllingPower"`
	Powers           []string  `json:"Powers"`
	PowerplayState   string    `json:"PowerplayState"`
	Timestamp        time.Time `json:"timestamp"`
}

// excludedStationTypes are trading posts that never produce persisted rows.
var excludedStationTypes = map[string]bool{
	"fleetcarrier":      true,
	"strongholdcarrier": true,
}

// ExcludedStationType reports whether a station type is in the carrier
// exclusion set. Matching is case-insensitive.
func ExcludedStationType(t string) bool {
	return excludedStationTypes[strings.ToLower(t)]
}

// Decode decompresses, parses, and classifies one raw frame. An error
// means only this frame is bad; the stream continues.
func Decode(frame []byte) (*Decoded, error) {
	zr, err := zlib.NewReader(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	raw, err := io.ReadAll(zr)
	zr.Close()
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}

	ref := strings.ToLower(env.SchemaRef)
	switch {
	case strings.Contains(ref, "/commodity/"):
		return decodeCommodity(env.Message)
	case strings.Contains(ref, "/journal/"):
		return decodeJournal(env.Message)
	default:
		return &Decoded{Kind: KindUnknown}, nil
	}
}

func decodeCommodity(raw json.RawMessage) (*Decoded, error) {
	var msg commodityMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("parse commodity message: %w", err)
	}
	if msg.SystemName == "" || msg.StationName == "" {
		return nil, fmt.Errorf("commodity message missing station identity")
	}

	snap := &model.CommoditySnapshot{
		SystemName:  msg.SystemName,
		StationName: msg.StationName,
		StationType: msg.StationType,
		Timestamp:   msg.Timestamp.UTC(),
		Commodities: make(map[string]model.Commodity, len(msg.Commodities)),
	}
	for _, c := range msg.Commodities {
		snap.Commodities[c.Name] = model.Commodity{
			Name: c.Name, SellPrice: c.SellPrice, Demand: c.Demand,
		}
	}
	return &Decoded{Kind: KindCommodity, Commodity: snap}, nil
}

// decodeJournal extracts a power declaration from jump/location events.
// The controlling power is accepted only when exactly one value is
// present; ambiguous multi-power lists are dropped.
func decodeJournal(raw json.RawMessage) (*Decoded, error) {
	var msg journalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("parse journal message: %w", err)
	}

	if msg.Event != "FSDJump" && msg.Event != "Location" {
		return &Decoded{Kind: KindUnknown}, nil
	}

	power := msg.ControllingPower
	if power == "" {
		if len(msg.Powers) != 1 {
			return &Decoded{Kind: KindPower}, nil
		}
		power = msg.Powers[0]
	}
	if msg.StarSystem == "" || power == "" {
		return &Decoded{Kind: KindPower}, nil
	}

	return &Decoded{
		Kind: KindPower,
		Power: &model.PowerDeclaration{
			SystemName: msg.StarSystem,
			Power:      power,
			PowerState: msg.PowerplayState,
		},
	}, nil
}
