package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/galnet/marketsync/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// The schema (systems, stations, station_commodities) is created by the
// separate migration tooling; this store assumes it exists.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) ResolveStation(ctx context.Context, systemName, stationName string) (model.StationKey, error) {
	var key model.StationKey
	err := s.pool.QueryRow(ctx,
		`SELECT st.system_id, st.station_id
		 FROM stations st
		 JOIN systems sy ON sy.id = st.system_id
		 WHERE LOWER(sy.name) = LOWER($1) AND LOWER(st.name) = LOWER($2)`,
		systemName, stationName).
		Scan(&key.SystemID, &key.StationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.StationKey{}, ErrStationUnknown
	}
	if err != nil {
		return model.StationKey{}, fmt.Errorf("resolve station %s/%s: %w", systemName, stationName, err)
	}
	return key, nil
}

func (s *PostgresStore) StationDirectory(ctx context.Context) (map[string]model.StationInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sy.name, st.name, st.system_id, st.station_id, st.update_time
		 FROM stations st
		 JOIN systems sy ON sy.id = st.system_id`)
	if err != nil {
		return nil, fmt.Errorf("station directory: %w", err)
	}
	defer rows.Close()

	dir := make(map[string]model.StationInfo)
	for rows.Next() {
		var systemName, stationName string
		var info model.StationInfo
		if err := rows.Scan(&systemName, &stationName,
			&info.Key.SystemID, &info.Key.StationID, &info.UpdateTime); err != nil {
			return nil, err
		}
		dir[DirectoryKey(systemName, stationName)] = info
	}
	return dir, rows.Err()
}

func (s *PostgresStore) GetStationCommodities(ctx context.Context, key model.StationKey) (map[string]model.Commodity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT commodity_name, sell_price, demand
		 FROM station_commodities
		 WHERE system_id = $1 AND station_id = $2`,
		key.SystemID, key.StationID)
	if err != nil {
		return nil, fmt.Errorf("get station commodities: %w", err)
	}
	defer rows.Close()

	commodities := make(map[string]model.Commodity)
	for rows.Next() {
		var c model.Commodity
		if err := rows.Scan(&c.Name, &c.SellPrice, &c.Demand); err != nil {
			return nil, err
		}
		commodities[c.Name] = c
	}
	return commodities, rows.Err()
}

// ReplaceCommodities applies every station's delete-and-reinsert in a single
// transaction. A failure anywhere rolls the whole flush back so a station's
// rows never mix data from two different messages.
func (s *PostgresStore) ReplaceCommodities(ctx context.Context, updates []model.StationUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin flush: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	written := 0
	for _, u := range updates {
		batch.Queue(
			`DELETE FROM station_commodities WHERE system_id = $1 AND station_id = $2`,
			u.Key.SystemID, u.Key.StationID)
		for _, r := range u.Rows {
			batch.Queue(
				`INSERT INTO station_commodities (system_id, station_id, commodity_name, sell_price, demand)
				 VALUES ($1, $2, $3, $4, $5)`,
				u.Key.SystemID, u.Key.StationID, r.CommodityName, r.SellPrice, r.Demand)
			written++
		}
		batch.Queue(
			`UPDATE stations SET update_time = $3 WHERE system_id = $1 AND station_id = $2`,
			u.Key.SystemID, u.Key.StationID, u.UpdateTime)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("flush batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit flush: %w", err)
	}
	return written, nil
}

func (s *PostgresStore) DeleteCommodities(ctx context.Context, keys []model.StationKey) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, k := range keys {
		batch.Queue(
			`DELETE FROM station_commodities WHERE system_id = $1 AND station_id = $2`,
			k.SystemID, k.StationID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return tx.Commit(ctx)
}

// InsertCommodities uses COPY for the row payload; update times go through
// a regular batch in the same transaction.
func (s *PostgresStore) InsertCommodities(ctx context.Context, updates []model.StationUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback(ctx)

	var copyRows [][]any
	for _, u := range updates {
		for _, r := range u.Rows {
			copyRows = append(copyRows, []any{
				u.Key.SystemID, u.Key.StationID, r.CommodityName, r.SellPrice, r.Demand,
			})
		}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"station_commodities"},
		[]string{"system_id", "station_id", "commodity_name", "sell_price", "demand"},
		pgx.CopyFromRows(copyRows)); err != nil {
		return fmt.Errorf("copy commodities: %w", err)
	}

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(
			`UPDATE stations SET update_time = $3 WHERE system_id = $1 AND station_id = $2`,
			u.Key.SystemID, u.Key.StationID, u.UpdateTime)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update times: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetSystemPower(ctx context.Context, systemName string) (string, string, error) {
	var power, state string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(controlling_power, ''), COALESCE(power_state, '')
		 FROM systems WHERE LOWER(name) = LOWER($1)`, systemName).
		Scan(&power, &state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrSystemUnknown
	}
	if err != nil {
		return "", "", fmt.Errorf("get system power %s: %w", systemName, err)
	}
	return power, state, nil
}

func (s *PostgresStore) UpdateSystemPowers(ctx context.Context, decls []model.PowerDeclaration) error {
	if len(decls) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin power update: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, d := range decls {
		batch.Queue(
			`UPDATE systems SET controlling_power = $2, power_state = $3 WHERE LOWER(name) = LOWER($1)`,
			d.SystemName, d.Power, d.PowerState)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("power batch: %w", err)
	}
	return tx.Commit(ctx)
}
