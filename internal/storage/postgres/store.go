package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liquidityTiers/internal/model"
	"liquidityTiers/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS pool_tier_history (
	cycle_id       TEXT        NOT NULL,
	pool_id        TEXT        NOT NULL,
	cycled_at      TIMESTAMPTZ NOT NULL,
	tier           TEXT        NOT NULL,
	tvl            DOUBLE PRECISION NOT NULL,
	total_accounts BIGINT      NOT NULL,
	total_shares   TEXT        NOT NULL,
	last_modified  TEXT        NOT NULL,
	reserves       JSONB       NOT NULL,
	price_version  TEXT        NOT NULL,
	error          TEXT        NOT NULL DEFAULT '',
	PRIMARY KEY (cycle_id, pool_id)
);
CREATE INDEX IF NOT EXISTS pool_tier_history_pool_idx ON pool_tier_history (pool_id, cycled_at DESC);
CREATE TABLE IF NOT EXISTS monitor_state (
	name         TEXT PRIMARY KEY,
	cycle_id     TEXT        NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	tier1        INTEGER     NOT NULL,
	tier2        INTEGER     NOT NULL,
	tier3        INTEGER     NOT NULL,
	total        INTEGER     NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
`

// Store provides Postgres persistence for cycle history and monitor state.
type Store struct {
	pool      *pgxpool.Pool
	batchSize int
}

var _ storage.Archive = (*Store)(nil)

func NewStore(ctx context.Context, dsn string, batchSize int) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, batchSize: batchSize}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the history and state tables if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PutCycle archives a cycle into pool_tier_history.
func (s *Store) PutCycle(ctx context.Context, cycleID string, at time.Time, classifications []model.Classification) error {
	return s.InsertClassifications(ctx, storage.HistoryRows(cycleID, at, classifications))
}

// InsertClassifications writes history rows in batches. Re-inserting a
// cycle overwrites its rows.
func (s *Store) InsertClassifications(ctx context.Context, rows []storage.HistoryRow) error {
	for _, span := range batchSpans(len(rows), s.batchSize) {
		if err := s.insertBatch(ctx, rows[span[0]:span[1]]); err != nil {
			return err
		}
	}
	return nil
}

// batchSpans splits n rows into [start, end) ranges of at most size rows.
func batchSpans(n, size int) [][2]int {
	if n <= 0 || size <= 0 {
		return nil
	}
	spans := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		spans = append(spans, [2]int{start, end})
	}
	return spans
}

func (s *Store) insertBatch(ctx context.Context, rows []storage.HistoryRow) error {
	batch := &pgx.Batch{}
	for _, row := range rows {
		reserves := row.Reserves
		if reserves == nil {
			reserves = []model.Reserve{}
		}
		batch.Queue(`
			INSERT INTO pool_tier_history (
				cycle_id, pool_id, cycled_at, tier, tvl, total_accounts, total_shares,
				last_modified, reserves, price_version, error
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (cycle_id, pool_id)
			DO UPDATE SET
				cycled_at = EXCLUDED.cycled_at,
				tier = EXCLUDED.tier,
				tvl = EXCLUDED.tvl,
				total_accounts = EXCLUDED.total_accounts,
				total_shares = EXCLUDED.total_shares,
				last_modified = EXCLUDED.last_modified,
				reserves = EXCLUDED.reserves,
				price_version = EXCLUDED.price_version,
				error = EXCLUDED.error
		`,
			row.CycleID,
			row.PoolID,
			row.CycledAt,
			string(row.Tier),
			row.TVL,
			int64(row.TotalAccounts),
			row.TotalShares,
			row.LastModified,
			reserves,
			row.PriceVersion,
			row.Error,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert pool_tier_history: %w", err)
		}
	}
	return nil
}

// LoadState returns the last successful cycle recorded under name.
func (s *Store) LoadState(ctx context.Context, name string) (model.CycleState, bool, error) {
	if name == "" {
		return model.CycleState{}, false, fmt.Errorf("state name required")
	}
	var (
		state                      model.CycleState
		tier1, tier2, tier3, total int32
	)
	row := s.pool.QueryRow(ctx, `
		SELECT cycle_id, completed_at, tier1, tier2, tier3, total
		FROM monitor_state WHERE name=$1
	`, name)
	if err := row.Scan(&state.CycleID, &state.CompletedAt, &tier1, &tier2, &tier3, &total); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CycleState{}, false, nil
		}
		return model.CycleState{}, false, err
	}
	state.Aggregate = model.TierAggregate{
		Tier1:      int(tier1),
		Tier2:      int(tier2),
		Tier3:      int(tier3),
		Total:      int(total),
		LastUpdate: state.CompletedAt,
	}
	return state, true, nil
}

// SaveState upserts the last successful cycle under name.
func (s *Store) SaveState(ctx context.Context, name string, state model.CycleState) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	agg := state.Aggregate
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitor_state (name, cycle_id, completed_at, tier1, tier2, tier3, total, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (name) DO UPDATE
		SET cycle_id = EXCLUDED.cycle_id,
			completed_at = EXCLUDED.completed_at,
			tier1 = EXCLUDED.tier1,
			tier2 = EXCLUDED.tier2,
			tier3 = EXCLUDED.tier3,
			total = EXCLUDED.total,
			updated_at = now()
	`, name, state.CycleID, state.CompletedAt, agg.Tier1, agg.Tier2, agg.Tier3, agg.Total)
	return err
}
