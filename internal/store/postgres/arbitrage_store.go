package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// defaultRecentLimit caps ListRecent when the caller passes no limit.
const defaultRecentLimit = 100

// ArbitrageStore implements domain.ArbitrageRecorder. Every state
// transition of every saga is one row.
type ArbitrageStore struct {
	pool *pgxpool.Pool
}

func NewArbitrageStore(pool *pgxpool.Pool) *ArbitrageStore {
	return &ArbitrageStore{pool: pool}
}

const arbitrageCols = `id, context_id, pair, buyer, seller, state, error,
	dry_run, profit, profit_pct, payload, recorded_at`

// Append inserts rec; ID is assigned by the database.
func (s *ArbitrageStore) Append(ctx context.Context, rec domain.ArbitrageRecord) error {
	const query = `
		INSERT INTO arbitrage_records (
			context_id, pair, buyer, seller, state, error,
			dry_run, profit, profit_pct, payload, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		rec.ContextID, rec.Pair, rec.Buyer, rec.Seller, rec.State, rec.Error,
		rec.DryRun, rec.Profit, rec.ProfitPct, []byte(rec.Payload), rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append arbitrage %s/%s: %w", rec.ContextID, rec.State, err)
	}
	return nil
}

// Reset deletes every record.
func (s *ArbitrageStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE arbitrage_records RESTART IDENTITY"); err != nil {
		return fmt.Errorf("postgres: reset arbitrage records: %w", err)
	}
	return nil
}

// ListRecent returns records newest first.
func (s *ArbitrageStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ArbitrageRecord, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultRecentLimit
	}
	query, args := newListQuery("SELECT "+arbitrageCols+" FROM arbitrage_records").
		apply(opts, "recorded_at", "recorded_at DESC, id DESC")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arbitrage records: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanArbitrageRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan arbitrage records: %w", err)
	}
	return recs, nil
}

func scanArbitrageRecord(row pgx.CollectableRow) (domain.ArbitrageRecord, error) {
	var (
		r       domain.ArbitrageRecord
		payload []byte
	)
	err := row.Scan(
		&r.ID, &r.ContextID, &r.Pair, &r.Buyer, &r.Seller, &r.State, &r.Error,
		&r.DryRun, &r.Profit, &r.ProfitPct, &payload, &r.RecordedAt,
	)
	r.Payload = payload
	return r, err
}

var _ domain.ArbitrageRecorder = (*ArbitrageStore)(nil)
