package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// ArbitrageRecord is one persisted snapshot of an arbitrage context. A new
// record is appended at every state transition; Payload carries the whole
// context as JSON.
type ArbitrageRecord struct {
	ID         int64           `json:"id"`
	ContextID  string          `json:"context_id"`
	Pair       string          `json:"pair"`
	Buyer      string          `json:"buyer"`
	Seller     string          `json:"seller"`
	State      string          `json:"state"`
	Error      string          `json:"error,omitempty"`
	DryRun     bool            `json:"dry_run"`
	Profit     decimal.Decimal `json:"profit"`
	ProfitPct  decimal.Decimal `json:"profit_pct"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// ArbitrageRecorder persists arbitrage transitions. Reset wipes all records
// and is meant for test environments.
type ArbitrageRecorder interface {
	Append(ctx context.Context, rec ArbitrageRecord) error
	Reset(ctx context.Context) error
	ListRecent(ctx context.Context, opts ListOpts) ([]ArbitrageRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
