// Package memory provides in-process stores used when no database is
// configured. Contents are lost on restart.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// defaultLimit matches the Postgres stores.
const defaultLimit = 100

// ArbitrageStore keeps arbitrage records in append order.
type ArbitrageStore struct {
	mu      sync.RWMutex
	records []domain.ArbitrageRecord
	nextID  int64
	now     func() time.Time
}

func NewArbitrageStore() *ArbitrageStore {
	return &ArbitrageStore{now: time.Now}
}

func (s *ArbitrageStore) Append(_ context.Context, rec domain.ArbitrageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = s.now().UTC()
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *ArbitrageStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.nextID = 0
	return nil
}

// ListRecent returns records newest first.
func (s *ArbitrageStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.ArbitrageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.records, opts, func(r domain.ArbitrageRecord) time.Time { return r.RecordedAt }), nil
}

// AuditStore keeps audit entries in append order.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	nextID  int64
	now     func() time.Time
}

func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.entries, opts, func(e domain.AuditEntry) time.Time { return e.CreatedAt }), nil
}

func newestFirst[T any](items []T, opts domain.ListOpts, at func(T) time.Time) []T {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	out := make([]T, 0, min(limit, len(items)))
	skipped := 0
	for i := len(items) - 1; i >= 0 && len(out) < limit; i-- {
		if opts.Since != nil && at(items[i]).Before(*opts.Since) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, items[i])
	}
	return out
}

var (
	_ domain.ArbitrageRecorder = (*ArbitrageStore)(nil)
	_ domain.AuditStore        = (*AuditStore)(nil)
)
