package arbitrage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// LocalLock is an in-process domain.LockManager for deployments without
// Redis. It serialises commits within one process only.
type LocalLock struct {
	mu    sync.Mutex
	held  map[string]localHold
	seq   uint64
	clock func() time.Time
}

type localHold struct {
	token   uint64
	expires time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]localHold), clock: time.Now}
}

// Acquire takes key for ttl, or until unlock when ttl is not positive. It
// returns domain.ErrLockHeld while another holder's lease is live. The
// returned unlock is idempotent and never releases a later holder's lease.
func (l *LocalLock) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if h, ok := l.held[key]; ok && (h.expires.IsZero() || now.Before(h.expires)) {
		return nil, fmt.Errorf("arbitrage: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	l.seq++
	hold := localHold{token: l.seq}
	if ttl > 0 {
		hold.expires = now.Add(ttl)
	}
	l.held[key] = hold

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if h, ok := l.held[key]; ok && h.token == hold.token {
				delete(l.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LocalLock)(nil)
