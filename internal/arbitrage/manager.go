package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
)

// Manager defaults.
const (
	DefaultTickInterval = time.Second
	DefaultQuiescence   = 20 * time.Second
	DefaultLockTTL      = 2 * time.Minute
)

// Runner runs a context through the saga.
type Runner interface {
	Run(ctx context.Context, ac *Context) error
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Runner     Runner
	Pair       domain.AssetPair
	Buyer      string
	Seller     string
	Chunk      money.PriceValue
	Policy     Policy
	AutoCommit bool
	Interval   time.Duration
	Quiescence time.Duration
	// Lock serialises commits across processes. Optional.
	Lock    domain.LockManager
	LockTTL time.Duration
	Logger  *slog.Logger
}

// ManagerStatus is a snapshot for the API.
type ManagerStatus struct {
	Paused       bool      `json:"paused"`
	AutoCommit   bool      `json:"auto_commit"`
	LastAction   time.Time `json:"last_action"`
	LastDecision *Decision `json:"last_decision,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Manager periodically dry-runs the saga for a fixed quote chunk and, when
// the policy accepts and auto-commit is on, resumes the same context to
// completion.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	paused       bool
	lastAction   time.Time
	lastDecision *Decision
	lastError    string
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickInterval
	}
	if cfg.Quiescence <= 0 {
		cfg.Quiescence = DefaultQuiescence
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger.With(slog.String("component", "arbitrage_manager")),
		now:    time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "arbitrage manager started",
		slog.String("pair", m.cfg.Pair.Key()),
		slog.String("chunk", m.cfg.Chunk.String()),
		slog.Bool("auto_commit", m.cfg.AutoCommit),
	)
	defer m.logger.Info("arbitrage manager stopped")

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// Pause stops further ticks from acting.
func (m *Manager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
	m.logger.Info("arbitrage manager paused")
}

// Resume lets ticks act again.
func (m *Manager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
	m.logger.Info("arbitrage manager resumed")
}

// Status returns the manager state.
func (m *Manager) Status() ManagerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := ManagerStatus{
		Paused:     m.paused,
		AutoCommit: m.cfg.AutoCommit,
		LastAction: m.lastAction,
		LastError:  m.lastError,
	}
	if m.lastDecision != nil {
		d := *m.lastDecision
		st.LastDecision = &d
	}
	return st
}

func (m *Manager) due() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.paused && m.now().Sub(m.lastAction) >= m.cfg.Quiescence
}

// finish resets the quiescence timer and stores the tick outcome.
func (m *Manager) finish(d *Decision, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAction = m.now()
	if d != nil {
		m.lastDecision = d
	}
	m.lastError = ""
	if err != nil {
		m.lastError = err.Error()
	}
}

func (m *Manager) tick(ctx context.Context) {
	if !m.due() {
		return
	}

	ac := NewContext(m.cfg.Pair, m.cfg.Buyer, m.cfg.Seller, Budget{QuoteToSpend: m.cfg.Chunk})
	ac.DryRun()
	err := m.cfg.Runner.Run(ctx, ac)
	if err != nil && !errors.Is(err, ErrPolicyRejected) {
		m.logger.ErrorContext(ctx, "dry run failed",
			slog.String("context_id", ac.ID),
			slog.String("error", err.Error()),
		)
		m.finish(nil, err)
		return
	}

	decision := m.decide(ac, err)
	m.logger.InfoContext(ctx, "arbitrage decision",
		slog.String("context_id", ac.ID),
		slog.Bool("accepted", decision.Accepted),
		slog.String("reason", decision.Reason),
		slog.String("profit_pct", decision.ProfitPercentage.String()),
		slog.String("volume", decision.Volume.String()),
	)
	if !decision.Accepted || !m.cfg.AutoCommit {
		m.finish(&decision, nil)
		return
	}

	err = m.commit(ctx, ac)
	if err != nil {
		m.logger.ErrorContext(ctx, "commit failed",
			slog.String("context_id", ac.ID),
			slog.String("state", string(ac.State)),
			slog.String("error", err.Error()),
		)
	}
	m.finish(&decision, err)
}

func (m *Manager) decide(ac *Context, runErr error) Decision {
	if runErr != nil || ac.Calculation == nil {
		d := Decision{ContextID: ac.ID, Volume: ac.BuyVolume, DecidedAt: m.now().UTC()}
		if ac.Calculation != nil {
			d.ProfitPercentage = ac.Calculation.ProfitPercentage
		}
		d.Reason = "no calculation"
		if runErr != nil {
			d.Reason = runErr.Error()
		}
		return d
	}
	d := m.cfg.Policy.Evaluate(*ac.Calculation, ac.BuyVolume)
	d.ContextID = ac.ID
	return d
}

// CommitLockKey is the lock both the manager and manual runs take before
// placing orders on pair.
func CommitLockKey(pair domain.AssetPair) string {
	return "commit:" + pair.Key()
}

func (m *Manager) commit(ctx context.Context, ac *Context) error {
	if m.cfg.Lock != nil {
		unlock, err := m.cfg.Lock.Acquire(ctx, CommitLockKey(m.cfg.Pair), m.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("arbitrage: commit lock: %w", err)
		}
		defer unlock()
	}
	ac.Resume()
	return m.cfg.Runner.Run(ctx, ac)
}
