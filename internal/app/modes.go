package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbengine/internal/arbitrage"
	s3blob "github.com/alanyoungcy/arbengine/internal/blob/s3"
	"github.com/alanyoungcy/arbengine/internal/money"
	"github.com/alanyoungcy/arbengine/internal/server"
	"github.com/alanyoungcy/arbengine/internal/server/handler"
	"github.com/alanyoungcy/arbengine/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// ManagerMode runs the auto-arbitrage loop, plus the HTTP API when a server
// port is configured so operators can pause it.
func (a *App) ManagerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting manager mode")
	mgr, err := a.newManager(deps)
	if err != nil {
		return fmt.Errorf("manager mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(ctx) })
	if a.cfg.Server.Port > 0 {
		a.startHTTPServer(ctx, g, deps, mgr)
	}
	return g.Wait()
}

// ServerMode serves the HTTP API and WebSocket hub without the manager.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// StatusMode prints one status comparison as JSON and returns.
func (a *App) StatusMode(ctx context.Context, deps *Dependencies) error {
	st, err := deps.Service.GetStatus(ctx, true)
	if err != nil {
		return fmt.Errorf("status mode: %w", err)
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return fmt.Errorf("status mode: encode: %w", err)
	}
	return nil
}

func (a *App) newManager(deps *Dependencies) (*arbitrage.Manager, error) {
	mc := a.cfg.Manager
	chunk, err := money.NewFromString(mc.Chunk, deps.Pair.Quote)
	if err != nil {
		return nil, fmt.Errorf("chunk: %w", err)
	}
	policy, err := policyFrom(mc.MinProfitPct, mc.MinVolume)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return arbitrage.NewManager(arbitrage.ManagerConfig{
		Runner:     deps.Saga,
		Pair:       deps.Pair,
		Buyer:      deps.Buyer.Name(),
		Seller:     deps.Seller.Name(),
		Chunk:      chunk,
		Policy:     policy,
		AutoCommit: mc.AutoCommit,
		Interval:   mc.Interval.Duration,
		Quiescence: mc.Quiescence.Duration,
		Lock:       deps.LockManager,
		LockTTL:    a.cfg.Arbitrage.LockTTL.Duration,
		Logger:     a.base,
	}), nil
}

// startHTTPServer adds the hub, the server and its graceful shutdown to g.
// mgr is nil outside manager mode.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, mgr *arbitrage.Manager) {
	sc := a.cfg.Server
	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:           a.cfg.Mode,
		Pair:           deps.Pair.Key(),
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: sc.CORSOrigins,
	}, a.base)
	g.Go(func() error { return hub.Run(ctx) })

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.base),
		Arbitrage: handler.NewArbitrageHandler(handler.ArbitrageHandlerConfig{
			Service:       deps.Service,
			Audit:         deps.AuditStore,
			Publisher:     deps.Publisher,
			Archive:       deps.BlobReader,
			ArchivePrefix: s3blob.ArchivePrefix,
			ArchivePath:   s3blob.ArchivePath,
			Logger:        a.base,
		}),
	}
	if mgr != nil {
		handlers.Manager = handler.NewManagerHandler(mgr, deps.AuditStore, deps.Publisher, a.base)
	}
	if deps.Comparisons != nil {
		handlers.Comparison = handler.NewComparisonHandler(deps.Comparisons, arbitrage.ComparisonTag, a.base)
	}

	srv := server.NewServer(server.Config{
		Port:         sc.Port,
		CORSOrigins:  sc.CORSOrigins,
		APIKey:       sc.APIKey,
		RateLimit:    sc.RateLimit,
		RateWindow:   sc.RateWindow.Duration,
		WriteTimeout: sc.WriteTimeout.Duration,
	}, handlers, hub, deps.RateLimiter, a.base)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
