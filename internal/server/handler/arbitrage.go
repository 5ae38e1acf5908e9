package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/arbitrage"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
)

// ArbitrageService is the command surface the handler drives.
type ArbitrageService interface {
	Pair() domain.AssetPair
	GetStatus(ctx context.Context, includeBalance bool) (arbitrage.Status, error)
	GetInfoForArbitrage(ctx context.Context, budget arbitrage.Budget) (*arbitrage.Context, error)
	NewRun(budget arbitrage.Budget) (*arbitrage.Context, error)
	Arbitrage(ctx context.Context, ac *arbitrage.Context) (*arbitrage.Context, error)
	GetAccountsInfo(ctx context.Context) (arbitrage.AccountsInfo, error)
	RecentArbitrages(ctx context.Context, limit int) ([]domain.ArbitrageRecord, error)
}

// StatusPublisher broadcasts API snapshots to WebSocket clients.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, typ string, payload any)
}

// ArbitrageHandler serves status, dry runs and committed runs.
type ArbitrageHandler struct {
	svc       ArbitrageService
	audit     domain.AuditStore
	publisher StatusPublisher
	archive   domain.BlobReader
	prefix    string
	archiveFn func(id string) string
	logger    *slog.Logger
}

// ArbitrageHandlerConfig wires an ArbitrageHandler. Only Service and Logger
// are required.
type ArbitrageHandlerConfig struct {
	Service   ArbitrageService
	Audit     domain.AuditStore
	Publisher StatusPublisher
	Archive   domain.BlobReader
	// ArchivePrefix is listed by the archive endpoint and ArchivePath maps
	// a context id to its key.
	ArchivePrefix string
	ArchivePath   func(id string) string
	Logger        *slog.Logger
}

func NewArbitrageHandler(cfg ArbitrageHandlerConfig) *ArbitrageHandler {
	return &ArbitrageHandler{
		svc:       cfg.Service,
		audit:     cfg.Audit,
		publisher: cfg.Publisher,
		archive:   cfg.Archive,
		prefix:    cfg.ArchivePrefix,
		archiveFn: cfg.ArchivePath,
		logger:    cfg.Logger.With(slog.String("handler", "arbitrage")),
	}
}

// budgetRequest is a Budget with amounts in the service pair's assets.
type budgetRequest struct {
	QuoteToSpend       decimal.Decimal  `json:"quote_to_spend"`
	QuoteBalanceOption string           `json:"quote_balance_option,omitempty"`
	BaseCap            *decimal.Decimal `json:"base_cap,omitempty"`
	BaseBalanceOption  string           `json:"base_balance_option,omitempty"`
}

func (b budgetRequest) toBudget(pair domain.AssetPair) (arbitrage.Budget, error) {
	quoteOpt, err := arbitrage.ParseBalanceOption(strings.ToLower(b.QuoteBalanceOption))
	if err != nil {
		return arbitrage.Budget{}, err
	}
	baseOpt, err := arbitrage.ParseBalanceOption(strings.ToLower(b.BaseBalanceOption))
	if err != nil {
		return arbitrage.Budget{}, err
	}
	budget := arbitrage.Budget{
		QuoteToSpend:       money.New(b.QuoteToSpend, pair.Quote),
		QuoteBalanceOption: quoteOpt,
		BaseBalanceOption:  baseOpt,
	}
	if b.BaseCap != nil {
		capValue := money.New(*b.BaseCap, pair.Base)
		budget.BaseCap = &capValue
	}
	return budget, nil
}

// runRequest starts a fresh run from Budget, or resumes Context (typically
// one returned by the info endpoint).
type runRequest struct {
	Budget  *budgetRequest     `json:"budget,omitempty"`
	Context *arbitrage.Context `json:"context,omitempty"`
}

// runResponse carries the context even when the run halted.
type runResponse struct {
	Context *arbitrage.Context `json:"context"`
	Error   string             `json:"error,omitempty"`
}

// GetStatus compares the two books.
// GET /api/status?balance=true
func (h *ArbitrageHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	includeBalance := r.URL.Query().Get("balance") == "true"
	st, err := h.svc.GetStatus(r.Context(), includeBalance)
	if err != nil {
		logError(r, h.logger, "get status failed", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	if h.publisher != nil {
		h.publisher.PublishStatus(r.Context(), "status", st)
	}
	writeJSON(w, http.StatusOK, st)
}

// GetInfo dry-runs the saga up to order placement.
// POST /api/arbitrage/info
func (h *ArbitrageHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	budget, err := req.toBudget(h.svc.Pair())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ac, err := h.svc.GetInfoForArbitrage(r.Context(), budget)
	h.writeRun(w, r, ac, err)
}

// Run commits an arbitrage.
// POST /api/arbitrage/run
func (h *ArbitrageHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ac *arbitrage.Context
	switch {
	case req.Context != nil && req.Budget != nil:
		writeError(w, http.StatusBadRequest, "send either budget or context, not both")
		return
	case req.Context != nil:
		ac = req.Context
	case req.Budget != nil:
		budget, err := req.Budget.toBudget(h.svc.Pair())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if ac, err = h.svc.NewRun(budget); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "budget or context is required")
		return
	}
	ac.Resume()

	h.auditLog(r, "arbitrage.run", map[string]any{
		"context_id": ac.ID,
		"pair":       ac.Pair.Key(),
		"state":      string(ac.State),
		"budget":     ac.Budget.QuoteToSpend.String(),
	})
	ac, err := h.svc.Arbitrage(r.Context(), ac)
	h.writeRun(w, r, ac, err)
}

func (h *ArbitrageHandler) writeRun(w http.ResponseWriter, r *http.Request, ac *arbitrage.Context, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, runResponse{Context: ac})
		return
	}
	status := statusFor(err)
	if status == http.StatusBadGateway {
		logError(r, h.logger, "arbitrage run failed", err)
	}
	if ac == nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, runResponse{Context: ac, Error: err.Error()})
}

// GetAccounts returns balances and open orders on both venues.
// GET /api/accounts
func (h *ArbitrageHandler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.GetAccountsInfo(r.Context())
	if err != nil {
		logError(r, h.logger, "get accounts failed", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ListRecent returns recorded transitions, newest first.
// GET /api/arbitrage/recent?limit=50
func (h *ArbitrageHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.RecentArbitrages(r.Context(), parseLimit(r))
	if err != nil {
		logError(r, h.logger, "list recent arbitrages failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list arbitrages")
		return
	}
	if recs == nil {
		recs = []domain.ArbitrageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

// archivedContext is one entry of the archive listing.
type archivedContext struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	ArchivedAt time.Time `json:"archived_at"`
}

// ListArchive lists archived contexts, newest first.
// GET /api/arbitrage/archive
func (h *ArbitrageHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotImplemented, "archive not configured")
		return
	}
	objects, err := h.archive.List(r.Context(), h.prefix)
	if err != nil {
		logError(r, h.logger, "list archive failed", err)
		writeError(w, http.StatusBadGateway, "failed to list archive")
		return
	}

	out := make([]archivedContext, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		out = append(out, archivedContext{
			ID:         strings.TrimSuffix(path.Base(obj.Key), ".json"),
			Key:        obj.Key,
			Size:       obj.Size,
			ArchivedAt: obj.LastModified,
		})
	}
	slices.SortFunc(out, func(a, b archivedContext) int { return b.ArchivedAt.Compare(a.ArchivedAt) })
	writeJSON(w, http.StatusOK, map[string]any{"contexts": out})
}

// GetArchived returns one archived context verbatim.
// GET /api/arbitrage/archive/{id}
func (h *ArbitrageHandler) GetArchived(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotImplemented, "archive not configured")
		return
	}
	id := r.PathValue("id")
	body, err := h.archive.Get(r.Context(), h.archiveFn(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("context %s not archived", id))
			return
		}
		logError(r, h.logger, "get archived context failed", err)
		writeError(w, http.StatusBadGateway, "failed to read archive")
		return
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil || !json.Valid(raw) {
		writeError(w, http.StatusBadGateway, "archived context is unreadable")
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(raw))
}

func (h *ArbitrageHandler) auditLog(r *http.Request, event string, detail map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(r.Context(), event, detail); err != nil {
		h.logger.WarnContext(r.Context(), "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// ListAudit returns operator actions, newest first.
// GET /api/audit?limit=50
func (h *ArbitrageHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotImplemented, "audit log not configured")
		return
	}
	entries, err := h.audit.List(r.Context(), domain.ListOpts{Limit: parseLimit(r)})
	if err != nil {
		logError(r, h.logger, "list audit failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
