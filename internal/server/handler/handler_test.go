package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/arbitrage"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/money"
	"github.com/alanyoungcy/arbengine/internal/venue/paper"
)

var ethEUR = domain.NewAssetPair(money.ETH, money.EUR)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeService struct {
	mu        sync.Mutex
	budgets   []arbitrage.Budget
	resumed   []*arbitrage.Context
	runErr    error
	statusErr error
	records   []domain.ArbitrageRecord
	limit     int
}

func (f *fakeService) Pair() domain.AssetPair { return ethEUR }

func (f *fakeService) GetStatus(_ context.Context, includeBalance bool) (arbitrage.Status, error) {
	if f.statusErr != nil {
		return arbitrage.Status{}, f.statusErr
	}
	st := arbitrage.Status{Pair: ethEUR}
	st.Buyer.Name = "buyer"
	st.Seller.Name = "seller"
	if includeBalance {
		st.Buyer.Balance = &domain.BalanceResult{
			Base:  money.Zero(money.ETH),
			Quote: money.NewFromFloat(1000, money.EUR),
		}
	}
	return st, nil
}

func (f *fakeService) GetInfoForArbitrage(_ context.Context, budget arbitrage.Budget) (*arbitrage.Context, error) {
	f.mu.Lock()
	f.budgets = append(f.budgets, budget)
	f.mu.Unlock()
	ac := arbitrage.NewContext(ethEUR, "buyer", "seller", budget)
	ac.DryRun()
	ac.State = arbitrage.StatePlaceBuyOrder
	return ac, f.runErr
}

func (f *fakeService) NewRun(budget arbitrage.Budget) (*arbitrage.Context, error) {
	f.mu.Lock()
	f.budgets = append(f.budgets, budget)
	f.mu.Unlock()
	if !budget.QuoteToSpend.IsPositive() {
		return nil, fmt.Errorf("%w: quote to spend must be positive", arbitrage.ErrInvalidBudget)
	}
	return arbitrage.NewContext(ethEUR, "buyer", "seller", budget), nil
}

func (f *fakeService) Arbitrage(_ context.Context, ac *arbitrage.Context) (*arbitrage.Context, error) {
	f.mu.Lock()
	f.resumed = append(f.resumed, ac)
	f.mu.Unlock()
	if f.runErr != nil {
		ac.Error = f.runErr.Error()
		return ac, f.runErr
	}
	ac.State = arbitrage.StateFinished
	return ac, nil
}

func (f *fakeService) GetAccountsInfo(context.Context) (arbitrage.AccountsInfo, error) {
	return arbitrage.AccountsInfo{}, nil
}

func (f *fakeService) RecentArbitrages(_ context.Context, limit int) ([]domain.ArbitrageRecord, error) {
	f.limit = limit
	return f.records, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID: int64(len(a.entries) + 1), Event: event, Detail: detail, CreatedAt: time.Now(),
	})
	return nil
}

func (a *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(a.entries))
	for i := len(a.entries) - 1; i >= 0 && len(out) < opts.Limit; i-- {
		out = append(out, a.entries[i])
	}
	return out, nil
}

type memPublisher struct {
	types []string
}

func (p *memPublisher) PublishStatus(_ context.Context, typ string, _ any) {
	p.types = append(p.types, typ)
}

type memBlobs map[string]string

func (m memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m memBlobs) List(_ context.Context, prefix string) ([]domain.StoredObject, error) {
	var out []domain.StoredObject
	for key, body := range m {
		if strings.HasPrefix(key, prefix) {
			out = append(out, domain.StoredObject{Key: key, Size: int64(len(body)), LastModified: archivedAt[key]})
		}
	}
	return out, nil
}

var archivedAt = map[string]time.Time{
	"arbitrage/ctx-1.json": time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	"arbitrage/ctx-2.json": time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
}

type fixture struct {
	svc       *fakeService
	audit     *memAudit
	publisher *memPublisher
	mux       *http.ServeMux
}

func newFixture(blobs memBlobs) *fixture {
	f := &fixture{svc: &fakeService{}, audit: &memAudit{}, publisher: &memPublisher{}}
	cfg := ArbitrageHandlerConfig{
		Service:       f.svc,
		Audit:         f.audit,
		Publisher:     f.publisher,
		ArchivePrefix: "arbitrage/",
		ArchivePath:   func(id string) string { return "arbitrage/" + id + ".json" },
		Logger:        discardLogger(),
	}
	if blobs != nil {
		cfg.Archive = blobs
	}
	h := NewArbitrageHandler(cfg)

	f.mux = http.NewServeMux()
	f.mux.HandleFunc("GET /api/status", h.GetStatus)
	f.mux.HandleFunc("POST /api/arbitrage/info", h.GetInfo)
	f.mux.HandleFunc("POST /api/arbitrage/run", h.Run)
	f.mux.HandleFunc("GET /api/arbitrage/recent", h.ListRecent)
	f.mux.HandleFunc("GET /api/arbitrage/archive", h.ListArchive)
	f.mux.HandleFunc("GET /api/arbitrage/archive/{id}", h.GetArchived)
	f.mux.HandleFunc("GET /api/audit", h.ListAudit)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, target, reader))
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestGetStatus_WithBalance(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(t, http.MethodGet, "/api/status?balance=true", "")

	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[arbitrage.Status](t, rec)
	assert.Equal(t, "ETH/EUR", st.Pair.Key())
	require.NotNil(t, st.Buyer.Balance)
	assert.Equal(t, "1000.00 EUR", st.Buyer.Balance.Quote.String())
	assert.Equal(t, []string{"status"}, f.publisher.types)
}

func TestGetStatus_VenueErrorIsBadGateway(t *testing.T) {
	f := newFixture(nil)
	f.svc.statusErr = errors.New("venue down")

	rec := f.do(t, http.MethodGet, "/api/status", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "venue down")
}

func TestGetInfo_BuildsBudgetInPairAssets(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(t, http.MethodPost, "/api/arbitrage/info",
		`{"quote_to_spend":"500","quote_balance_option":"CAP","base_cap":"1.5"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.svc.budgets, 1)
	b := f.svc.budgets[0]
	assert.Equal(t, "500.00 EUR", b.QuoteToSpend.String())
	assert.Equal(t, arbitrage.BalanceCap, b.QuoteBalanceOption)
	assert.Equal(t, arbitrage.BalanceIgnore, b.BaseBalanceOption)
	require.NotNil(t, b.BaseCap)
	assert.Equal(t, "1.50000000 ETH", b.BaseCap.String())

	resp := decodeBody[runResponse](t, rec)
	require.NotNil(t, resp.Context)
	assert.Equal(t, arbitrage.StatePlaceBuyOrder, resp.Context.State)
	assert.Empty(t, resp.Error)
}

func TestGetInfo_RejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown balance option", `{"quote_to_spend":"500","quote_balance_option":"maybe"}`},
		{"unknown field", `{"quote_to_spend":"500","colour":"red"}`},
		{"not json", `quote_to_spend=500`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(nil)

			rec := f.do(t, http.MethodPost, "/api/arbitrage/info", tc.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, f.svc.budgets)
		})
	}
}

func TestRun_FromBudgetIsAudited(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(t, http.MethodPost, "/api/arbitrage/run", `{"budget":{"quote_to_spend":"250"}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[runResponse](t, rec)
	assert.Equal(t, arbitrage.StateFinished, resp.Context.State)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "arbitrage.run", f.audit.entries[0].Event)
	assert.Equal(t, "ETH/EUR", f.audit.entries[0].Detail["pair"])
}

func TestRun_ResumesContextWithoutBreakpoint(t *testing.T) {
	f := newFixture(nil)
	ac := arbitrage.NewContext(ethEUR, "buyer", "seller", arbitrage.Budget{
		QuoteToSpend: money.NewFromFloat(100, money.EUR),
	})
	ac.DryRun()
	ac.State = arbitrage.StatePlaceBuyOrder
	body, err := json.Marshal(map[string]any{"context": ac})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/arbitrage/run", string(body))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.svc.resumed, 1)
	got := f.svc.resumed[0]
	assert.Equal(t, ac.ID, got.ID)
	assert.Empty(t, got.BreakOnState)
	assert.Empty(t, f.svc.budgets)
}

func TestRun_RequestShape(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"empty", `{}`, http.StatusBadRequest},
		{"both", `{"budget":{"quote_to_spend":"1"},"context":{"id":"x"}}`, http.StatusBadRequest},
		{"non-positive budget", `{"budget":{"quote_to_spend":"0"}}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(nil)

			rec := f.do(t, http.MethodPost, "/api/arbitrage/run", tc.body)

			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.Empty(t, f.svc.resumed)
		})
	}
}

// paperService is a real arbitrage service over the 100/102 paper market.
func paperService() (*arbitrage.Service, *paper.Venue) {
	buyer := paper.New(paper.Config{Name: "buyer", Pair: ethEUR}, discardLogger())
	buyer.SetOrderBook([]domain.OrderBookLevel{{
		PricePerUnit: money.NewFromFloat(100, money.EUR),
		VolumeUnits:  money.NewFromFloat(5, money.ETH),
	}}, nil)
	buyer.SetBalance(money.NewFromFloat(1000, money.EUR))
	seller := paper.New(paper.Config{Name: "seller", Pair: ethEUR}, discardLogger())
	seller.SetOrderBook(nil, []domain.OrderBookLevel{{
		PricePerUnit: money.NewFromFloat(102, money.EUR),
		VolumeUnits:  money.NewFromFloat(5, money.ETH),
	}})
	seller.SetBalance(money.NewFromFloat(10, money.ETH))

	saga := arbitrage.NewSaga(arbitrage.SagaConfig{Buyer: buyer, Seller: seller, PollInterval: time.Millisecond, Logger: discardLogger()})
	return arbitrage.NewService(arbitrage.ServiceConfig{Saga: saga, Pair: ethEUR, Logger: discardLogger()}), buyer
}

func TestRun_MalformedContextIsBadRequest(t *testing.T) {
	cases := map[string]func(ac *arbitrage.Context){
		"budget in another asset": func(ac *arbitrage.Context) { ac.Budget.QuoteToSpend = money.NewFromFloat(1, money.BTC) },
		"unknown state":           func(ac *arbitrage.Context) { ac.State = "bogus" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			svc, buyer := paperService()
			h := NewArbitrageHandler(ArbitrageHandlerConfig{Service: svc, Logger: discardLogger()})
			ac, err := svc.NewRun(arbitrage.Budget{QuoteToSpend: money.NewFromFloat(500, money.EUR)})
			require.NoError(t, err)
			mutate(ac)
			body, err := json.Marshal(map[string]any{"context": ac})
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/api/arbitrage/run", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			require.NotPanics(t, func() { h.Run(rec, req) })

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Empty(t, buyer.Placed())
		})
	}
}

func TestRun_HaltedSagaReturnsContext(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"policy", fmt.Errorf("%w: profit too low", arbitrage.ErrPolicyRejected), http.StatusUnprocessableEntity},
		{"balance", fmt.Errorf("buyer: %w", domain.ErrInsufficientBalance), http.StatusUnprocessableEntity},
		{"lock", fmt.Errorf("commit: %w", domain.ErrLockHeld), http.StatusConflict},
		{"venue", errors.New("connection reset"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(nil)
			f.svc.runErr = tc.err

			rec := f.do(t, http.MethodPost, "/api/arbitrage/run", `{"budget":{"quote_to_spend":"250"}}`)

			assert.Equal(t, tc.want, rec.Code)
			resp := decodeBody[runResponse](t, rec)
			require.NotNil(t, resp.Context)
			assert.Equal(t, tc.err.Error(), resp.Error)
			assert.Equal(t, tc.err.Error(), resp.Context.Error)
		})
	}
}

func TestListRecent_LimitAndEmptyArray(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(t, http.MethodGet, "/api/arbitrage/recent?limit=9999", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxLimit, f.svc.limit)
	assert.JSONEq(t, `{"records":[]}`, rec.Body.String())
}

func TestArchive(t *testing.T) {
	blobs := memBlobs{
		"arbitrage/ctx-1.json": `{"id":"ctx-1","state":"finished"}`,
		"arbitrage/ctx-2.json": `{}`,
		"other/ctx-3.json":     `{}`,
	}
	f := newFixture(blobs)

	rec := f.do(t, http.MethodGet, "/api/arbitrage/archive/ctx-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, blobs["arbitrage/ctx-1.json"], rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/arbitrage/archive/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/arbitrage/archive", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"contexts":[
		{"id":"ctx-2","key":"arbitrage/ctx-2.json","size":2,"archived_at":"2026-03-02T10:00:00Z"},
		{"id":"ctx-1","key":"arbitrage/ctx-1.json","size":33,"archived_at":"2026-03-01T10:00:00Z"}
	]}`, rec.Body.String())
}

func TestArchive_NotConfigured(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(t, http.MethodGet, "/api/arbitrage/archive", "")

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestListAudit_NewestFirst(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()
	require.NoError(t, f.audit.Log(ctx, "manager.pause", nil))
	require.NoError(t, f.audit.Log(ctx, "manager.resume", nil))

	rec := f.do(t, http.MethodGet, "/api/audit", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[struct {
		Entries []domain.AuditEntry `json:"entries"`
	}](t, rec)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "manager.resume", resp.Entries[0].Event)
}

type fakeManager struct {
	paused bool
}

func (m *fakeManager) Status() arbitrage.ManagerStatus {
	return arbitrage.ManagerStatus{Paused: m.paused, AutoCommit: true}
}
func (m *fakeManager) Pause()  { m.paused = true }
func (m *fakeManager) Resume() { m.paused = false }

func TestManagerHandler_PauseResume(t *testing.T) {
	mgr := &fakeManager{}
	audit := &memAudit{}
	pub := &memPublisher{}
	h := NewManagerHandler(mgr, audit, pub, discardLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/manager", h.Get)
	mux.HandleFunc("POST /api/manager/pause", h.Pause)
	mux.HandleFunc("POST /api/manager/resume", h.Resume)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/manager/pause", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[arbitrage.ManagerStatus](t, rec).Paused)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/manager/resume", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[arbitrage.ManagerStatus](t, rec).Paused)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/manager", nil))
	assert.True(t, decodeBody[arbitrage.ManagerStatus](t, rec).AutoCommit)

	require.Len(t, audit.entries, 2)
	assert.Equal(t, "manager.pause", audit.entries[0].Event)
	assert.Equal(t, "manager.resume", audit.entries[1].Event)
	assert.Equal(t, []string{"manager", "manager"}, pub.types)
}

type memComparisons map[string]domain.Comparison

func (m memComparisons) Last(_ context.Context, tag string) (domain.Comparison, error) {
	c, ok := m[tag]
	if !ok {
		return domain.Comparison{}, domain.ErrNotFound
	}
	return c, nil
}

func TestComparisonHandler(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := NewComparisonHandler(memComparisons{
		arbitrage.ComparisonTag: {Tag: arbitrage.ComparisonTag, Value: 1.25, ObservedAt: at},
	}, arbitrage.ComparisonTag, discardLogger())

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/comparison", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[domain.Comparison](t, rec)
	assert.InDelta(t, 1.25, got.Value, 1e-9)
	assert.True(t, at.Equal(got.ObservedAt))

	rec = httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/comparison?tag=other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("refused") },
	}, discardLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["redis"])
	assert.Equal(t, "refused", deps["postgres"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(fmt.Errorf("x: %w", domain.ErrUnknownProduct)))
	assert.Equal(t, http.StatusNotFound, statusFor(domain.ErrOrderNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(domain.ErrRateLimited))
	assert.Equal(t, http.StatusBadGateway, statusFor(errors.New("boom")))
}
