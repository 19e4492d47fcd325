package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/service"
)

type fakeQueries struct {
	ranking service.Ranking
	execs   map[string]domain.ExecutionDecision
}

func (f *fakeQueries) LatestRanking(_ context.Context, limit int) (service.Ranking, error) {
	if f.ranking.CycleID == "" {
		return service.Ranking{}, domain.ErrNotFound
	}
	r := f.ranking
	if limit > 0 && len(r.Opportunities) > limit {
		r.Opportunities = r.Opportunities[:limit]
	}
	return r, nil
}

func (f *fakeQueries) RecentOpportunities(context.Context, int) ([]domain.Opportunity, error) {
	return nil, domain.ErrDisabled
}

func (f *fakeQueries) RecentExecutions(context.Context, int) ([]domain.ExecutionDecision, error) {
	out := make([]domain.ExecutionDecision, 0, len(f.execs))
	for _, d := range f.execs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeQueries) Execution(_ context.Context, id string) (domain.ExecutionDecision, error) {
	d, ok := f.execs[id]
	if !ok {
		return domain.ExecutionDecision{}, domain.ErrNotFound
	}
	return d, nil
}

func (f *fakeQueries) Profit(_ context.Context, window time.Duration) (float64, time.Time, error) {
	return 12.5, time.Now().Add(-window), nil
}

func (f *fakeQueries) Audit(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeStatus struct{}

func (fakeStatus) Status() service.CycleStatus { return service.CycleStatus{Cycles: 3} }

type fakeTrigger struct{ n int }

func (t *fakeTrigger) Trigger() bool { t.n++; return t.n == 1 }

type denyLimiter struct{ allow bool }

func (d denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return d.allow, nil
}
func (d denyLimiter) Wait(context.Context, string) error { return nil }

func newTestServer(t *testing.T, cfg Config, limiter domain.RateLimiter, checks map[string]handler.Checker) (*httptest.Server, *fakeTrigger) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	q := &fakeQueries{
		ranking: service.Ranking{CycleID: "c1", Source: "memory", Opportunities: []domain.Opportunity{{ID: "a"}, {ID: "b"}}},
		execs:   map[string]domain.ExecutionDecision{"e1": {ID: "e1", Status: domain.ExecSettled}},
	}
	trig := &fakeTrigger{}
	h := Handlers{
		Health:        handler.NewHealthHandler(checks, logger),
		Status:        handler.NewStatusHandler("monitor", []string{"uniswap_v3"}, time.Now(), fakeStatus{}),
		Opportunities: handler.NewOpportunityHandler(q, logger),
		Executions:    handler.NewExecutionHandler(q, logger),
		Audit:         handler.NewAuditHandler(q, logger),
		Pipeline:      handler.NewPipelineHandler(trig, logger),
	}
	srv := NewServer(cfg, h, nil, limiter, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, trig
}

func get(t *testing.T, url string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestRoutes(t *testing.T) {
	ts, trig := newTestServer(t, Config{MetricsPath: "/metrics"}, nil, nil)

	resp, body := get(t, ts.URL+"/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = get(t, ts.URL+"/api/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "monitor", body["mode"])

	resp, body = get(t, ts.URL+"/api/opportunities/latest?limit=1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "c1", body["cycle_id"])
	assert.Len(t, body["opportunities"], 1)

	resp, _ = get(t, ts.URL+"/api/opportunities/recent", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, body = get(t, ts.URL+"/api/executions/e1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "settled", body["status"])

	resp, _ = get(t, ts.URL+"/api/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = get(t, ts.URL+"/api/executions/profit?window=1h", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 12.5, body["net_profit_usd"], 1e-9)

	resp, _ = get(t, ts.URL+"/api/executions/profit?window=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Post(ts.URL+"/api/cycles/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, trig.n)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthDegraded(t *testing.T) {
	checks := map[string]handler.Checker{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}
	ts, _ := newTestServer(t, Config{}, nil, checks)

	resp, body := get(t, ts.URL+"/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	backends := body["backends"].(map[string]any)
	assert.Equal(t, "ok", backends["redis"])
	assert.Equal(t, "connection refused", backends["postgres"])
}

func TestAuth(t *testing.T) {
	ts, _ := newTestServer(t, Config{APIKey: "secret", MetricsPath: "/metrics"}, nil, nil)

	resp, _ := get(t, ts.URL+"/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/api/status", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/api/status", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is public")

	resp, _ = get(t, ts.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "metrics are public")
}

func TestRateLimit(t *testing.T) {
	ts, _ := newTestServer(t, Config{RateLimit: 1, RateLimitWindow: 2 * time.Second}, denyLimiter{}, nil)
	resp, body := get(t, ts.URL+"/api/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", body["error"])

	ts, _ = newTestServer(t, Config{RateLimit: 1, RateLimitWindow: time.Second}, denyLimiter{allow: true}, nil)
	resp, _ = get(t, ts.URL+"/api/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	ts, _ := newTestServer(t, Config{CORSOrigins: []string{"https://dash.example"}}, nil, nil)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/status", nil)
	req.Header.Set("Origin", "https://dash.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://dash.example", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, _ = get(t, ts.URL+"/api/status", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
