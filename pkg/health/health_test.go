package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeChecker struct {
	name   string
	result CheckResult
	delay  time.Duration
}

func (f *fakeChecker) Name() string { return f.name }

func (f *fakeChecker) Check(ctx context.Context) CheckResult {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	return f.result
}

func TestLiveAlwaysUp(t *testing.T) {
	h := New()
	h.Register(&fakeChecker{name: "postgres", result: CheckResult{Status: StatusDown}})

	resp := h.Live()
	if resp.Status != StatusUp {
		t.Fatalf("live status = %s, want up", resp.Status)
	}
	if resp.Dependencies != nil {
		t.Errorf("live should not probe dependencies")
	}
}

func TestReadyGatedBySetReady(t *testing.T) {
	h := New()
	h.Register(&fakeChecker{name: "postgres", result: CheckResult{Status: StatusUp}})

	resp := h.Ready(context.Background())
	if resp.Status != StatusDown {
		t.Errorf("before SetReady: status = %s, want down", resp.Status)
	}

	h.SetReady(true)
	resp = h.Ready(context.Background())
	if resp.Status != StatusUp {
		t.Errorf("after SetReady: status = %s, want up", resp.Status)
	}

	h.SetReady(false)
	resp = h.Ready(context.Background())
	if resp.Status != StatusDown {
		t.Errorf("after SetReady(false): status = %s, want down", resp.Status)
	}
}

func TestHealthDegradedOnFailingDependency(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(&fakeChecker{name: "postgres", result: CheckResult{Status: StatusUp}})
	h.Register(&fakeChecker{name: "redis", result: CheckResult{Status: StatusDown, Message: "connection refused"}})

	resp := h.Health(context.Background())
	if resp.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", resp.Status)
	}
	if len(resp.Dependencies) != 2 {
		t.Fatalf("dependencies = %d, want 2", len(resp.Dependencies))
	}
	if resp.Dependencies["redis"].Message != "connection refused" {
		t.Errorf("redis message = %q", resp.Dependencies["redis"].Message)
	}
	if resp.Dependencies["postgres"].Status != StatusUp {
		t.Errorf("postgres status = %s", resp.Dependencies["postgres"].Status)
	}
}

func TestHealthDefaultsEmptyStatusToDown(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(&fakeChecker{name: "weird", result: CheckResult{}})

	resp := h.Health(context.Background())
	if resp.Dependencies["weird"].Status != StatusDown {
		t.Errorf("empty status should default to down, got %s", resp.Dependencies["weird"].Status)
	}
	if resp.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", resp.Status)
	}
}

func TestHandlersStatusCodes(t *testing.T) {
	h := New()
	h.Register(&fakeChecker{name: "postgres", result: CheckResult{Status: StatusUp}})

	// 未就绪时 readyz 返回 503
	rec := httptest.NewRecorder()
	h.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready: code = %d, want 503", rec.Code)
	}

	h.SetReady(true)

	rec = httptest.NewRecorder()
	h.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz: code = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("livez: code = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health: code = %d, want 200", rec.Code)
	}
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if resp.Status != StatusUp {
		t.Errorf("health body status = %s", resp.Status)
	}
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPChecker("ledger", srv.URL)
	res := c.Check(context.Background())
	if res.Status != StatusUp {
		t.Errorf("status = %s, want up (%s)", res.Status, res.Message)
	}

	srv.Close()
	res = c.Check(context.Background())
	if res.Status != StatusDown {
		t.Errorf("closed server: status = %s, want down", res.Status)
	}
}

func TestHTTPCheckerBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := NewHTTPChecker("ledger", srv.URL).Check(context.Background())
	if res.Status != StatusDown {
		t.Errorf("status = %s, want down", res.Status)
	}
}

func TestLoopMonitor(t *testing.T) {
	var m LoopMonitor

	now := time.Now()
	if ok, _, _ := m.Healthy(now, time.Minute); ok {
		t.Error("never-ticked monitor should be unhealthy")
	}

	m.Tick()
	if ok, age, lastErr := m.Healthy(time.Now(), time.Minute); !ok || lastErr != "" {
		t.Errorf("after tick: ok=%v age=%v lastErr=%q", ok, age, lastErr)
	}

	m.SetError(errors.New("query timeout"))
	if _, _, lastErr := m.Healthy(time.Now(), time.Minute); lastErr != "query timeout" {
		t.Errorf("lastErr = %q", lastErr)
	}
	m.SetError(nil)
	if m.LastError() != "query timeout" {
		t.Errorf("nil error should not overwrite, got %q", m.LastError())
	}

	if ok, _, _ := m.Healthy(time.Now().Add(time.Hour), time.Minute); ok {
		t.Error("stale tick should be unhealthy")
	}
}
