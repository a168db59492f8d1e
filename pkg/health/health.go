// Package health 健康检查：liveness / readiness 探针与依赖检查器。
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

const checkTimeout = 2 * time.Second

// Checker probes a single dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

type CheckResult struct {
	Status  Status        `json:"status"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

type Response struct {
	Status       Status                 `json:"status"`
	Dependencies map[string]CheckResult `json:"dependencies,omitempty"`
}

// Health aggregates dependency checkers behind the standard probe endpoints.
type Health struct {
	checkers []Checker
	ready    atomic.Bool
}

func New() *Health {
	return &Health{}
}

// Register adds a checker. Register all checkers before serving traffic.
func (h *Health) Register(c Checker) {
	if c == nil {
		return
	}
	h.checkers = append(h.checkers, c)
}

func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *Health) IsReady() bool {
	return h.ready.Load()
}

// Live 只回答进程是否还活着，不看依赖。
func (h *Health) Live() Response {
	return Response{Status: StatusUp}
}

// Ready 就绪检查，SetReady(false) 时直接 down，否则汇总依赖状态。
func (h *Health) Ready(ctx context.Context) Response {
	deps := h.probeAll(ctx)
	if !h.IsReady() {
		return Response{Status: StatusDown, Dependencies: deps}
	}
	return Response{Status: overall(deps), Dependencies: deps}
}

// Health 完整检查，带依赖明细。
func (h *Health) Health(ctx context.Context) Response {
	deps := h.probeAll(ctx)
	status := overall(deps)
	if !h.IsReady() && status == StatusUp {
		status = StatusDown
	}
	return Response{Status: status, Dependencies: deps}
}

func (h *Health) probeAll(ctx context.Context) map[string]CheckResult {
	if len(h.checkers) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(h.checkers))
	)
	for _, c := range h.checkers {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := c.Name()
			if name == "" {
				name = "unknown"
			}
			res := probeOne(ctx, c)
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func probeOne(ctx context.Context, c Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		done <- c.Check(checkCtx)
	}()

	var res CheckResult
	select {
	case res = <-done:
	case <-checkCtx.Done():
		res = CheckResult{Status: StatusDown, Latency: time.Since(start), Message: "timeout"}
	}

	if res.Latency <= 0 {
		res.Latency = time.Since(start)
	}
	if res.Status == "" {
		res.Status = StatusDown
	}
	return res
}

// overall 任一依赖不健康时整体降级为 degraded。
func overall(deps map[string]CheckResult) Status {
	status := StatusUp
	for _, r := range deps {
		if r.Status != StatusUp {
			status = StatusDegraded
		}
	}
	return status
}

func probeStatusCode(s Status) int {
	if s == StatusUp {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeProbe(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(probeStatusCode(resp.Status))
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Health) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeProbe(w, h.Live())
	}
}

func (h *Health) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeProbe(w, h.Ready(r.Context()))
	}
}

func (h *Health) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeProbe(w, h.Health(r.Context()))
	}
}

// ========== 内置检查器 ==========

type postgresChecker struct {
	db *sql.DB
}

func NewPostgresChecker(db *sql.DB) Checker {
	return &postgresChecker{db: db}
}

func (c *postgresChecker) Name() string { return "postgres" }

func (c *postgresChecker) Check(ctx context.Context) CheckResult {
	if c == nil || c.db == nil {
		return CheckResult{Status: StatusDown, Message: "nil db"}
	}
	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{Status: StatusDown, Latency: time.Since(start), Message: err.Error()}
	}
	return CheckResult{Status: StatusUp, Latency: time.Since(start)}
}

type redisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) Checker {
	return &redisChecker{client: client}
}

func (c *redisChecker) Name() string { return "redis" }

func (c *redisChecker) Check(ctx context.Context) CheckResult {
	if c == nil || c.client == nil {
		return CheckResult{Status: StatusDown, Message: "nil redis client"}
	}
	start := time.Now()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: StatusDown, Latency: time.Since(start), Message: err.Error()}
	}
	return CheckResult{Status: StatusUp, Latency: time.Since(start)}
}

type httpChecker struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPChecker probes a remote service, usually its /health endpoint.
func NewHTTPChecker(name, url string) Checker {
	if name == "" {
		name = "http"
	}
	return &httpChecker{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: checkTimeout},
	}
}

func (c *httpChecker) Name() string { return c.name }

func (c *httpChecker) Check(ctx context.Context) CheckResult {
	if c == nil || c.url == "" {
		return CheckResult{Status: StatusDown, Message: "empty url"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return CheckResult{Status: StatusDown, Message: err.Error()}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	lat := time.Since(start)
	if err != nil {
		return CheckResult{Status: StatusDown, Latency: lat, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return CheckResult{Status: StatusDown, Latency: lat, Message: resp.Status}
	}
	return CheckResult{Status: StatusUp, Latency: lat, Message: resp.Status}
}
