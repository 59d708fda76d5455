// Package health serves liveness, readiness and in-flight call listings.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/hamzaKhattat/pbx-call-control/internal/ivr"
	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

type Checker interface {
	Check(ctx context.Context) error
}

type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error {
	return f(ctx)
}

// Calls is the read side of the in-flight call registry.
type Calls interface {
	Snapshot() []ivr.Entry
	Count() int
	CountDirection(direction models.Direction) int
}

type HealthService struct {
	mu          sync.RWMutex
	checks      map[string]Checker
	readyChecks map[string]Checker
	calls       Calls
	router      *mux.Router
	server      *http.Server
	now         func() time.Time
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	TotalTime string                 `json:"total_time,omitempty"`
}

type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// CallView is one in-flight call as listed by /calls.
type CallView struct {
	ivr.Entry
	ElapsedSeconds int `json:"elapsed_seconds"`
}

type CallCount struct {
	Total    int `json:"total"`
	Inbound  int `json:"inbound"`
	Outbound int `json:"outbound"`
}

func NewHealthService(port int, calls Calls) *HealthService {
	hs := &HealthService{
		checks:      make(map[string]Checker),
		readyChecks: make(map[string]Checker),
		calls:       calls,
		now:         time.Now,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health/live", hs.handleLiveness).Methods("GET")
	router.HandleFunc("/health/ready", hs.handleReadiness).Methods("GET")
	router.HandleFunc("/calls", hs.handleCalls).Methods("GET")
	router.HandleFunc("/calls/count", hs.handleCallCount).Methods("GET")
	hs.router = router

	hs.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return hs
}

// Handler returns the routes without starting a listener.
func (hs *HealthService) Handler() http.Handler {
	return hs.router
}

func (hs *HealthService) Start() error {
	logger.WithField("addr", hs.server.Addr).Info("Health service started")
	if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (hs *HealthService) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return hs.server.Shutdown(ctx)
}

func (hs *HealthService) RegisterLivenessCheck(name string, check Checker) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.checks[name] = check
}

func (hs *HealthService) RegisterReadinessCheck(name string, check Checker) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.readyChecks[name] = check
}

func (hs *HealthService) handleLiveness(w http.ResponseWriter, r *http.Request) {
	hs.handleCheck(w, r, hs.checks)
}

func (hs *HealthService) handleReadiness(w http.ResponseWriter, r *http.Request) {
	hs.handleCheck(w, r, hs.readyChecks)
}

type namedResult struct {
	name   string
	result CheckResult
}

func (hs *HealthService) handleCheck(w http.ResponseWriter, r *http.Request, checks map[string]Checker) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	start := hs.now()

	hs.mu.RLock()
	results := make(chan namedResult, len(checks))
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(n string, c Checker) {
			defer wg.Done()

			checkStart := time.Now()
			err := c.Check(ctx)
			res := CheckResult{Status: "ok", Duration: time.Since(checkStart).String()}
			if err != nil {
				res.Status = "failed"
				res.Error = err.Error()
			}
			results <- namedResult{n, res}
		}(name, check)
	}
	hs.mu.RUnlock()

	wg.Wait()
	close(results)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: start,
		Checks:    make(map[string]CheckResult),
	}
	for res := range results {
		response.Checks[res.name] = res.result
		if res.result.Status != "ok" {
			response.Status = "failed"
		}
	}
	response.TotalTime = time.Since(start).String()

	status := http.StatusOK
	if response.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (hs *HealthService) handleCalls(w http.ResponseWriter, r *http.Request) {
	now := hs.now()
	snapshot := hs.calls.Snapshot()

	views := make([]CallView, 0, len(snapshot))
	for _, e := range snapshot {
		views = append(views, CallView{Entry: e, ElapsedSeconds: int(e.Elapsed(now).Seconds())})
	}
	writeJSON(w, http.StatusOK, views)
}

func (hs *HealthService) handleCallCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CallCount{
		Total:    hs.calls.Count(),
		Inbound:  hs.calls.CountDirection(models.DirectionInbound),
		Outbound: hs.calls.CountDirection(models.DirectionOutbound),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}
