package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const checkTimeout = 3 * time.Second

// HealthCheck checks one dependency. Critical failures make the service
// unhealthy; the rest only degrade it.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	RunsInFlight  int               `json:"runs_in_flight"`
	Checks        map[string]string `json:"checks"`
}

// RunCounter reports runs currently executing.
type RunCounter interface {
	RunsInFlight() int
}

type HealthHandler struct {
	checks    []HealthCheck
	disabled  []string
	runs      RunCounter
	version   string
	startTime time.Time
}

func NewHealthHandler(runs RunCounter, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		runs:      runs,
		version:   version,
		startTime: startTime,
	}
}

// Add registers a check. Call before serving.
func (h *HealthHandler) Add(c HealthCheck) {
	h.checks = append(h.checks, c)
}

// NotConfigured lists an optional integration that is switched off.
func (h *HealthHandler) NotConfigured(name string) {
	h.disabled = append(h.disabled, name)
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.checks)+len(h.disabled))
	for _, name := range h.disabled {
		checks[name] = "not_configured"
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		critical bool
		degraded bool
	)
	for _, c := range h.checks {
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()
			err := c.Check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				checks[c.Name] = "ok"
				return
			}
			checks[c.Name] = "error"
			if c.Critical {
				critical = true
			} else {
				degraded = true
			}
		}(c)
	}
	wg.Wait()

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case critical:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	case degraded:
		status = "degraded"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	if h.runs != nil {
		resp.RunsInFlight = h.runs.RunsInFlight()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
