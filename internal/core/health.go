package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout is the maximum time allowed for all health probes to complete.
// If any probe exceeds this deadline, the health check returns 503 Service Unavailable.
const healthCheckTimeout = 2 * time.Second

// HealthProbe defines the interface for a subsystem health check, such as the
// relay connection or the NATS mirror.
type HealthProbe interface {
	// Name returns a human-readable identifier for the probe (e.g., "relay", "nats").
	Name() string

	// Check performs the health check against the subsystem.
	// It should respect the context deadline and return an error if the subsystem
	// is unhealthy or unreachable.
	Check(ctx context.Context) error
}

// componentStatus represents the health state of a single subsystem.
type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleHealth merges every StatsReporter's fields into the response body and
// executes all registered health probes concurrently with a short timeout.
// Returns 200 OK if all probes report healthy, 503 Service Unavailable if any
// probe fails or the global timeout is exceeded.
//
// The keys "status" and "components" are owned by this handler and override
// any reporter field of the same name.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	body := make(map[string]any)
	for _, reporter := range s.StatsReporters {
		for k, v := range reporter.Stats() {
			body[k] = v
		}
	}

	components, allHealthy := s.runProbes(ctx)
	if len(components) > 0 {
		body["components"] = components
	}

	if allHealthy {
		body["status"] = "healthy"
		JSON(w, r, http.StatusOK, body)
		return
	}
	body["status"] = "unhealthy"
	JSON(w, r, http.StatusServiceUnavailable, body)
}

// runProbes executes each probe in its own goroutine. Probes that do not
// finish before ctx expires are reported as timed out.
func (s *Server) runProbes(ctx context.Context) (map[string]componentStatus, bool) {
	probes := s.HealthProbes
	if len(probes) == 0 {
		return nil, true
	}

	type probeResult struct {
		name string
		err  error
	}

	var (
		mu      sync.Mutex
		results = make([]probeResult, 0, len(probes))
		wg      sync.WaitGroup
	)

	for _, probe := range probes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()

			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("probe panicked: %v", r)
					}
				}()
				err = p.Check(ctx)
			}()

			mu.Lock()
			results = append(results, probeResult{name: p.Name(), err: err})
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	completed := make(map[string]probeResult, len(results))
	for _, r := range results {
		completed[r.name] = r
	}
	mu.Unlock()

	components := make(map[string]componentStatus, len(probes))
	allHealthy := true

	for _, probe := range probes {
		name := probe.Name()
		result, ok := completed[name]
		switch {
		case !ok:
			allHealthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case result.err != nil:
			allHealthy = false
			components[name] = componentStatus{Status: "unhealthy", Message: result.err.Error()}
		default:
			components[name] = componentStatus{Status: "healthy"}
		}
	}

	return components, allHealthy
}
