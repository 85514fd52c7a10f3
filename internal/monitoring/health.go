package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProbeStatus encodes the outcome of a health probe.
type ProbeStatus string

const (
	StatusUp       ProbeStatus = "up"
	StatusDegraded ProbeStatus = "degraded"
	StatusDown     ProbeStatus = "down"
)

func (s ProbeStatus) severity() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// ProbeResult is the outcome of one probe.
type ProbeResult struct {
	Component string        `json:"component"`
	Status    ProbeStatus   `json:"status"`
	Details   string        `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// HealthReport is the result of a liveness or readiness evaluation. Success is true only
// when every probe is up.
type HealthReport struct {
	Success bool          `json:"success"`
	Status  ProbeStatus   `json:"status"`
	Checks  []ProbeResult `json:"checks"`
}

func newReport(results []ProbeResult) HealthReport {
	status := StatusUp
	for _, result := range results {
		if result.Status.severity() > status.severity() {
			status = result.Status
		}
	}
	return HealthReport{Success: status == StatusUp, Status: status, Checks: results}
}

// Check is a named probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) ProbeResult
}

// NewCheck builds a Check. A nil fn reports down so that a missing probe is never
// mistaken for a healthy one.
func NewCheck(name string, fn func(ctx context.Context) ProbeResult) Check {
	if fn == nil {
		fn = func(context.Context) ProbeResult {
			return ProbeResult{Status: StatusDown, Details: "probe not implemented"}
		}
	}
	return Check{Name: name, Run: fn}
}

// DefaultProbeTimeout bounds a single probe when the manager has no explicit timeout.
const DefaultProbeTimeout = 3 * time.Second

// HealthManager holds the liveness and readiness probes. Probes in one evaluation run
// concurrently, each under its own deadline.
type HealthManager struct {
	mu        sync.RWMutex
	timeout   time.Duration
	liveness  []Check
	readiness []Check
}

func NewHealthManager() *HealthManager {
	return &HealthManager{timeout: DefaultProbeTimeout}
}

// SetTimeout changes the per-probe deadline. Non-positive values restore the default.
func (m *HealthManager) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	m.mu.Lock()
	m.timeout = timeout
	m.mu.Unlock()
}

// RegisterLiveness adds a liveness probe. Unnamed checks are ignored.
func (m *HealthManager) RegisterLiveness(check Check) {
	m.register(&m.liveness, check)
}

// RegisterReadiness adds a readiness probe. Unnamed checks are ignored.
func (m *HealthManager) RegisterReadiness(check Check) {
	m.register(&m.readiness, check)
}

func (m *HealthManager) register(into *[]Check, check Check) {
	if check.Name == "" {
		return
	}
	m.mu.Lock()
	*into = append(*into, check)
	m.mu.Unlock()
}

func (m *HealthManager) EvaluateLiveness(ctx context.Context) HealthReport {
	return m.evaluate(ctx, func() []Check { return m.liveness })
}

func (m *HealthManager) EvaluateReadiness(ctx context.Context) HealthReport {
	return m.evaluate(ctx, func() []Check { return m.readiness })
}

func (m *HealthManager) evaluate(ctx context.Context, pick func() []Check) HealthReport {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.RLock()
	checks := append([]Check(nil), pick()...)
	timeout := m.timeout
	m.mu.RUnlock()
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	results := make([]ProbeResult, len(checks))
	var group errgroup.Group
	for i, check := range checks {
		group.Go(func() error {
			results[i] = runCheck(ctx, check, timeout)
			return nil
		})
	}
	_ = group.Wait()

	return newReport(results)
}

func runCheck(ctx context.Context, check Check, timeout time.Duration) (result ProbeResult) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			details := fmt.Sprint(rec)
			if err, ok := rec.(error); ok {
				details = err.Error()
			}
			result = ProbeResult{Status: StatusDown, Details: details}
		}
		result.Component = check.Name
		if result.Status == "" {
			result.Status = StatusDown
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
	}()

	return check.Run(ctx)
}

// MergeReports combines liveness and readiness results into one payload.
func MergeReports(live, ready HealthReport) HealthReport {
	checks := make([]ProbeResult, 0, len(live.Checks)+len(ready.Checks))
	checks = append(checks, live.Checks...)
	checks = append(checks, ready.Checks...)
	return newReport(checks)
}

// ResultFromError maps err onto a probe result. Deadline and cancellation errors degrade
// rather than fail the component.
func ResultFromError(component string, err error, duration time.Duration) ProbeResult {
	result := ProbeResult{Component: component, Status: StatusUp, Duration: max(duration, 0)}
	if err == nil {
		return result
	}

	result.Status = StatusDown
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		result.Status = StatusDegraded
	}
	result.Details = err.Error()
	return result
}
