package monitoring

import "time"

// Summary is the operator view served by /api/monitoring/summary.
type Summary struct {
	GeneratedAt   time.Time          `json:"generated_at"`
	Decisions     DecisionSummary    `json:"decisions"`
	Mutations     []MutationSummary  `json:"mutations"`
	Invalidations map[string]uint64  `json:"invalidations"`
	Maintenance   MaintenanceSummary `json:"maintenance"`
}

// DecisionSummary counts permission check outcomes since start-up. ByProvenance only
// includes allowed decisions.
type DecisionSummary struct {
	Allowed      uint64            `json:"allowed"`
	Denied       uint64            `json:"denied"`
	Errors       uint64            `json:"errors"`
	ByProvenance map[string]uint64 `json:"by_provenance"`
}

// MutationSummary tallies one grant or role operation by outcome.
type MutationSummary struct {
	Operation string            `json:"operation"`
	Outcomes  map[string]uint64 `json:"outcomes"`
	LastAt    time.Time         `json:"last_at"`
}

type MaintenanceSummary struct {
	Jobs []MaintenanceJobSummary `json:"jobs"`
}

type MaintenanceJobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	LastRemoved         int64         `json:"last_removed"`
	TotalRemoved        int64         `json:"total_removed"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Snapshot returns the current summary, or an empty one before SetModule.
func Snapshot() Summary {
	if module := CurrentModule(); module != nil && module.stats != nil {
		return module.Summary()
	}
	return Summary{
		GeneratedAt:   time.Now().UTC(),
		Decisions:     DecisionSummary{ByProvenance: map[string]uint64{}},
		Mutations:     []MutationSummary{},
		Invalidations: map[string]uint64{},
		Maintenance:   MaintenanceSummary{Jobs: []MaintenanceJobSummary{}},
	}
}
