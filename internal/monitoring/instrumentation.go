package monitoring

import (
	"strings"
	"time"
)

// MaintenanceRun describes one completed maintenance job execution.
type MaintenanceRun struct {
	Job      string
	Result   string
	Message  string
	Duration time.Duration
	Removed  int64
}

// RecordDecision counts a check outcome (allow, deny or error). provenance is only kept
// for allowed decisions.
func RecordDecision(result, provenance string) {
	if module := CurrentModule(); module != nil {
		module.stats.recordDecision(normalizeLabel(result), normalizeLabel(provenance))
	}
}

// RecordMutation counts a grant or role mutation by outcome.
func RecordMutation(operation, outcome string) {
	if module := CurrentModule(); module != nil {
		module.stats.recordMutation(normalizeLabel(operation), normalizeLabel(outcome), time.Now().UTC())
	}
}

// RecordInvalidation counts a cache invalidation by selector kind.
func RecordInvalidation(kind string) {
	if module := CurrentModule(); module != nil {
		module.stats.recordInvalidation(normalizeLabel(kind))
	}
}

// RecordMaintenanceRun exports a finished job to the module collectors and the summary.
func RecordMaintenanceRun(run MaintenanceRun) {
	module := CurrentModule()
	if module == nil {
		return
	}
	run.Job = normalizeLabel(run.Job)
	run.Result = normalizeLabel(run.Result)
	run.Message = strings.TrimSpace(run.Message)

	now := time.Now().UTC()
	module.metrics.observeRun(run, now)
	module.stats.recordJob(run, now)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}
