package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/kbguard/internal/monitoring"
)

const (
	defaultMaintenanceMaxAge = 26 * time.Hour
	downAfterFailures        = 3
)

// Maintenance degrades readiness when a job has failed or has not run within maxAge, and
// reports down after repeated failures. Zero maxAge allows a little over a day so the daily
// audit retention job is covered.
func Maintenance(maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		summary := monitoring.Snapshot()

		result := monitoring.ProbeResult{Status: monitoring.StatusUp}
		if len(summary.Maintenance.Jobs) == 0 {
			result.Details = "no maintenance jobs registered"
			result.Duration = time.Since(start)
			return result
		}

		var problems []string
		for _, job := range summary.Maintenance.Jobs {
			status, problem := jobHealth(job, summary.GeneratedAt, maxAge)
			if problem == "" {
				continue
			}
			problems = append(problems, job.Job+": "+problem)
			result.Status = worse(result.Status, status)
		}

		result.Details = strings.Join(problems, "; ")
		result.Duration = time.Since(start)
		return result
	})
}

func jobHealth(job monitoring.MaintenanceJobSummary, now time.Time, maxAge time.Duration) (monitoring.ProbeStatus, string) {
	switch {
	case job.TotalRuns == 0:
		return monitoring.StatusUp, "pending first run"
	case job.ConsecutiveFailures >= downAfterFailures:
		return monitoring.StatusDown, job.LastError
	case job.ConsecutiveFailures > 0:
		return monitoring.StatusDegraded, job.LastError
	case now.Sub(job.LastRunAt) > maxAge:
		return monitoring.StatusDegraded, fmt.Sprintf("stale run %s", job.LastRunAt.UTC().Format(time.RFC3339))
	}
	return monitoring.StatusUp, ""
}

var statusRank = map[monitoring.ProbeStatus]int{
	monitoring.StatusUp:       0,
	monitoring.StatusDegraded: 1,
	monitoring.StatusDown:     2,
}

func worse(a, b monitoring.ProbeStatus) monitoring.ProbeStatus {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}
