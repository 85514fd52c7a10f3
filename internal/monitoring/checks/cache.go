package checks

import (
	"context"
	"time"

	"github.com/charlesng35/kbguard/internal/cache"
	"github.com/charlesng35/kbguard/internal/monitoring"
)

// Cache probes the permission cache backend. Stores without a Ping method (the
// in-process LRU) always report up. A failing cache only degrades readiness because
// the checker falls back to the grant store.
func Cache(store cache.Store, backend string) monitoring.Check {
	name := "cache"
	if backend != "" {
		name = "cache:" + backend
	}
	return monitoring.NewCheck(name, func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "cache not configured",
				Duration: time.Since(start),
			}
		}

		pinger, ok := store.(cache.Pinger)
		if !ok {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "in-process", Duration: time.Since(start)}
		}
		if err := pinger.Ping(ctx); err != nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  err.Error(),
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}
