package monitoring

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options control monitoring module configuration.
type Options struct {
	// Namespace prefixes the module's series. Defaults to "kbguard".
	Namespace string
	// BuildInfo adds the Go build info collector to the module registry.
	BuildInfo bool
}

// Module owns the maintenance collectors, the operator summary and the health probes.
// Decision and request series from pkg/metrics live on the default registry and are
// served alongside the module registry by Handler.
type Module struct {
	registry *prometheus.Registry
	metrics  *maintenanceCollectors
	stats    *statStore
	health   *HealthManager
}

// NewModule builds a module with a private Prometheus registry.
func NewModule(opts Options) (*Module, error) {
	namespace := strings.TrimSpace(opts.Namespace)
	if namespace == "" {
		namespace = "kbguard"
	}

	registry := prometheus.NewRegistry()
	maintenance := newCollectors(namespace)
	registered := maintenance.all()
	if opts.BuildInfo {
		registered = append(registered, collectors.NewBuildInfoCollector())
	}
	for _, collector := range registered {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("monitoring: register collector: %w", err)
		}
	}

	return &Module{
		registry: registry,
		metrics:  maintenance,
		stats:    newStatStore(),
		health:   NewHealthManager(),
	}, nil
}

// Registry exposes the module registry.
func (m *Module) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the module registry merged with the default gatherer.
func (m *Module) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, m.registry}, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Health exposes the liveness and readiness probes.
func (m *Module) Health() *HealthManager {
	if m == nil {
		return nil
	}
	return m.health
}

// Summary returns the module's operator summary.
func (m *Module) Summary() Summary {
	if m == nil || m.stats == nil {
		return Snapshot()
	}
	return m.stats.summary(time.Now().UTC())
}

var globalModule atomic.Pointer[Module]

// SetModule installs module as the target of the Record helpers. nil is ignored.
func SetModule(module *Module) {
	if module != nil {
		globalModule.Store(module)
	}
}

// CurrentModule returns the installed module, or nil before SetModule.
func CurrentModule() *Module {
	return globalModule.Load()
}
