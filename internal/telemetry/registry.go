package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/ziggy/internal/device"
)

// Options configures NewRegistry.
type Options struct {
	// BridgeName is the value of the bridge_name label on bridge telemetry.
	BridgeName string

	// Tracker is the device activity tracker owned by the store.
	// Nil creates one that never evicts.
	Tracker *device.Tracker

	// Version is reported on ziggy_app_info.
	Version string

	// RuntimeCollectors adds the Go runtime and process collectors.
	RuntimeCollectors bool
}

// Registry owns the Prometheus registry and everything exported through it:
// the operational metrics, the bridge telemetry store and app info.
type Registry struct {
	prom    *prometheus.Registry
	ops     *Ops
	store   *Store
	appInfo prometheus.Labels
}

// NewRegistry builds a private Prometheus registry with the operational
// metrics and the bridge telemetry store registered.
//
// Returns:
//   - *Registry: ready for Handler and the ingestion path
//   - error: if a collector fails to register
func NewRegistry(opts Options) (*Registry, error) {
	reg := prometheus.NewRegistry()

	r := &Registry{
		prom:  reg,
		ops:   newOps(reg),
		store: NewStore(opts.BridgeName, opts.Tracker),
	}

	if err := reg.Register(r.store); err != nil {
		return nil, fmt.Errorf("registering telemetry store: %w", err)
	}

	if opts.RuntimeCollectors {
		if err := reg.Register(collectors.NewGoCollector()); err != nil {
			return nil, fmt.Errorf("registering go collector: %w", err)
		}
		if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
			return nil, fmt.Errorf("registering process collector: %w", err)
		}
	}

	labels, err := registerAppInfo(reg, opts.Version)
	if err != nil {
		return nil, fmt.Errorf("registering app info: %w", err)
	}
	r.appInfo = labels

	return r, nil
}

// Gatherer returns the underlying registry for exposition and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prom
}

// Handler returns the text exposition handler. A collector error is
// reported but does not fail the whole scrape.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      r.prom,
	})
}

// Ops returns the operational metrics.
func (r *Registry) Ops() *Ops {
	return r.ops
}

// Store returns the bridge telemetry store.
func (r *Registry) Store() *Store {
	return r.store
}

// AppInfo returns the labels on ziggy_app_info.
func (r *Registry) AppInfo() map[string]string {
	out := make(map[string]string, len(r.appInfo))
	for k, v := range r.appInfo {
		out[k] = v
	}
	return out
}

// OperationalFamilies describes the ziggy_mqtt_ families.
func (r *Registry) OperationalFamilies() []FamilyInfo {
	return r.ops.Families()
}

// BridgeFamilies describes the registered ziggy_zigbee2mqtt_ families.
func (r *Registry) BridgeFamilies() []FamilyInfo {
	fams := r.store.Families()
	out := make([]FamilyInfo, len(fams))
	for i, f := range fams {
		out[i] = f.Info()
	}
	return out
}
