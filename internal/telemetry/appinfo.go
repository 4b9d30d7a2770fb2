package telemetry

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/host"
)

// AppInfoName is the application info gauge.
const AppInfoName = Namespace + "_app_info"

// hostInfo is replaced in tests.
var hostInfo = host.Info

// appInfoLabels describes the running binary and its host. Host details
// fall back to the Go runtime values when gopsutil cannot read them.
func appInfoLabels(version string) prometheus.Labels {
	labels := prometheus.Labels{
		"version":          version,
		"go_version":       runtime.Version(),
		"os":               runtime.GOOS,
		"platform":         runtime.GOOS,
		"platform_version": "",
		"kernel_arch":      runtime.GOARCH,
	}

	info, err := hostInfo()
	if err != nil || info == nil {
		return labels
	}
	if info.OS != "" {
		labels["os"] = info.OS
	}
	if info.Platform != "" {
		labels["platform"] = info.Platform
	}
	labels["platform_version"] = info.PlatformVersion
	if info.KernelArch != "" {
		labels["kernel_arch"] = info.KernelArch
	}
	return labels
}

// registerAppInfo registers the constant ziggy_app_info gauge.
func registerAppInfo(reg prometheus.Registerer, version string) (prometheus.Labels, error) {
	labels := appInfoLabels(version)
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        AppInfoName,
		Help:        "ziggy build and host information",
		ConstLabels: labels,
	})
	g.Set(1)
	if err := reg.Register(g); err != nil {
		return nil, err
	}
	return labels, nil
}
