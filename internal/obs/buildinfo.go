package obs

import "github.com/prometheus/client_golang/prometheus"

// Build metadata, overridden at link time with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "none"
)

func newBuildInfo() *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "CardiaVue API build information.",
		},
		[]string{"version", "commit"},
	)
}

// SetBuildInfo exports build_info{version,commit} 1.
func (m *Metrics) SetBuildInfo(version, commit string) {
	m.buildInfo.Reset()
	m.buildInfo.WithLabelValues(version, commit).Set(1)
}
