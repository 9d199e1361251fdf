package obs

// Set at link time with -ldflags "-X inkwell.org/internal/obs.Version=...".
var (
	Version = "dev"
	Commit  = "none"
)

// SetBuildInfo publishes build_info{version,commit} = 1.
func (m *Metrics) SetBuildInfo(version, commit string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version, commit).Set(1)
}
