package authority

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the authority's Prometheus collectors.
type Metrics struct {
	logins     *prometheus.CounterVec
	refreshes  *prometheus.CounterVec
	reuse      prometheus.Counter
	evicted    prometheus.Counter
	suspicious prometheus.Counter
	revoked    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secureauth_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secureauth_refresh_total",
			Help: "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		reuse: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secureauth_reuse_detected_total",
			Help: "Refresh token reuse detections (each revokes every session of the account).",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secureauth_sessions_evicted_total",
			Help: "Sessions evicted by the per-account cap.",
		}),
		suspicious: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "secureauth_suspicious_logins_total",
			Help: "Logins flagged suspicious by origin.",
		}),
		revoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "secureauth_sessions_revoked_total",
			Help: "Sessions revoked by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.logins, m.refreshes, m.reuse, m.evicted, m.suspicious, m.revoked)
	}
	return m
}

func (m *Metrics) login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) refresh(outcome string) {
	if m != nil {
		m.refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) reuseDetected() {
	if m != nil {
		m.reuse.Inc()
	}
}

func (m *Metrics) sessionsEvicted(n int) {
	if m != nil && n > 0 {
		m.evicted.Add(float64(n))
	}
}

func (m *Metrics) suspiciousLogin() {
	if m != nil {
		m.suspicious.Inc()
	}
}

func (m *Metrics) sessionsRevoked(reason string, n int) {
	if m != nil && n > 0 {
		m.revoked.WithLabelValues(reason).Add(float64(n))
	}
}

// SessionsPurged counts expired sessions removed by the reaper. Its signature
// fits session.Reaper.OnPurge.
func (m *Metrics) SessionsPurged(n int) {
	m.sessionsRevoked("expired", n)
}
