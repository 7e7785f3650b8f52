// Package metrics exposes Prometheus counters for the auth flows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
	OutcomeReuse    = "reuse"
)

// Auth groups the counters recorded by AuthService and the request gate.
// A nil *Auth is valid and records nothing.
type Auth struct {
	logins    *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	logouts   prometheus.Counter
	requests  *prometheus.CounterVec
}

// New registers the auth counters on reg.
func New(reg prometheus.Registerer) *Auth {
	m := &Auth{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "refreshes_total",
			Help:      "Refresh token rotations by outcome.",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "logouts_total",
			Help:      "Completed logouts.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "authenticated_requests_total",
			Help:      "Requests passing through the access token gate by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.logins, m.refreshes, m.logouts, m.requests)
	return m
}

func (m *Auth) Login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Auth) Refresh(outcome string) {
	if m != nil {
		m.refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Auth) Logout() {
	if m != nil {
		m.logouts.Inc()
	}
}

func (m *Auth) Request(outcome string) {
	if m != nil {
		m.requests.WithLabelValues(outcome).Inc()
	}
}
