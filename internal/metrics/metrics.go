package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the session subsystem
type Metrics struct {
	Refreshes      *prometheus.CounterVec
	RefreshWaiters prometheus.Counter
	Retries        *prometheus.CounterVec
	ForcedLogouts  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves them unregistered,
// which is what tests want when several instances coexist.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alumni_session_refreshes_total",
			Help: "Token refresh network calls by result",
		}, []string{"result"}),
		RefreshWaiters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alumni_session_refresh_waiters_total",
			Help: "Callers that joined an already in-flight refresh",
		}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alumni_session_request_retries_total",
			Help: "Requests resent after a 401 by backend domain and result",
		}, []string{"domain", "result"}),
		ForcedLogouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alumni_session_forced_logouts_total",
			Help: "Sessions terminated by the system by reason",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Refreshes, m.RefreshWaiters, m.Retries, m.ForcedLogouts)
	}
	return m
}

// ObserveRefresh records the outcome of one refresh network call
func (m *Metrics) ObserveRefresh(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Refreshes.WithLabelValues("failure").Inc()
		return
	}
	m.Refreshes.WithLabelValues("success").Inc()
}

// IncrementWaiters counts a caller that shared an in-flight refresh
func (m *Metrics) IncrementWaiters() {
	if m == nil {
		return
	}
	m.RefreshWaiters.Inc()
}

// ObserveRetry records a resend after a 401
func (m *Metrics) ObserveRetry(domain string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Retries.WithLabelValues(domain, result).Inc()
}

// IncrementForcedLogouts counts a forced logout broadcast
func (m *Metrics) IncrementForcedLogouts(reason string) {
	if m == nil {
		return
	}
	m.ForcedLogouts.WithLabelValues(reason).Inc()
}
