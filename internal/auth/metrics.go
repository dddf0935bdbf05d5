package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics は認証レイヤーの Prometheus メトリクスです。nil のまま渡すと何も記録しません。
type Metrics struct {
	logins        *prometheus.CounterVec
	csrfRejected  *prometheus.CounterVec
	staleBindings prometheus.Counter
}

// NewMetrics は reg にメトリクスを登録します。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "okrclub",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by result (success, failure, throttled, error).",
		}, []string{"result"}),
		csrfRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "okrclub",
			Subsystem: "auth",
			Name:      "csrf_rejections_total",
			Help:      "Unsafe requests rejected by the CSRF guard.",
		}, []string{"reason"}),
		staleBindings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "okrclub",
			Subsystem: "auth",
			Name:      "stale_session_bindings_total",
			Help:      "Sessions bound to a user that no longer exists.",
		}),
	}
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) csrfRejection(reason string) {
	if m == nil {
		return
	}
	m.csrfRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) staleBinding() {
	if m == nil {
		return
	}
	m.staleBindings.Inc()
}
