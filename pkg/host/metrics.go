package host

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

type metrics struct {
	calls   *prometheus.CounterVec
	notices prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intent_notifier",
			Subsystem: "host",
			Name:      "calls_total",
			Help:      "Calls dispatched to the settlement notifier segmented by method and outcome.",
		}, []string{"method", "outcome"}),
		notices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intent_notifier",
			Subsystem: "host",
			Name:      "notices_total",
			Help:      "Settlement notices appended to the event stream.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.calls, m.notices} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observe(method, outcome string) {
	m.calls.WithLabelValues(method, outcome).Inc()
}
