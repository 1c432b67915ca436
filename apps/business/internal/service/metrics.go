package service

import "github.com/prometheus/client_golang/prometheus"

// Metrics 关系变更指标，nil 时不记录
type Metrics struct {
	transitions    *prometheus.CounterVec
	notifyFailures prometheus.Counter
	conflicts      prometheus.Counter
}

// NewMetrics 创建并注册指标，reg 为空时使用默认注册器
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relation_transitions_total",
			Help: "Friend relationship state transitions",
		}, []string{"kind"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relation_notify_failures_total",
			Help: "Committed transitions whose notification could not be delivered",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relation_create_conflicts_total",
			Help: "Concurrent first requests that lost the insert race and were retried",
		}),
	}
	reg.MustRegister(m.transitions, m.notifyFailures, m.conflicts)
	return m
}

func (m *Metrics) transition(kind string) {
	if m != nil {
		m.transitions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) notifyFailed() {
	if m != nil {
		m.notifyFailures.Inc()
	}
}

func (m *Metrics) conflict() {
	if m != nil {
		m.conflicts.Inc()
	}
}
