package peerconn

import "github.com/prometheus/client_golang/prometheus"

// Metrics 连接客户端指标，nil 时所有记录方法为空操作
type Metrics struct {
	framesSent     *prometheus.CounterVec
	sendFailures   *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	reconnects     prometheus.Counter
}

// NewMetrics 创建并注册指标，reg 为空时使用默认注册器
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peer_frames_sent_total",
			Help: "Frames written to the peer connection",
		}, []string{"type"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peer_send_failures_total",
			Help: "Failed frame sends to the peer connection",
		}, []string{"type"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peer_frames_received_total",
			Help: "Frames read from the peer connection",
		}, []string{"type"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peer_reconnects_total",
			Help: "Successful peer re-dials after a broken connection",
		}),
	}
	reg.MustRegister(m.framesSent, m.sendFailures, m.framesReceived, m.reconnects)
	return m
}

func (m *Metrics) sent(typ string) {
	if m != nil {
		m.framesSent.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) sendFailed(typ string) {
	if m != nil {
		m.sendFailures.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) received(typ string) {
	if m != nil {
		m.framesReceived.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) reconnected() {
	if m != nil {
		m.reconnects.Inc()
	}
}
