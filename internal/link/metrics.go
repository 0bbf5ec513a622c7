package link

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the manager's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ConnectAttempts  prometheus.Counter
	ConnectFailures  *prometheus.CounterVec
	Reconnects       prometheus.Counter
	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter
	BytesReceived    prometheus.Counter
	BytesSent        prometheus.Counter
	SendFailures     prometheus.Counter
	State            prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linkctl",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts started.",
		}),
		ConnectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkctl",
			Name:      "connect_failures_total",
			Help:      "Connection errors by kind.",
		}, []string{"kind"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linkctl",
			Name:      "reconnects_total",
			Help:      "Attempts started by the reconnect timer.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linkctl",
			Name:      "messages_received_total",
			Help:      "Inbound messages delivered to the host.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linkctl",
			Name:      "messages_sent_total",
			Help:      "Outbound payloads accepted by the transport.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linkctl",
			Name:      "received_bytes_total",
			Help:      "Inbound payload bytes.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linkctl",
			Name:      "sent_bytes_total",
			Help:      "Outbound payload bytes.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "linkctl",
			Name:      "send_failures_total",
			Help:      "Payloads rejected by the transport.",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "linkctl",
			Name:      "state",
			Help:      "Current state (0 idle, 1 connecting, 2 connected, 3 disconnecting, 4 failed).",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ConnectAttempts, m.ConnectFailures, m.Reconnects,
			m.MessagesReceived, m.MessagesSent, m.BytesReceived, m.BytesSent,
			m.SendFailures, m.State,
		)
	}
	return m
}

func (m *Metrics) attempt() {
	if m != nil {
		m.ConnectAttempts.Inc()
	}
}

func (m *Metrics) failure(k Kind) {
	if m != nil {
		m.ConnectFailures.WithLabelValues(k.String()).Inc()
	}
}

func (m *Metrics) reconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) received(n int) {
	if m != nil {
		m.MessagesReceived.Inc()
		m.BytesReceived.Add(float64(n))
	}
}

func (m *Metrics) sent(n int) {
	if m != nil {
		m.MessagesSent.Inc()
		m.BytesSent.Add(float64(n))
	}
}

func (m *Metrics) sendFailed() {
	if m != nil {
		m.SendFailures.Inc()
	}
}

func (m *Metrics) state(s State) {
	if m != nil {
		m.State.Set(float64(s))
	}
}
