package chat

import (
	"time"

	"github.com/fyrsmithlabs/opsdesk/internal/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var healthStates = []realtime.Health{
	realtime.HealthConnecting,
	realtime.HealthConnected,
	realtime.HealthReconnecting,
	realtime.HealthDisconnected,
	realtime.HealthClosed,
}

// Metrics holds Prometheus metrics for the chat components. A nil *Metrics
// records nothing.
//
// Metrics:
//   - opsdesk_room_operations_total{op,result} - room joins and leaves
//   - opsdesk_messages_sent_total{status} - sends by outcome (sent, failed)
//   - opsdesk_messages_received_total - pushed messages applied to a transcript
//   - opsdesk_history_loads_total{result} - history fetches by outcome
//   - opsdesk_history_load_duration_seconds - history fetch latency
//   - opsdesk_connection_health{state} - 1 for the current health state
//   - opsdesk_unresolved_conversations - last known unresolved count
type Metrics struct {
	RoomOps          *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	MessagesReceived prometheus.Counter
	HistoryLoads     *prometheus.CounterVec
	HistoryDuration  prometheus.Histogram
	ConnectionHealth *prometheus.GaugeVec
	Unresolved       prometheus.Gauge
}

// NewMetrics creates chat metrics registered with reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RoomOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_room_operations_total",
				Help: "Total number of realtime room joins and leaves",
			},
			[]string{"op", "result"}, // op: join|leave, result: ok|error
		),
		MessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_messages_sent_total",
				Help: "Total number of operator messages sent",
			},
			[]string{"status"},
		),
		MessagesReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "opsdesk_messages_received_total",
				Help: "Total number of pushed messages applied to the open transcript",
			},
		),
		HistoryLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_history_loads_total",
				Help: "Total number of conversation history loads",
			},
			[]string{"result"},
		),
		HistoryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "opsdesk_history_load_duration_seconds",
				Help:    "Duration of conversation history loads in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
			},
		),
		ConnectionHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opsdesk_connection_health",
				Help: "Realtime connection health, 1 for the current state",
			},
			[]string{"state"},
		),
		Unresolved: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "opsdesk_unresolved_conversations",
				Help: "Number of unresolved issue conversations",
			},
		),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordRoomOp records a join or leave.
func (m *Metrics) RecordRoomOp(op string, err error) {
	if m == nil {
		return
	}
	m.RoomOps.WithLabelValues(op, result(err)).Inc()
}

// RecordSend records the outcome of a send.
func (m *Metrics) RecordSend(status Status) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(status.String()).Inc()
}

// RecordReceive records a pushed message.
func (m *Metrics) RecordReceive() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

// RecordHistoryLoad records a history fetch.
func (m *Metrics) RecordHistoryLoad(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.HistoryLoads.WithLabelValues(result(err)).Inc()
	m.HistoryDuration.Observe(elapsed.Seconds())
}

// SetHealth marks h as the current connection health.
func (m *Metrics) SetHealth(h realtime.Health) {
	if m == nil {
		return
	}
	for _, s := range healthStates {
		v := 0.0
		if s == h {
			v = 1
		}
		m.ConnectionHealth.WithLabelValues(string(s)).Set(v)
	}
}

// SetUnresolved records the unresolved conversation count.
func (m *Metrics) SetUnresolved(n int) {
	if m == nil {
		return
	}
	m.Unresolved.Set(float64(n))
}
