package stomp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names.
const (
	MetricFramesSent        = "stomp_frames_sent_total"
	MetricFramesReceived    = "stomp_frames_received_total"
	MetricHeartbeatsSent    = "stomp_heartbeats_sent_total"
	MetricHeartbeatFailures = "stomp_heartbeat_failures_total"
	MetricMissingReceipts   = "stomp_missing_receipts_total"
)

// Metrics counts session traffic. A nil *Metrics records nothing.
type Metrics struct {
	framesSent        *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	heartbeatsSent    prometheus.Counter
	heartbeatFailures prometheus.Counter
	missingReceipts   prometheus.Counter
}

// NewMetrics registers the session counters with registerer. A nil
// registerer selects prometheus.DefaultRegisterer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricFramesSent,
			Help: "STOMP frames written, by command",
		}, []string{"command"}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: MetricFramesReceived,
			Help: "STOMP frames read, by command",
		}, []string{"command"}),
		heartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricHeartbeatsSent,
			Help: "Heartbeat lines written",
		}),
		heartbeatFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricHeartbeatFailures,
			Help: "Connections declared dead by heartbeat monitoring",
		}),
		missingReceipts: factory.NewCounter(prometheus.CounterOpts{
			Name: MetricMissingReceipts,
			Help: "Receipts that did not arrive in time",
		}),
	}
}

func (metrics *Metrics) frameSent(command string) {
	if metrics == nil {
		return
	}
	metrics.framesSent.WithLabelValues(command).Inc()
}

func (metrics *Metrics) frameReceived(command string) {
	if metrics == nil {
		return
	}
	if command == "" {
		command = "HEARTBEAT"
	}
	metrics.framesReceived.WithLabelValues(command).Inc()
}

func (metrics *Metrics) heartbeatSent() {
	if metrics == nil {
		return
	}
	metrics.heartbeatsSent.Inc()
}

func (metrics *Metrics) heartbeatFailed() {
	if metrics == nil {
		return
	}
	metrics.heartbeatFailures.Inc()
}

func (metrics *Metrics) receiptMissing() {
	if metrics == nil {
		return
	}
	metrics.missingReceipts.Inc()
}
