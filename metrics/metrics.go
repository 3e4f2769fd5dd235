package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons
const (
	DropDisconnected = "disconnected"
	DropSendError    = "send_error"
	DropEncode       = "encode"
	DropQueueFull    = "queue_full"
)

// Metrics holds the bridge counters for one session. Each session owns its
// registry so nothing is registered globally.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesSent      prometheus.Counter
	MessagesDropped   *prometheus.CounterVec
	InboundReceived   prometheus.Counter
	InboundIgnored    prometheus.Counter
	InboundApplied    prometheus.Counter
	HostWrites        prometheus.Counter
	CoalescedWrites   prometheus.Counter
	TicksWithTraffic  prometheus.Counter
	ReconnectAttempts prometheus.Counter
	ConnectionState   prometheus.Gauge
}

// New creates the counters on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker_bridge",
			Name:      "messages_sent_total",
			Help:      "Wire messages written to the device",
		}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracker_bridge",
			Name:      "messages_dropped_total",
			Help:      "Outbound or inbound messages discarded, by reason",
		}, []string{"reason"}),
		InboundReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker_bridge",
			Name:      "inbound_received_total",
			Help:      "Raw messages received from the device",
		}),
		InboundIgnored: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker_bridge",
			Name:      "inbound_ignored_total",
			Help:      "Inbound messages that matched no parameter",
		}),
		InboundApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker_bridge",
			Name:      "inbound_applied_total",
			Help:      "Inbound messages that changed a parameter",
		}),
		HostWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker_bridge",
			Name:      "host_writes_total",
			Help:      "Parameter writes from the host",
		}),
		CoalescedWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker_bridge",
			Name:      "coalesced_writes_total",
			Help:      "Pending updates replaced before dispatch",
		}),
		TicksWithTraffic: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker_bridge",
			Name:      "ticks_dispatched_total",
			Help:      "Scheduler ticks that dispatched at least one update",
		}),
		ReconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker_bridge",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect cycles started after a failure or request",
		}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "tracker_bridge",
			Name:      "connection_state",
			Help:      "0 disconnected, 1 searching, 2 connected",
		}),
	}
}
