package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	HeartbeatsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "heartbeats_sent_total",
			Help:      "Total number of heartbeats sent to the multicast group.",
		},
	)

	HeartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "heartbeats_received_total",
			Help:      "Total number of heartbeats received from other members.",
		},
	)

	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "messages_sent_total",
			Help:      "Total number of application broadcast datagrams sent.",
		},
	)

	MessagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "messages_received_total",
			Help:      "Total number of application messages handed to the listener.",
		},
	)

	MalformedPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "malformed_packets_total",
			Help:      "Datagrams dropped because they could not be decoded.",
		},
		[]string{"kind"},
	)

	IOErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "io_errors_total",
			Help:      "Socket errors in the sender and receiver loops.",
		},
		[]string{"direction"},
	)

	MemberEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "member_events_total",
			Help:      "Membership changes observed by this node.",
		},
		[]string{"event"},
	)

	Members = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "beacon",
			Name:      "members",
			Help:      "Number of peers currently in the membership table.",
		},
	)

	Recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beacon",
			Name:      "recoveries_total",
			Help:      "Transport recovery attempts.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		HeartbeatsSent,
		HeartbeatsReceived,
		MessagesSent,
		MessagesReceived,
		MalformedPackets,
		IOErrors,
		MemberEvents,
		Members,
		Recoveries,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
