package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	channelConnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netchan",
			Subsystem: "channel",
			Name:      "connects_total",
			Help:      "Completed connect attempts by outcome.",
		},
		[]string{"channel", "success"},
	)
	channelCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netchan",
			Subsystem: "channel",
			Name:      "closes_total",
			Help:      "Channel close transitions.",
		},
		[]string{"channel"},
	)
	packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netchan",
			Subsystem: "channel",
			Name:      "packets_sent_total",
			Help:      "Packets fully flushed to the socket.",
		},
		[]string{"channel"},
	)
	bytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netchan",
			Subsystem: "channel",
			Name:      "bytes_sent_total",
			Help:      "Bytes written to the socket.",
		},
		[]string{"channel"},
	)
	packetsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netchan",
			Subsystem: "channel",
			Name:      "packets_received_total",
			Help:      "Packets framed and decoded from the socket.",
		},
		[]string{"channel"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netchan",
			Subsystem: "channel",
			Name:      "bytes_received_total",
			Help:      "Bytes read from the socket.",
		},
		[]string{"channel"},
	)
	missedHeartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netchan",
			Subsystem: "channel",
			Name:      "missed_heartbeats_total",
			Help:      "Missed heartbeat notifications.",
		},
		[]string{"channel"},
	)
	channelErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netchan",
			Subsystem: "channel",
			Name:      "errors_total",
			Help:      "Channel errors by code.",
		},
		[]string{"channel", "code"},
	)
	sendQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "netchan",
			Subsystem: "channel",
			Name:      "send_queue_depth",
			Help:      "Outbound packets waiting to be serialized.",
		},
		[]string{"channel"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			channelConnects,
			channelCloses,
			packetsSent,
			bytesSent,
			packetsReceived,
			bytesReceived,
			missedHeartbeats,
			channelErrors,
			sendQueueDepth,
		)
	})
}

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordConnect(channel string, success bool) {
	RegisterMetrics()
	label := "false"
	if success {
		label = "true"
	}
	channelConnects.WithLabelValues(channel, label).Inc()
}

func RecordClose(channel string) {
	RegisterMetrics()
	channelCloses.WithLabelValues(channel).Inc()
}

func RecordBytesSent(channel string, n int) {
	RegisterMetrics()
	bytesSent.WithLabelValues(channel).Add(float64(n))
}

func RecordPacketSent(channel string) {
	RegisterMetrics()
	packetsSent.WithLabelValues(channel).Inc()
}

func RecordBytesReceived(channel string, n int) {
	RegisterMetrics()
	bytesReceived.WithLabelValues(channel).Add(float64(n))
}

func RecordPacketReceived(channel string) {
	RegisterMetrics()
	packetsReceived.WithLabelValues(channel).Inc()
}

func RecordMissedHeartbeat(channel string) {
	RegisterMetrics()
	missedHeartbeats.WithLabelValues(channel).Inc()
}

func RecordError(channel, code string) {
	RegisterMetrics()
	channelErrors.WithLabelValues(channel, code).Inc()
}

func SetSendQueueDepth(channel string, depth int) {
	RegisterMetrics()
	sendQueueDepth.WithLabelValues(channel).Set(float64(depth))
}
