// Package metrics exposes prometheus counters and gauges for the pieces
// of the server an operator would actually want to watch: accepted and
// drained connections, datagrams in each direction, and the handshake
// outcomes that end a connection early.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "wtserver"

var (
	ConnectionsAccepted = prometheus.NewCounter(prometheus.CounterOpts{ //nolint:promlinter
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "accepted_total",
		Help:      "Number of QUIC connections accepted by the endpoint",
	})

	ConnectionsDrained = prometheus.NewCounter(prometheus.CounterOpts{ //nolint:promlinter
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "drained_total",
		Help:      "Number of QUIC connections removed after draining",
	})

	HandshakeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{ //nolint:promlinter
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "failures_total",
			Help:      "Number of WebTransport handshakes that failed, by reason",
		},
		[]string{"reason"},
	)

	DatagramsReceived = prometheus.NewCounter(prometheus.CounterOpts{ //nolint:promlinter
		Namespace: namespace,
		Subsystem: "datagram",
		Name:      "received_total",
		Help:      "Number of WebTransport datagrams received",
	})

	DatagramsSent = prometheus.NewCounter(prometheus.CounterOpts{ //nolint:promlinter
		Namespace: namespace,
		Subsystem: "datagram",
		Name:      "sent_total",
		Help:      "Number of WebTransport datagrams sent",
	})

	DatagramsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{ //nolint:promlinter
			Namespace: namespace,
			Subsystem: "datagram",
			Name:      "dropped_total",
			Help:      "Number of WebTransport datagrams dropped, by reason",
		},
		[]string{"reason"},
	)

	UDPBytesSent = prometheus.NewCounter(prometheus.CounterOpts{ //nolint:promlinter
		Namespace: namespace,
		Subsystem: "udp",
		Name:      "sent_bytes_total",
		Help:      "Number of UDP payload bytes written to the socket",
	})

	UDPBytesReceived = prometheus.NewCounter(prometheus.CounterOpts{ //nolint:promlinter
		Namespace: namespace,
		Subsystem: "udp",
		Name:      "received_bytes_total",
		Help:      "Number of UDP payload bytes read from the socket",
	})

	SessionRTT = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "rtt_seconds",
			Help:      "Most recently observed RTT per connection",
		},
		[]string{"conn"},
	)
)

// MustRegister registers every collector in this package against r. It
// panics on a duplicate registration, matching prometheus's own
// MustRegister semantics -- a duplicated metric name is a programming
// error, not a runtime condition to recover from.
func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		ConnectionsAccepted,
		ConnectionsDrained,
		HandshakeFailures,
		DatagramsReceived,
		DatagramsSent,
		DatagramsDropped,
		UDPBytesSent,
		UDPBytesReceived,
		SessionRTT,
	)
}
