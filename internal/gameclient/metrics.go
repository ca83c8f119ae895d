package gameclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "tickclient"
	metricsSubsystem = "client"
)

// metrics клиента. Без Registerer метрики создаются, но нигде не регистрируются.
type metrics struct {
	connects        *prometheus.CounterVec
	disconnects     prometheus.Counter
	framesReceived  prometheus.Counter
	decodeErrors    prometheus.Counter
	framesSent      prometheus.Counter
	sendDropped     *prometheus.CounterVec
	transportErrors prometheus.Counter
	state           prometheus.Gauge
	lastTick        prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, clientID string) *metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"client_id": clientID}

	return &metrics{
		connects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "connects_total",
			Help:        "Connect attempts by result (ok, error, cancelled)",
			ConstLabels: labels,
		}, []string{"result"}),

		disconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "disconnects_total",
			Help:        "Established connections that ended",
			ConstLabels: labels,
		}),

		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "frames_received_total",
			Help:        "Text frames read from the server",
			ConstLabels: labels,
		}),

		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "decode_errors_total",
			Help:        "Frames dropped because they could not be decoded",
			ConstLabels: labels,
		}),

		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "frames_sent_total",
			Help:        "Frames written to the server",
			ConstLabels: labels,
		}),

		sendDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "send_dropped_total",
			Help:        "Outgoing messages dropped by reason",
			ConstLabels: labels,
		}, []string{"reason"}),

		transportErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "transport_errors_total",
			Help:        "Read/write failures on an open connection",
			ConstLabels: labels,
		}),

		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "state",
			Help:        "Connection state (0 disconnected, 1 connecting, 2 connected, 3 disconnecting)",
			ConstLabels: labels,
		}),

		lastTick: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "last_tick",
			Help:        "Last tick counter seen by the consumer",
			ConstLabels: labels,
		}),
	}
}
