package chat

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Frames         *prometheus.CounterVec
	FrameErrors    *prometheus.CounterVec
	Subscribers    prometheus.Gauge
	DroppedEvents  prometheus.Counter
	MessagesPosted prometheus.Counter
}

// NewMetrics registers the chat collectors on reg. A nil reg leaves them
// unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_frames_total",
			Help: "Inbound websocket frames by type.",
		}, []string{"type"}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_frame_errors_total",
			Help: "Frames answered with an error frame, by error kind.",
		}, []string{"kind"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomchat_bus_subscribers",
			Help: "Connections currently joined to a room on this instance.",
		}),
		DroppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_bus_dropped_events_total",
			Help: "Events dropped because a subscriber's send buffer was full.",
		}),
		MessagesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_messages_posted_total",
			Help: "Messages persisted through the websocket router.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Frames, m.FrameErrors, m.Subscribers, m.DroppedEvents, m.MessagesPosted)
	}
	return m
}
