package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bridge's Prometheus collectors.
// All methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	callsActive   prometheus.Gauge
	callsTotal    *prometheus.CounterVec
	callsDuration prometheus.Histogram

	inboundFrames *prometheus.CounterVec
	decodeErrors  prometheus.Counter

	outputQueued     prometheus.Gauge
	outputDropped    *prometheus.CounterVec
	outputInterrupts prometheus.Counter

	eventsPublished    *prometheus.CounterVec
	subscriberFailures *prometheus.CounterVec

	callControl *prometheus.CounterVec
}

// New registers all collectors on reg. Pass prometheus.DefaultRegisterer in main
// and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		callsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_calls_active",
			Help: "Conversations currently bridged in this process",
		}),
		callsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_calls_total",
			Help: "Conversations finished, by direction and outcome",
		}, []string{"direction", "outcome"}),
		callsDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_call_duration_seconds",
			Help:    "Duration of connected conversations",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		inboundFrames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_inbound_frames_total",
			Help: "Decoded carrier frames by event",
		}, []string{"event"}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_inbound_decode_errors_total",
			Help: "Carrier frames that could not be decoded and were dropped",
		}),
		outputQueued: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_output_queue_depth",
			Help: "Audio chunks waiting for playback across all conversations",
		}),
		outputDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_output_chunks_dropped_total",
			Help: "Audio chunks discarded before playback",
		}, []string{"reason"}), // "overflow", "interrupted"
		outputInterrupts: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_output_interrupts_total",
			Help: "Barge-in interruptions",
		}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_events_published_total",
			Help: "Domain events published on the bus",
		}, []string{"type"}),
		subscriberFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_event_subscriber_failures_total",
			Help: "Subscriber errors and panics isolated by the bus",
		}, []string{"subscriber"}),
		callControl: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_call_control_requests_total",
			Help: "Carrier REST requests by operation and outcome",
		}, []string{"operation", "outcome"}),
	}
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.callsActive.Inc()
}

func (m *Metrics) CallFinished(direction, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.callsActive.Dec()
	m.callsTotal.WithLabelValues(direction, outcome).Inc()
	if d > 0 {
		m.callsDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) InboundFrame(event string) {
	if m == nil {
		return
	}
	m.inboundFrames.WithLabelValues(event).Inc()
}

func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) QueueDelta(n int) {
	if m == nil || n == 0 {
		return
	}
	m.outputQueued.Add(float64(n))
}

func (m *Metrics) ChunksDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.outputDropped.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) Interrupted() {
	if m == nil {
		return
	}
	m.outputInterrupts.Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SubscriberFailed(name string) {
	if m == nil {
		return
	}
	m.subscriberFailures.WithLabelValues(name).Inc()
}

func (m *Metrics) CallControl(operation, outcome string) {
	if m == nil {
		return
	}
	m.callControl.WithLabelValues(operation, outcome).Inc()
}
