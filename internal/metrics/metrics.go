package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the assistant's Prometheus collectors.
type Metrics struct {
	// Voice capture / transmit
	FramesCaptured prometheus.Counter
	FramesBuffered prometheus.Counter
	FramesSent     prometheus.Counter
	SendErrors     prometheus.Counter

	// Voice playback
	BlobsScheduled prometheus.Counter
	DecodeErrors   prometheus.Counter
	ActivePlayback prometheus.Gauge

	// Voice sessions
	SessionsOpened  prometheus.Counter
	SessionsErrored *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge

	// Text chat
	ChatTurns      prometheus.Counter
	ChatFailures   prometheus.Counter
	ChatChunks     prometheus.Counter
	AuditInsights  *prometheus.CounterVec
	WidgetSessions prometheus.Gauge
}

// New registers every collector on reg. Pass a fresh prometheus.NewRegistry()
// in tests to keep them isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_frames_captured_total",
			Help: "Microphone frames encoded by the capture pipeline",
		}),
		FramesBuffered: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_frames_buffered_total",
			Help: "Frames held back until the live session became active",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_frames_sent_total",
			Help: "Frames written to the live transport",
		}),
		SendErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_send_errors_total",
			Help: "Failed writes to the live transport",
		}),
		BlobsScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_blobs_scheduled_total",
			Help: "Inbound audio blobs scheduled for playback",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_decode_errors_total",
			Help: "Inbound audio blobs dropped as malformed",
		}),
		ActivePlayback: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_active_playback",
			Help: "Buffers currently scheduled or playing",
		}),
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_opened_total",
			Help: "Live sessions that reached the active state",
		}),
		SessionsErrored: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_sessions_errored_total",
			Help: "Live sessions that ended in the errored state",
		}, []string{"kind"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "voice_active_sessions",
			Help: "Live sessions currently connecting or active",
		}),
		ChatTurns: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Text turns sent",
		}),
		ChatFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_failures_total",
			Help: "Text turns whose stream failed",
		}),
		ChatChunks: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_chunks_total",
			Help: "Streamed response chunks appended to assistant turns",
		}),
		AuditInsights: f.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_insights_total",
			Help: "Audit insight requests by outcome",
		}, []string{"outcome"}),
		WidgetSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "widget_sessions",
			Help: "Widget sessions held in memory",
		}),
	}
}

// Discard returns collectors bound to a throwaway registry.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
