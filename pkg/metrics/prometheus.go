package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusObserver folds engine events into Prometheus collectors.
type PrometheusObserver struct {
	registry *prometheus.Registry

	ActiveCalls    prometheus.Gauge
	CallsTotal     prometheus.Counter
	Turns          prometheus.Counter
	TurnLatency    prometheus.Histogram
	BargeIns       prometheus.Counter
	Fallbacks      prometheus.Counter
	DroppedFinals  prometheus.Counter
	FramesSent     prometheus.Counter
	FramesDropped  *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	BreakerOpen    *prometheus.GaugeVec
}

// NewPrometheusObserver registers collectors on reg. A nil reg gets a fresh
// registry with the Go and process collectors.
func NewPrometheusObserver(reg *prometheus.Registry) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)
	return &PrometheusObserver{
		registry: reg,
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Name: "telvox_active_calls",
			Help: "Current number of active calls",
		}),
		CallsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "telvox_calls_total",
			Help: "Total number of calls started",
		}),
		Turns: f.NewCounter(prometheus.CounterOpts{
			Name: "telvox_turns_total",
			Help: "Total number of completed turns",
		}),
		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "telvox_turn_latency_seconds",
			Help:    "Time from final transcript to end of reply playback",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),
		BargeIns: f.NewCounter(prometheus.CounterOpts{
			Name: "telvox_barge_ins_total",
			Help: "Total number of playbacks interrupted by the caller",
		}),
		Fallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "telvox_fallbacks_total",
			Help: "Total number of fallback utterances spoken",
		}),
		DroppedFinals: f.NewCounter(prometheus.CounterOpts{
			Name: "telvox_transcripts_dropped_total",
			Help: "Final transcripts ignored because a turn was in flight",
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "telvox_audio_frames_sent_total",
			Help: "Total number of outbound audio frames",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "telvox_audio_frames_dropped_total",
			Help: "Inbound audio frames dropped before recognition",
		}, []string{"reason"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "telvox_provider_errors_total",
			Help: "Provider failures by provider",
		}, []string{"provider"}),
		BreakerOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "telvox_breaker_open",
			Help: "1 while a provider circuit breaker is open",
		}, []string{"breaker"}),
	}
}

func (p *PrometheusObserver) RecordEvent(ev MetricsEvent) {
	switch ev.Name {
	case EventCallStarted:
		p.ActiveCalls.Inc()
		p.CallsTotal.Inc()
	case EventCallEnded:
		p.ActiveCalls.Dec()
	case EventTurnCompleted:
		p.Turns.Inc()
		p.TurnLatency.Observe(ev.Value / 1000)
	case EventBargeIn:
		p.BargeIns.Inc()
	case EventFallback:
		p.Fallbacks.Inc()
	case EventTranscriptDropped:
		p.DroppedFinals.Inc()
	case EventAudioOut:
		if ev.Value > 0 {
			p.FramesSent.Add(ev.Value)
		}
	case EventAudioInDropped:
		p.FramesDropped.WithLabelValues(ev.Tags[TagReason]).Inc()
	case EventProviderError:
		p.ProviderErrors.WithLabelValues(ev.Tags[TagProvider]).Inc()
	case EventBreakerOpen:
		p.BreakerOpen.WithLabelValues(ev.Tags[TagProvider]).Set(1)
	case EventBreakerClose:
		p.BreakerOpen.WithLabelValues(ev.Tags[TagProvider]).Set(0)
	}
}

// Registry exposes the underlying registry.
func (p *PrometheusObserver) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusObserver) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
