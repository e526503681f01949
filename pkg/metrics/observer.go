package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Event names emitted by the engine, controller and providers.
const (
	EventCallStarted       = "call_started"
	EventCallEnded         = "call_ended"
	EventTranscriptFinal   = "stt_final"
	EventTranscriptDropped = "stt_final_dropped"
	EventTurnStarted       = "turn_started"
	EventTurnCompleted     = "turn_completed"
	EventLLMFirstToken     = "llm_first_token"
	EventLLMDone           = "llm_done"
	EventTTSFirstAudio     = "tts_first_audio"
	EventPlaybackCompleted = "playback_completed"
	EventPlaybackCanceled  = "playback_canceled"
	EventBargeIn           = "barge_in"
	EventFallback          = "fallback_spoken"
	EventAudioOut          = "audio_out"
	EventAudioInDropped    = "audio_in_dropped"
	EventProviderError     = "provider_error"
	EventTransportError    = "transport_error"
	EventBreakerOpen       = "breaker_open"
	EventBreakerClose      = "breaker_close"
)

// Tag keys.
const (
	TagStreamID  = "stream_id"
	TagCallSID   = "call_sid"
	TagTraceID   = "trace_id"
	TagProvider  = "provider"
	TagComponent = "component"
	TagReason    = "reason"
)

// Event builds an event stamped with the current time.
func Event(name string, value float64, tags map[string]string) MetricsEvent {
	return MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags}
}

// MultiObserver fans an event out to every non-nil observer.
type MultiObserver struct {
	list []Observer
}

func NewMultiObserver(list ...Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}
