package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/telvox/pkg/logging"
	"github.com/harunnryd/telvox/pkg/metrics"
)

// LatencyObserver logs one breakdown line per turn: final transcript to
// first LLM token, first synthesized audio and end of playback.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*turnTrace
	log    *slog.Logger
}

type turnTrace struct {
	sttFinal time.Time
	llmFirst time.Time
	llmDone  time.Time
	ttsFirst time.Time
	traceID  string
	callSID  string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	return &LatencyObserver{
		traces: make(map[string]*turnTrace),
		log:    logging.NewComponentLogger(log, "latency"),
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	streamID := ev.Tags[metrics.TagStreamID]
	if streamID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if ev.Name == metrics.EventCallEnded {
		delete(o.traces, streamID)
		return
	}
	t := o.traces[streamID]
	if t == nil {
		if ev.Name != metrics.EventTurnStarted {
			return
		}
		t = &turnTrace{traceID: ev.Tags[metrics.TagTraceID], callSID: ev.Tags[metrics.TagCallSID]}
		o.traces[streamID] = t
	}
	switch ev.Name {
	case metrics.EventTurnStarted:
		*t = turnTrace{sttFinal: ev.Time, traceID: t.traceID, callSID: t.callSID}
	case metrics.EventLLMFirstToken:
		if t.llmFirst.IsZero() {
			t.llmFirst = ev.Time
		}
	case metrics.EventLLMDone:
		t.llmDone = ev.Time
	case metrics.EventTTSFirstAudio:
		if t.ttsFirst.IsZero() {
			t.ttsFirst = ev.Time
		}
	case metrics.EventTurnCompleted:
		o.log.Info("turn_latency",
			"stream_id", streamID,
			"call_sid", t.callSID,
			"trace_id", t.traceID,
			"llm_first_token_ms", durationMs(t.sttFinal, t.llmFirst),
			"llm_total_ms", durationMs(t.sttFinal, t.llmDone),
			"tts_first_audio_ms", durationMs(t.sttFinal, t.ttsFirst),
			"turn_ms", int64(ev.Value),
		)
		delete(o.traces, streamID)
	}
}

// Pending reports how many turns are awaiting completion.
func (o *LatencyObserver) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.traces)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}

var _ metrics.Observer = (*LatencyObserver)(nil)
