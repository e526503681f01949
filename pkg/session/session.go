package session

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/harunnryd/telvox/pkg/llm"
	"github.com/harunnryd/telvox/pkg/logging"
)

// Config holds per-call identifiers and limits.
type Config struct {
	CallSID      string
	StreamID     string
	TraceID      string
	HistoryLimit int
	Logger       *slog.Logger
}

// Session is the state of one call. Every field is guarded by a single
// mutex; listeners are notified after it is released.
type Session struct {
	callSID  string
	streamID string
	traceID  string
	created  time.Time
	logger   *slog.Logger

	mu                 sync.Mutex
	state              State
	processing         bool
	token              PlaybackToken
	tokens             *tokenSource
	lastSpeech         time.Time
	history            *History
	turnCount          int
	totalLatency       time.Duration
	bargeIns           int
	recognitionHealthy bool
	listeners          []StateListener
}

func New(cfg Config) *Session {
	now := time.Now()
	logger := logging.NewComponentLogger(cfg.Logger, "session").With(
		"stream_id", cfg.StreamID,
		"call_sid", cfg.CallSID,
	)
	return &Session{
		callSID:  cfg.CallSID,
		streamID: cfg.StreamID,
		traceID:  cfg.TraceID,
		created:  now,
		logger:   logger,
		state:    StateIdle,
		tokens:   newTokenSource(now.UnixNano()),
		history:  NewHistory(cfg.HistoryLimit),
	}
}

func (s *Session) CallSID() string  { return s.callSID }
func (s *Session) StreamID() string { return s.streamID }
func (s *Session) TraceID() string  { return s.traceID }

// AddListener registers a state listener.
func (s *Session) AddListener(l StateListener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session to a new state. Invalid transitions are
// dropped and reported as false.
func (s *Session) Transition(to State, reason string) bool {
	s.mu.Lock()
	change, ok := s.transitionLocked(to, reason)
	listeners := s.listeners
	s.mu.Unlock()
	if ok {
		notify(listeners, change)
	}
	return ok
}

// TransitionFrom moves the session only if it is currently in from.
func (s *Session) TransitionFrom(from, to State, reason string) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	change, ok := s.transitionLocked(to, reason)
	listeners := s.listeners
	s.mu.Unlock()
	if ok {
		notify(listeners, change)
	}
	return ok
}

func (s *Session) transitionLocked(to State, reason string) (StateChange, bool) {
	from := s.state
	if from == to {
		return StateChange{}, false
	}
	if !CanTransition(from, to) {
		s.logger.Debug("invalid_state_transition",
			"from", from.String(),
			"to", to.String(),
			"reason", reason,
		)
		return StateChange{}, false
	}
	s.state = to
	return StateChange{From: from, To: to, Reason: reason, Timestamp: time.Now()}, true
}

func notify(listeners []StateListener, changes ...StateChange) {
	for _, change := range changes {
		for _, l := range listeners {
			l.OnStateChange(change)
		}
	}
}

// TurnStart reports how BeginTurn treated a final transcript.
type TurnStart struct {
	Started     bool
	Busy        bool
	Interrupted bool
	ClearErr    error
	// State is the state that rejected the turn.
	State State
}

// BeginTurn claims the single in-flight turn slot and moves to Processing
// under one lock. A Speaking session is cut first when interrupt is set, as
// in Interrupt; otherwise the turn is rejected.
func (s *Session) BeginTurn(interrupt bool, clear func() error) TurnStart {
	s.mu.Lock()
	if s.processing || s.state == StateEnded {
		res := TurnStart{Busy: s.processing, State: s.state}
		s.mu.Unlock()
		return res
	}
	var res TurnStart
	var changes []StateChange
	if s.state == StateSpeaking {
		if !interrupt {
			s.mu.Unlock()
			return TurnStart{State: StateSpeaking}
		}
		changes, res.ClearErr = s.cutPlaybackLocked("final_transcript", clear)
		res.Interrupted = true
	}
	change, ok := s.transitionLocked(StateProcessing, "final_transcript")
	if ok {
		changes = append(changes, change)
		s.processing = true
		s.lastSpeech = time.Now()
		res.Started = true
	} else {
		res.State = s.state
	}
	listeners := s.listeners
	s.mu.Unlock()
	notify(listeners, changes...)
	return res
}

// EndTurn releases the turn slot.
func (s *Session) EndTurn() {
	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()
}

func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// BeginPlayback mints a new current token, superseding any previous one, and
// marks the session Speaking. When from is given the session must be in one
// of those states. It fails once the session has ended.
func (s *Session) BeginPlayback(reason string, from ...State) (PlaybackToken, bool) {
	s.mu.Lock()
	if s.state == StateEnded || (len(from) > 0 && !slices.Contains(from, s.state)) {
		s.mu.Unlock()
		return PlaybackToken{}, false
	}
	var changes []StateChange
	if s.state != StateSpeaking {
		change, ok := s.transitionLocked(StateSpeaking, reason)
		if !ok {
			s.mu.Unlock()
			return PlaybackToken{}, false
		}
		changes = append(changes, change)
	}
	s.token = s.tokens.next(time.Now())
	tok := s.token
	listeners := s.listeners
	s.mu.Unlock()
	notify(listeners, changes...)
	return tok, true
}

// IsCurrent reports whether tok is the current playback token.
func (s *Session) IsCurrent(tok PlaybackToken) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !tok.IsZero() && s.token == tok
}

// CurrentToken returns the current playback token, zero when idle.
func (s *Session) CurrentToken() PlaybackToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// SendIfCurrent calls send while holding the session lock, only if tok is
// still current. Invalidation cannot interleave between check and send.
func (s *Session) SendIfCurrent(tok PlaybackToken, send func() error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.IsZero() || s.token != tok {
		return false, nil
	}
	return true, send()
}

// EndPlayback clears tok and returns to Listening if tok is still current.
func (s *Session) EndPlayback(tok PlaybackToken, reason string) bool {
	s.mu.Lock()
	if tok.IsZero() || s.token != tok {
		s.mu.Unlock()
		return false
	}
	s.token = PlaybackToken{}
	change, ok := s.transitionLocked(StateListening, reason)
	listeners := s.listeners
	s.mu.Unlock()
	if ok {
		notify(listeners, change)
	}
	return true
}

// Interrupt handles caller speech during playback. If the session is
// Speaking the token is invalidated, clear is called under the lock and the
// session passes Interrupted on its way back to Listening.
func (s *Session) Interrupt(clear func() error) (bool, error) {
	s.mu.Lock()
	if s.state != StateSpeaking {
		s.mu.Unlock()
		return false, nil
	}
	changes, err := s.cutPlaybackLocked("barge_in", clear)
	listeners := s.listeners
	s.mu.Unlock()
	notify(listeners, changes...)
	return true, err
}

func (s *Session) cutPlaybackLocked(reason string, clear func() error) ([]StateChange, error) {
	s.token = PlaybackToken{}
	s.bargeIns++
	s.lastSpeech = time.Now()
	var err error
	if clear != nil {
		err = clear()
	}
	var changes []StateChange
	if change, ok := s.transitionLocked(StateInterrupted, reason); ok {
		changes = append(changes, change)
	}
	if change, ok := s.transitionLocked(StateListening, reason); ok {
		changes = append(changes, change)
	}
	return changes, err
}

// End discards the playback token and moves to Ended. It reports whether
// this call ended the session.
func (s *Session) End(reason string) bool {
	s.mu.Lock()
	s.token = PlaybackToken{}
	change, ok := s.transitionLocked(StateEnded, reason)
	listeners := s.listeners
	s.mu.Unlock()
	if ok {
		notify(listeners, change)
	}
	return ok
}

// AppendHistory adds a dialogue entry, evicting the oldest beyond the limit.
func (s *Session) AppendHistory(role llm.Role, text string) {
	s.mu.Lock()
	s.history.Append(role, text)
	s.mu.Unlock()
}

// History returns the dialogue entries without the system instruction.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Entries()
}

// Messages returns the system instruction followed by the dialogue entries.
func (s *Session) Messages(system string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Messages(system)
}

// RecordTurn folds a completed turn into the metrics.
func (s *Session) RecordTurn(latency time.Duration) {
	s.mu.Lock()
	s.turnCount++
	s.totalLatency += latency
	s.mu.Unlock()
}

func (s *Session) SetRecognitionHealthy(healthy bool) {
	s.mu.Lock()
	s.recognitionHealthy = healthy
	s.mu.Unlock()
}

func (s *Session) LastSpeech() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSpeech
}

// MetricsSnapshot is a point-in-time copy of per-call metrics.
type MetricsSnapshot struct {
	CallSID                string  `json:"callSid"`
	StreamID               string  `json:"streamId"`
	State                  string  `json:"state"`
	TurnCount              int     `json:"turnCount"`
	AvgResponseLatencyMs   float64 `json:"avgResponseLatencyMs"`
	TotalResponseLatencyMs int64   `json:"totalResponseLatencyMs"`
	RecognitionHealthy     bool    `json:"recognitionHealthy"`
	BargeIns               int     `json:"bargeIns"`
	HistoryLen             int     `json:"historyLen"`
	UptimeMs               int64   `json:"uptimeMs"`
}

func (s *Session) Snapshot() MetricsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := MetricsSnapshot{
		CallSID:                s.callSID,
		StreamID:               s.streamID,
		State:                  s.state.String(),
		TurnCount:              s.turnCount,
		TotalResponseLatencyMs: s.totalLatency.Milliseconds(),
		RecognitionHealthy:     s.recognitionHealthy,
		BargeIns:               s.bargeIns,
		HistoryLen:             s.history.Len(),
		UptimeMs:               time.Since(s.created).Milliseconds(),
	}
	if s.turnCount > 0 {
		snap.AvgResponseLatencyMs = float64(s.totalLatency.Microseconds()) / 1000 / float64(s.turnCount)
	}
	return snap
}
