package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/telvox/pkg/adapters/stt"
	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/frames"
)

type STTConfig struct {
	// Transcripts are emitted one per utterance, in order.
	Transcripts []string
	// FramesPerUtterance is how many audio frames make one utterance.
	FramesPerUtterance int
	EmitInterim        bool
	EmitVAD            bool
	ConnectErr         error
}

// STT turns every FramesPerUtterance received frames into a scripted
// recognition result.
type STT struct {
	cfg    STTConfig
	events chan stt.Event

	mu        sync.Mutex
	connected bool
	closed    bool
	received  int
	next      int
}

func NewSTT(cfg STTConfig) *STT {
	if len(cfg.Transcripts) == 0 {
		cfg.Transcripts = []string{"mock transcript"}
	}
	if cfg.FramesPerUtterance <= 0 {
		cfg.FramesPerUtterance = 50
	}
	return &STT{cfg: cfg, events: make(chan stt.Event, 64)}
}

func (s *STT) Name() string { return "mock_stt" }

func (s *STT) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.NewProviderError("mock_stt", "connect", errors.New("stream closed"), errorsx.ReasonSTTConnect)
	}
	if s.cfg.ConnectErr != nil {
		return errorsx.NewProviderError("mock_stt", "connect", s.cfg.ConnectErr, errorsx.ReasonSTTConnect)
	}
	s.connected = true
	s.emitLocked(stt.Event{Type: stt.EventConnected})
	return nil
}

func (s *STT) SendAudio(frames.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errorsx.NewProviderError("mock_stt", "send", errors.New("not connected"), errorsx.ReasonSTTNotConnected)
	}
	s.received++
	pos := s.received % s.cfg.FramesPerUtterance
	if pos == 1 && s.cfg.EmitVAD {
		s.emitLocked(stt.Event{Type: stt.EventSpeechStarted})
	}
	if pos != 0 {
		return nil
	}
	text := s.cfg.Transcripts[s.next%len(s.cfg.Transcripts)]
	s.next++
	now := time.Now()
	if s.cfg.EmitInterim {
		s.emitLocked(stt.Event{Type: stt.EventTranscript, Transcript: stt.Transcript{Text: text, Confidence: 0.5, Timestamp: now}})
	}
	s.emitLocked(stt.Event{Type: stt.EventTranscript, Transcript: stt.Transcript{Text: text, IsFinal: true, Confidence: 0.99, Timestamp: now}})
	s.emitLocked(stt.Event{Type: stt.EventUtteranceEnd})
	return nil
}

func (s *STT) Events() <-chan stt.Event { return s.events }

func (s *STT) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *STT) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.connected = false
	close(s.events)
	return nil
}

func (s *STT) emitLocked(ev stt.Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

var _ stt.Stream = (*STT)(nil)
