package deepgram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/telvox/pkg/adapters/stt"
	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/frames"
	"github.com/harunnryd/telvox/pkg/logging"
	"github.com/harunnryd/telvox/pkg/redact"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const providerName = "deepgram"

var errNotConnected = errors.New("not connected")

type Config struct {
	APIKey         string
	Model          string
	Language       string
	SampleRate     int
	Encoding       string
	Interim        bool
	VADEvents      bool
	SmartFormat    bool
	UtteranceEndMS int
	EndpointingMS  int
	StreamID       string
	CallSID        string
	TraceID        string
	Logger         *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 8000
	}
	if c.Encoding == "" {
		c.Encoding = frames.EncodingLinear16
	}
	return c
}

// Stream is a Deepgram live transcription connection.
type Stream struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	dgClient   *client.WSCallback
	cancel     context.CancelFunc
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	closed     bool

	evMu     sync.RWMutex
	evClosed bool
	events   chan stt.Event

	connected  atomic.Bool
	metaLogged atomic.Bool
	dropped    atomic.Int64
}

func New(cfg Config) *Stream {
	cfg = cfg.withDefaults()
	return &Stream{
		cfg: cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "deepgram_stt").With(
			"stream_id", cfg.StreamID,
			"call_sid", cfg.CallSID,
		),
		events: make(chan stt.Event, 256),
	}
}

func (s *Stream) Name() string { return providerName }

func (s *Stream) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.NewProviderError(providerName, "connect", errors.New("stream closed"), errorsx.ReasonSTTConnect)
	}
	if s.connected.Load() {
		return nil
	}

	dgCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	opts := &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       s.cfg.Encoding,
		SampleRate:     s.cfg.SampleRate,
		Channels:       1,
		InterimResults: s.cfg.Interim,
		VadEvents:      s.cfg.VADEvents,
		SmartFormat:    s.cfg.SmartFormat,
	}
	if s.cfg.UtteranceEndMS > 0 {
		opts.UtteranceEndMs = strconv.Itoa(s.cfg.UtteranceEndMS)
	}
	if s.cfg.EndpointingMS > 0 {
		opts.Endpointing = strconv.Itoa(s.cfg.EndpointingMS)
	}

	s.logger.Info("deepgram_connecting",
		"model", s.cfg.Model,
		"encoding", s.cfg.Encoding,
		"sample_rate", s.cfg.SampleRate,
		"vad_events", s.cfg.VADEvents,
	)

	dg, err := client.NewWSUsingCallback(dgCtx, s.cfg.APIKey, &interfaces.ClientOptions{EnableKeepAlive: true}, opts, &callback{parent: s})
	if err != nil {
		cancel()
		return errorsx.NewProviderError(providerName, "connect", err, errorsx.ReasonSTTConnect)
	}
	if ok := dg.Connect(); !ok {
		cancel()
		return errorsx.NewProviderError(providerName, "connect", errors.New("websocket connect failed"), errorsx.ReasonSTTConnect)
	}

	s.dgClient = dg
	s.cancel = cancel
	s.pipeReader, s.pipeWriter = pr, pw
	s.connected.Store(true)
	s.emit(stt.Event{Type: stt.EventConnected})
	s.logger.Info("deepgram_connected")

	go func() {
		err := dg.Stream(pr)
		if err != nil && dgCtx.Err() == nil {
			s.connected.Store(false)
			perr := errorsx.NewProviderError(providerName, "stream", err, errorsx.ReasonSTTStream)
			s.logger.Error("deepgram_stream_error", "error", err, "reason_code", errorsx.ReasonSTTStream)
			s.emit(stt.Event{Type: stt.EventError, Err: perr})
			s.emit(stt.Event{Type: stt.EventDisconnected})
		}
	}()
	return nil
}

// SendAudio writes linear16 audio to the live connection.
func (s *Stream) SendAudio(frame frames.AudioFrame) error {
	if !s.connected.Load() {
		return errorsx.NewProviderError(providerName, "send", errNotConnected, errorsx.ReasonSTTNotConnected)
	}
	s.mu.Lock()
	pw := s.pipeWriter
	s.mu.Unlock()
	if pw == nil {
		return errorsx.NewProviderError(providerName, "send", errNotConnected, errorsx.ReasonSTTNotConnected)
	}
	if _, err := pw.Write(frame.RawPayload()); err != nil {
		return errorsx.NewProviderError(providerName, "send", err, errorsx.ReasonSTTSend)
	}
	return nil
}

func (s *Stream) Events() <-chan stt.Event { return s.events }

func (s *Stream) Connected() bool { return s.connected.Load() }

// Disconnect stops the live connection and closes Events. Safe to call
// more than once.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.connected.Store(false)
	if s.cancel != nil {
		s.cancel()
	}
	if s.pipeWriter != nil {
		_ = s.pipeWriter.Close()
	}
	if s.dgClient != nil {
		s.dgClient.Stop()
	}
	s.evMu.Lock()
	s.evClosed = true
	close(s.events)
	s.evMu.Unlock()
	s.logger.Info("deepgram_disconnected", "dropped_events", s.dropped.Load())
	return nil
}

// emit delivers an event without blocking the SDK read loop. Events after
// Disconnect are discarded.
func (s *Stream) emit(ev stt.Event) {
	s.evMu.RLock()
	defer s.evMu.RUnlock()
	if s.evClosed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		s.logger.Warn("deepgram_event_dropped", "event", string(ev.Type), "reason", "channel_full")
	}
}

func (s *Stream) onTranscript(text string, confidence float64, isFinal bool) {
	if text == "" {
		return
	}
	s.logger.Debug("transcript_received",
		"text", redact.Snippet(text, 120),
		"is_final", isFinal,
		"confidence", confidence,
	)
	s.emit(stt.Event{Type: stt.EventTranscript, Transcript: stt.Transcript{
		Text:       text,
		IsFinal:    isFinal,
		Confidence: confidence,
		Timestamp:  time.Now(),
	}})
}

type callback struct {
	parent *Stream
}

func (c *callback) Open(*msginterfaces.OpenResponse) error {
	c.parent.logger.Debug("deepgram_connection_opened")
	return nil
}

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	c.parent.onTranscript(alt.Transcript, alt.Confidence, mr.IsFinal || mr.SpeechFinal)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	if c.parent.metaLogged.CompareAndSwap(false, true) {
		c.parent.logger.Info("deepgram_metadata_received", "request_id", md.RequestID)
	}
	return nil
}

func (c *callback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	c.parent.logger.Debug("speech_started_event")
	c.parent.emit(stt.Event{Type: stt.EventSpeechStarted})
	return nil
}

func (c *callback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.parent.emit(stt.Event{Type: stt.EventUtteranceEnd})
	return nil
}

func (c *callback) Close(*msginterfaces.CloseResponse) error {
	if c.parent.connected.Swap(false) {
		c.parent.logger.Info("deepgram_connection_closed")
		c.parent.emit(stt.Event{Type: stt.EventDisconnected})
	}
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	err := errorsx.NewProviderError(providerName, "stream", errors.New(er.ErrCode+": "+er.ErrMsg), errorsx.ReasonSTTStream)
	c.parent.logger.Error("deepgram_error",
		"error_code", er.ErrCode,
		"error_message", er.ErrMsg,
		"reason_code", errorsx.ReasonSTTStream,
	)
	c.parent.emit(stt.Event{Type: stt.EventError, Err: err})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.parent.logger.Debug("deepgram_unhandled_event", "bytes", len(byData))
	return nil
}

var _ stt.Stream = (*Stream)(nil)
