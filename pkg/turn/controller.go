package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/telvox/pkg/adapters/stt"
	"github.com/harunnryd/telvox/pkg/adapters/tts"
	"github.com/harunnryd/telvox/pkg/audio"
	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/frames"
	"github.com/harunnryd/telvox/pkg/llm"
	"github.com/harunnryd/telvox/pkg/logging"
	"github.com/harunnryd/telvox/pkg/metrics"
	"github.com/harunnryd/telvox/pkg/redact"
	"github.com/harunnryd/telvox/pkg/session"
	"github.com/harunnryd/telvox/pkg/tracing"
	"golang.org/x/time/rate"
)

const (
	logSnippetLen    = 120
	sendWarnInterval = 5 * time.Second
)

var errAlreadyStarted = errors.New("controller already started")

// Config wires a controller to its session and collaborators.
type Config struct {
	Session  *session.Session
	STT      stt.Stream
	LLM      llm.Generator
	TTS      tts.Synthesizer
	Emitter  Emitter
	Observer metrics.Observer
	Logger   *slog.Logger
	Options  Options
}

// Controller runs the turn-taking loop of one call.
type Controller struct {
	sess    *session.Session
	stt     stt.Stream
	llm     llm.Generator
	tts     tts.Synthesizer
	emitter Emitter
	obs     metrics.Observer
	logger  *slog.Logger
	opts    Options
	tags    map[string]string

	jitter *audio.JitterBuffer
	inbox  chan frames.AudioFrame

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	connDone    chan struct{}
	ingressDone chan struct{}
	pumpDone    chan struct{}
	turns       sync.WaitGroup
	stopOnce    sync.Once
	sendClosed  atomic.Bool
	sendWarn    rate.Sometimes
	sttWarned   atomic.Bool
}

func NewController(cfg Config) *Controller {
	obs := cfg.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	sess := cfg.Session
	c := &Controller{
		sess:    sess,
		stt:     cfg.STT,
		llm:     cfg.LLM,
		tts:     cfg.TTS,
		emitter: cfg.Emitter,
		obs:     obs,
		opts:    cfg.Options.withDefaults(),
		logger: logging.NewComponentLogger(cfg.Logger, "turn").With(
			"stream_id", sess.StreamID(),
			"call_sid", sess.CallSID(),
			"trace_id", sess.TraceID(),
		),
		tags: map[string]string{
			metrics.TagStreamID: sess.StreamID(),
			metrics.TagCallSID:  sess.CallSID(),
			metrics.TagTraceID:  sess.TraceID(),
		},
		ctx:      context.Background(),
		cancel:   func() {},
		sendWarn: rate.Sometimes{Interval: sendWarnInterval},
	}
	c.inbox = make(chan frames.AudioFrame, c.opts.IngressQueue)
	if c.opts.JitterBuffer {
		c.jitter = audio.NewJitterBuffer(c.opts.JitterInterval, c.ingest)
	}
	sess.AddListener(session.StateListenerFunc(c.onStateChange))
	return c
}

func (c *Controller) Session() *session.Session { return c.sess }

// Start starts the call's ingress goroutine and event pump and schedules
// the greeting. It does not block: recognition connects on the ingress
// goroutine and audio queued meanwhile is delivered once it is up. A
// recognition connect failure is reported but does not fail the call.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errAlreadyStarted
	}
	if !c.sess.Transition(session.StateGreeting, "call_start") {
		c.mu.Unlock()
		return fmt.Errorf("start session in state %s", c.sess.State())
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.connDone = make(chan struct{})
	c.ingressDone = make(chan struct{})
	c.pumpDone = make(chan struct{})
	ctx = c.ctx
	c.mu.Unlock()

	go c.runIngress(ctx)
	if c.stt != nil {
		go c.pump(ctx)
	} else {
		close(c.pumpDone)
	}

	if strings.TrimSpace(c.opts.Greeting) == "" {
		c.sess.TransitionFrom(session.StateGreeting, session.StateListening, "no_greeting")
		return nil
	}
	c.turns.Add(1)
	go c.greet(ctx)
	return nil
}

// Stop tears the call down. It is idempotent.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		connDone, ingressDone, pumpDone := c.connDone, c.ingressDone, c.pumpDone
		c.mu.Unlock()

		c.sess.End("stop")
		cancel()
		if connDone != nil {
			<-connDone
		}
		if c.stt != nil {
			if err := c.stt.Disconnect(); err != nil {
				c.logger.Debug("stt_disconnect_failed", "error", err)
			}
		}
		if ingressDone != nil {
			<-ingressDone
		}
		if c.jitter != nil {
			c.jitter.Close()
		}
		if pumpDone != nil {
			<-pumpDone
		}
	})
}

// Wait blocks until the greeting and in-flight turns finish.
func (c *Controller) Wait() { c.turns.Wait() }

func (c *Controller) Snapshot() session.MetricsSnapshot { return c.sess.Snapshot() }

// runIngress connects recognition, then feeds it the call's queued audio
// until the call stops.
func (c *Controller) runIngress(ctx context.Context) {
	defer close(c.ingressDone)
	c.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.inbox:
			if c.jitter != nil {
				c.jitter.Push(frame)
				continue
			}
			c.ingest(frame)
		}
	}
}

func (c *Controller) connect(ctx context.Context) {
	defer close(c.connDone)
	if c.stt == nil || ctx.Err() != nil {
		return
	}
	if err := c.stt.Connect(ctx); err != nil {
		c.sess.SetRecognitionHealthy(false)
		c.reportProviderError("stt", err, errorsx.ReasonSTTConnect)
		return
	}
	c.sess.SetRecognitionHealthy(true)
}

func (c *Controller) pump(ctx context.Context) {
	defer close(c.pumpDone)
	events := c.stt.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.sess.SetRecognitionHealthy(false)
				return
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev stt.Event) {
	switch ev.Type {
	case stt.EventTranscript:
		c.OnTranscript(ctx, ev.Transcript)
	case stt.EventSpeechStarted:
		c.OnSpeechStarted()
	case stt.EventUtteranceEnd:
		c.logger.Debug("stt_utterance_end")
	case stt.EventConnected:
		c.sess.SetRecognitionHealthy(true)
		c.sttWarned.Store(false)
		c.logger.Info("stt_connected")
	case stt.EventDisconnected:
		c.sess.SetRecognitionHealthy(false)
		c.logger.Info("stt_disconnected")
	case stt.EventError:
		c.OnSpeechRecognitionError(ev.Err)
	}
}

// OnTranscript admits a final transcript as a new turn. It returns whether
// a turn was started; the turn itself runs asynchronously.
func (c *Controller) OnTranscript(ctx context.Context, tr stt.Transcript) bool {
	if !tr.IsFinal {
		return false
	}
	text := strings.TrimSpace(tr.Text)
	c.obs.RecordEvent(metrics.Event(metrics.EventTranscriptFinal, tr.Confidence, c.tags))
	if utf8.RuneCountInString(text) < c.opts.MinTranscriptChars {
		c.dropTranscript(text, "too_short")
		return false
	}
	res := c.sess.BeginTurn(c.opts.Strategy.BargeInEnabled(), func() error {
		return c.emit(NewClearFrame(c.sess.StreamID(), "final_transcript"))
	})
	if res.Interrupted {
		c.recordBargeIn("final_transcript", res.ClearErr)
	}
	if !res.Started {
		reason := "state_" + strings.ToLower(res.State.String())
		if res.Busy {
			reason = "processing"
		}
		c.dropTranscript(text, reason)
		return false
	}
	c.logger.Info("turn_started",
		"text", redact.Snippet(text, logSnippetLen),
		"confidence", tr.Confidence,
	)
	c.obs.RecordEvent(metrics.Event(metrics.EventTurnStarted, 0, c.tags))

	turnCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(c.sessionContext(), cancel)
	c.turns.Add(1)
	go func() {
		defer c.turns.Done()
		defer cancel()
		defer stop()
		c.runTurn(turnCtx, text, time.Now())
	}()
	return true
}

func (c *Controller) dropTranscript(text, reason string) {
	c.logger.Debug("stt_final_dropped", "reason", reason, "text", redact.Snippet(text, logSnippetLen))
	c.obs.RecordEvent(metrics.Event(metrics.EventTranscriptDropped, 0, c.withTags(metrics.TagReason, reason)))
}

func (c *Controller) runTurn(ctx context.Context, text string, started time.Time) {
	defer c.sess.EndTurn()
	ctx, span := tracing.StartSpan(ctx, "turn", tracing.WithAttributes(
		tracing.StringAttr("stream_id", c.sess.StreamID()),
		tracing.StringAttr("call_sid", c.sess.CallSID()),
	))
	defer span.End()

	c.sess.AppendHistory(llm.RoleUser, text)
	reply, err := c.generate(ctx)
	fallback := false
	if err != nil || reply == "" {
		if err == nil {
			err = errorsx.NewProviderError(c.llmName(), "generate", errors.New("empty reply"), errorsx.ReasonLLMGenerate)
		}
		if ctx.Err() != nil {
			return
		}
		tracing.RecordError(span, err)
		c.reportProviderError("llm", err, errorsx.ReasonLLMGenerate)
		reply, fallback = c.opts.FallbackText, true
	} else {
		c.sess.AppendHistory(llm.RoleAssistant, reply)
	}

	err = c.speak(ctx, reply, "reply", session.StateProcessing)
	var perr errorsx.ProviderError
	if err != nil && !fallback && errors.As(err, &perr) {
		tracing.RecordError(span, err)
		fallback = true
		err = c.speak(ctx, c.opts.FallbackText, "fallback")
	}
	if err != nil {
		tracing.RecordError(span, err)
		c.logger.Warn("turn_speak_failed", "error", err, "reason_code", errorsx.Reason(err))
	}
	if fallback {
		c.obs.RecordEvent(metrics.Event(metrics.EventFallback, 0, c.tags))
	}
	c.sess.TransitionFrom(session.StateProcessing, session.StateListening, "turn_done")

	latency := time.Since(started)
	c.sess.RecordTurn(latency)
	span.SetAttributes(
		tracing.BoolAttr("fallback", fallback),
		tracing.IntAttr("latency_ms", int(latency.Milliseconds())),
	)
	tracing.SetOK(span)
	c.obs.RecordEvent(metrics.Event(metrics.EventTurnCompleted, float64(latency.Milliseconds()), c.tags))
	c.logger.Info("turn_completed",
		"latency_ms", latency.Milliseconds(),
		"fallback", fallback,
		"reply", redact.Snippet(reply, logSnippetLen),
	)
}

func (c *Controller) generate(ctx context.Context) (string, error) {
	if c.llm == nil {
		return "", errorsx.NewProviderError("llm", "generate", errors.New("no language model configured"), errorsx.ReasonLLMGenerate)
	}
	var first sync.Once
	started := time.Now()
	reply, err := c.llm.GenerateReply(ctx, llm.Request{
		History:           c.sess.History(),
		SystemInstruction: c.opts.SystemPrompt,
		MaxTokens:         c.opts.MaxReplyTokens,
		Temperature:       c.opts.Temperature,
		OnToken: func(string) {
			first.Do(func() {
				c.obs.RecordEvent(metrics.Event(metrics.EventLLMFirstToken, float64(time.Since(started).Milliseconds()), c.tags))
			})
		},
	})
	if err != nil {
		return "", err
	}
	c.obs.RecordEvent(metrics.Event(metrics.EventLLMDone, float64(time.Since(started).Milliseconds()), c.tags))
	return strings.TrimSpace(reply.Text), nil
}

// Speak synthesizes text and plays it to the caller under a new playback
// token. Playback stops without error once the token is superseded.
func (c *Controller) Speak(ctx context.Context, text string) error {
	return c.speak(ctx, text, "speak")
}

func (c *Controller) speak(ctx context.Context, text, purpose string, from ...session.State) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	tok, ok := c.sess.BeginPlayback(purpose, from...)
	if !ok {
		c.logger.Debug("playback_skipped", "purpose", purpose, "state", c.sess.State().String())
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "speak", tracing.WithAttributes(
		tracing.StringAttr("purpose", purpose),
		tracing.StringAttr("playback_token", tok.String()),
	))
	defer span.End()

	payload, err := c.synthesize(ctx, text)
	if err != nil {
		c.sess.EndPlayback(tok, "tts_failed")
		tracing.RecordError(span, err)
		c.reportProviderError("tts", err, errorsx.ReasonTTSSend)
		return err
	}
	if !c.sess.IsCurrent(tok) {
		c.playbackCanceled(purpose, tok, 0)
		return nil
	}

	sent, err := audio.PaceSend(ctx, audio.Chunk(payload, c.opts.FrameBytes), audio.PaceConfig{
		FrameDuration: c.opts.FrameDuration,
		Burst:         c.opts.BurstFrames,
	}, func(chunk []byte) error {
		ok, err := c.sess.SendIfCurrent(tok, func() error {
			return c.emit(NewMediaFrame(c.sess.StreamID(), chunk))
		})
		if err != nil {
			return err
		}
		if !ok {
			return audio.ErrCanceled
		}
		return nil
	}, func() bool {
		return !c.sess.IsCurrent(tok)
	})
	if sent > 0 {
		c.obs.RecordEvent(metrics.Event(metrics.EventAudioOut, float64(sent), c.tags))
	}
	span.SetAttributes(tracing.IntAttr("frames_sent", sent))
	switch {
	case errors.Is(err, audio.ErrCanceled):
		c.playbackCanceled(purpose, tok, sent)
		return nil
	case err != nil:
		c.sess.EndPlayback(tok, "send_failed")
		tracing.RecordError(span, err)
		return err
	}

	if !c.sess.EndPlayback(tok, "playback_done") {
		c.playbackCanceled(purpose, tok, sent)
		return nil
	}
	markName := purpose + "-" + tok.String()
	if err := c.emit(NewMarkFrame(c.sess.StreamID(), markName)); err != nil {
		c.logger.Debug("mark_send_failed", "mark", markName, "error", err)
	}
	tracing.SetOK(span)
	c.obs.RecordEvent(metrics.Event(metrics.EventPlaybackCompleted, float64(sent), c.tags))
	c.logger.Debug("playback_completed", "purpose", purpose, "frames", sent, "mark", markName)
	return nil
}

// synthesize returns the reply as mulaw bytes.
func (c *Controller) synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.tts == nil {
		return nil, errorsx.NewProviderError("tts", "synthesize", errors.New("no synthesizer configured"), errorsx.ReasonTTSSend)
	}
	res, err := c.tts.Synthesize(ctx, text)
	if err != nil {
		var perr errorsx.ProviderError
		if !errors.As(err, &perr) && ctx.Err() == nil {
			err = errorsx.NewProviderError(c.tts.Name(), "synthesize", err, errorsx.ReasonTTSSend)
		}
		return nil, err
	}
	c.obs.RecordEvent(metrics.Event(metrics.EventTTSFirstAudio, float64(res.Latency.Milliseconds()), c.tags))
	switch res.Format {
	case tts.FormatMulaw, "":
		return res.Audio, nil
	case tts.FormatLinear16:
		out, err := audio.PCMToMulaw(res.Audio)
		if err != nil {
			return nil, errorsx.NewProviderError(c.tts.Name(), "synthesize", err, errorsx.ReasonAudioFormat)
		}
		return out, nil
	default:
		return nil, errorsx.NewProviderError(c.tts.Name(), "synthesize",
			errorsx.FormatError{Op: "synthesize", Detail: "unsupported format " + string(res.Format)},
			errorsx.ReasonAudioFormat)
	}
}

func (c *Controller) playbackCanceled(purpose string, tok session.PlaybackToken, sent int) {
	c.logger.Debug("playback_canceled", "purpose", purpose, "playback_token", tok.String(), "frames", sent)
	c.obs.RecordEvent(metrics.Event(metrics.EventPlaybackCanceled, float64(sent), c.tags))
}

// OnSpeechStarted handles the caller starting to talk. During playback the
// token is invalidated and the far end is told to drop buffered audio.
func (c *Controller) OnSpeechStarted() {
	if !c.opts.Strategy.BargeInEnabled() {
		c.logger.Debug("barge_in_ignored", "strategy", c.opts.Strategy.Name())
		return
	}
	c.interrupt("barge_in")
}

func (c *Controller) interrupt(reason string) {
	interrupted, err := c.sess.Interrupt(func() error {
		return c.emit(NewClearFrame(c.sess.StreamID(), reason))
	})
	if interrupted {
		c.recordBargeIn(reason, err)
	}
}

func (c *Controller) recordBargeIn(reason string, clearErr error) {
	c.logger.Info("barge_in", "reason", reason)
	c.obs.RecordEvent(metrics.Event(metrics.EventBargeIn, 0, c.withTags(metrics.TagReason, reason)))
	if clearErr != nil {
		c.logger.Debug("clear_send_failed", "error", clearErr)
	}
}

// OnSpeechRecognitionError reports a recognition failure. The call goes on.
func (c *Controller) OnSpeechRecognitionError(err error) {
	if err == nil {
		return
	}
	c.reportProviderError("stt", err, errorsx.ReasonSTTStream)
}

// OnMark records the transport's echo of a playback mark: the caller has
// heard the audio sent before it.
func (c *Controller) OnMark(name string) {
	c.logger.Debug("mark_received", "mark", name, "state", c.sess.State().String())
}

// OnAudio queues one inbound telephony frame for the call's ingress
// goroutine. It never blocks; frames beyond the queue are dropped.
func (c *Controller) OnAudio(frame frames.AudioFrame) {
	if c.sess.State() == session.StateEnded {
		return
	}
	select {
	case c.inbox <- frame:
	default:
		c.dropAudio(string(errorsx.ReasonIngressQueueFull))
	}
}

func (c *Controller) ingest(frame frames.AudioFrame) {
	if c.stt == nil || c.sess.State() == session.StateEnded {
		return
	}
	pcm, err := toPCM(frame, c.opts.NoiseGateThreshold)
	if err != nil {
		c.logger.Debug("audio_frame_rejected", "error", err, "reason_code", errorsx.ReasonAudioFormat)
		c.dropAudio(string(errorsx.ReasonAudioFormat))
		return
	}
	if !c.stt.Connected() {
		if c.sttWarned.CompareAndSwap(false, true) {
			c.logger.Warn("stt_not_connected", "reason_code", errorsx.ReasonSTTNotConnected)
		}
		c.dropAudio(string(errorsx.ReasonSTTNotConnected))
		return
	}
	out := frames.NewAudioFrame(c.sess.StreamID(), frame.PTS(), pcm, audio.SampleRate, 1, map[string]string{
		frames.MetaEncoding: frames.EncodingLinear16,
	})
	if err := c.stt.SendAudio(out); err != nil {
		if c.sttWarned.CompareAndSwap(false, true) {
			reason := errorsx.Reason(err)
			if reason == errorsx.ReasonUnknown {
				reason = errorsx.ReasonSTTSend
			}
			c.logger.Warn("stt_send_failed", "error", err, "reason_code", reason)
		}
		c.dropAudio(string(errorsx.ReasonSTTSend))
	}
}

// toPCM decodes an inbound frame to linear16 and applies the noise gate.
func toPCM(frame frames.AudioFrame, gate float64) ([]byte, error) {
	raw := frame.RawPayload()
	var samples []int16
	switch frame.Encoding() {
	case "", frames.EncodingMulaw:
		samples = make([]int16, len(raw))
		for i, b := range raw {
			samples[i] = audio.DecodeMulaw(b)
		}
	case frames.EncodingLinear16:
		var err error
		if samples, err = audio.PCMSamples(raw); err != nil {
			return nil, err
		}
	default:
		return nil, errorsx.FormatError{Op: "ingest", Detail: "unsupported encoding " + frame.Encoding()}
	}
	return audio.PCMBytes(audio.NoiseGate(samples, gate)), nil
}

func (c *Controller) dropAudio(reason string) {
	c.obs.RecordEvent(metrics.Event(metrics.EventAudioInDropped, 1, c.withTags(metrics.TagReason, reason)))
}

// emit sends one frame. Once the transport reports the stream closed, later
// sends are suppressed. Other send failures leave the call running and are
// logged at most once per sendWarnInterval.
func (c *Controller) emit(frame frames.Frame) error {
	streamID := c.sess.StreamID()
	if c.sendClosed.Load() {
		return errorsx.Wrap(errorsx.TransportError{StreamID: streamID, Err: errSendSuppressed}, errorsx.ReasonTransportClosed)
	}
	if c.emitter == nil {
		return nil
	}
	err := c.emitter.Emit(frame)
	if err == nil {
		return nil
	}
	var terr errorsx.TransportError
	if !errors.As(err, &terr) {
		err = errorsx.TransportError{StreamID: streamID, Err: err}
	}
	err = errorsx.Wrap(err, errorsx.ReasonTransportSend)
	if errorsx.StreamClosed(err) {
		if c.sendClosed.CompareAndSwap(false, true) {
			c.logger.Warn("transport_send_failed", "error", err, "reason_code", errorsx.ReasonTransportClosed)
			c.obs.RecordEvent(metrics.Event(metrics.EventTransportError, 1, c.withTags(metrics.TagReason, string(errorsx.ReasonTransportClosed))))
		}
		return err
	}
	c.obs.RecordEvent(metrics.Event(metrics.EventTransportError, 1, c.withTags(metrics.TagReason, string(errorsx.Reason(err)))))
	c.sendWarn.Do(func() {
		c.logger.Warn("transport_send_failed", "error", err, "reason_code", errorsx.Reason(err))
	})
	return err
}

var errSendSuppressed = errors.New("stream closed, sends suppressed")

func (c *Controller) reportProviderError(component string, err error, fallback errorsx.ReasonCode) {
	reason := errorsx.Reason(err)
	if reason == errorsx.ReasonUnknown {
		reason = fallback
	}
	provider := component
	var perr errorsx.ProviderError
	if errors.As(err, &perr) && perr.Provider != "" {
		provider = perr.Provider
	}
	c.logger.Warn(component+"_failed", "provider", provider, "error", err, "reason_code", reason)
	c.obs.RecordEvent(metrics.Event(metrics.EventProviderError, 1, c.withTags(
		metrics.TagProvider, provider,
		metrics.TagComponent, component,
		metrics.TagReason, string(reason),
	)))
}

func (c *Controller) onStateChange(ev session.StateChange) {
	c.logger.Debug("state_change",
		"from", ev.From.String(),
		"to", ev.To.String(),
		"reason", ev.Reason,
	)
}

func (c *Controller) greet(ctx context.Context) {
	defer c.turns.Done()
	if c.opts.GreetingDelay > 0 {
		timer := time.NewTimer(c.opts.GreetingDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	err := c.speak(ctx, c.opts.Greeting, "greeting", session.StateGreeting)
	if err != nil {
		c.logger.Warn("greeting_failed", "error", err, "reason_code", errorsx.Reason(err))
	}
	c.sess.TransitionFrom(session.StateGreeting, session.StateListening, "greeting_done")
}

func (c *Controller) sessionContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *Controller) llmName() string {
	if c.llm == nil {
		return "llm"
	}
	return c.llm.Name()
}

func (c *Controller) withTags(kv ...string) map[string]string {
	out := make(map[string]string, len(c.tags)+len(kv)/2)
	for k, v := range c.tags {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}
