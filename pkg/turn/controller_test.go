package turn

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harunnryd/telvox/pkg/adapters/stt"
	"github.com/harunnryd/telvox/pkg/adapters/tts"
	"github.com/harunnryd/telvox/pkg/audio"
	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/frames"
	"github.com/harunnryd/telvox/pkg/llm"
	"github.com/harunnryd/telvox/pkg/metrics"
	"github.com/harunnryd/telvox/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTT struct {
	mu        sync.Mutex
	connected bool
	connErr   error
	connGate  chan struct{}
	sendGate  chan struct{}
	sent      []frames.AudioFrame
	events    chan stt.Event
	closeOnce sync.Once
}

func newFakeSTT() *fakeSTT { return &fakeSTT{events: make(chan stt.Event, 16)} }

func (f *fakeSTT) Name() string { return "fake-stt" }

func (f *fakeSTT) Connect(ctx context.Context) error {
	if f.connGate != nil {
		select {
		case <-f.connGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connErr != nil {
		return f.connErr
	}
	f.connected = true
	return nil
}

func (f *fakeSTT) SendAudio(frame frames.AudioFrame) error {
	if f.sendGate != nil {
		<-f.sendGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeSTT) Events() <-chan stt.Event { return f.events }

func (f *fakeSTT) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeSTT) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSTT) Sent() []frames.AudioFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frames.AudioFrame(nil), f.sent...)
}

type fakeLLM struct {
	reply string
	err   error
	gate  chan struct{}
	calls atomic.Int32
	last  atomic.Value
}

func (f *fakeLLM) Name() string { return "fake-llm" }

func (f *fakeLLM) GenerateReply(ctx context.Context, req llm.Request) (llm.Reply, error) {
	f.calls.Add(1)
	f.last.Store(req)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return llm.Reply{}, ctx.Err()
		}
	}
	if f.err != nil {
		return llm.Reply{}, f.err
	}
	if req.OnToken != nil {
		for _, word := range strings.Fields(f.reply) {
			req.OnToken(word)
		}
	}
	return llm.Reply{Text: f.reply}, nil
}

type fakeTTS struct {
	mu       sync.Mutex
	frames   int
	format   tts.Format
	failures int
	texts    []string
}

func (f *fakeTTS) Name() string { return "fake-tts" }

func (f *fakeTTS) Synthesize(_ context.Context, text string) (tts.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.failures > 0 {
		f.failures--
		return tts.Result{}, errorsx.NewProviderError("fake-tts", "synthesize", errors.New("quota"), errorsx.ReasonTTSSend)
	}
	n := f.frames
	if n == 0 {
		n = 2
	}
	format := f.format
	if format == "" {
		format = tts.FormatMulaw
	}
	size := n * audio.FrameBytes
	if format == tts.FormatLinear16 {
		size *= 2
	}
	return tts.Result{Audio: bytes.Repeat([]byte{0x10}, size), Format: format, Latency: time.Millisecond}, nil
}

func (f *fakeTTS) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type captureEmitter struct {
	mu      sync.Mutex
	frames  []frames.Frame
	err     error
	calls   int
	onMedia chan int
}

func (c *captureEmitter) Emit(frame frames.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, frame)
	if frame.Kind() == frames.KindAudio && c.onMedia != nil {
		select {
		case c.onMedia <- c.mediaLocked():
		default:
		}
	}
	return nil
}

func (c *captureEmitter) mediaLocked() int {
	n := 0
	for _, f := range c.frames {
		if f.Kind() == frames.KindAudio {
			n++
		}
	}
	return n
}

func (c *captureEmitter) Frames() []frames.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frames.Frame(nil), c.frames...)
}

func (c *captureEmitter) Media() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaLocked()
}

func (c *captureEmitter) Controls(code frames.ControlCode) []frames.ControlFrame {
	var out []frames.ControlFrame
	for _, f := range c.Frames() {
		if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == code {
			out = append(out, cf)
		}
	}
	return out
}

type harness struct {
	ctrl *Controller
	sess *session.Session
	stt  *fakeSTT
	llm  *fakeLLM
	tts  *fakeTTS
	out  *captureEmitter
	obs  *metrics.MemoryObserver
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	opts := DefaultOptions()
	opts.Greeting = ""
	opts.GreetingDelay = 0
	opts.FrameDuration = time.Millisecond
	if mutate != nil {
		mutate(&opts)
	}
	h := &harness{
		sess: session.New(session.Config{CallSID: "CA123", StreamID: "MZ123"}),
		stt:  newFakeSTT(),
		llm:  &fakeLLM{reply: "Sure, I can help with that."},
		tts:  &fakeTTS{},
		out:  &captureEmitter{},
		obs:  metrics.NewMemoryObserver(),
	}
	h.ctrl = NewController(Config{
		Session:  h.sess,
		STT:      h.stt,
		LLM:      h.llm,
		TTS:      h.tts,
		Emitter:  h.out,
		Observer: h.obs,
		Options:  opts,
	})
	t.Cleanup(h.ctrl.Stop)
	return h
}

// start starts the controller and waits for recognition to connect.
func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().RecognitionHealthy }, time.Second, time.Millisecond)
}

func final(text string) stt.Transcript {
	return stt.Transcript{Text: text, IsFinal: true, Confidence: 0.9, Timestamp: time.Now()}
}

func TestGreetingThenTurn(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Greeting = DefaultGreeting })
	h.start(t)
	h.ctrl.Wait()

	assert.Equal(t, session.StateListening, h.sess.State())
	assert.Equal(t, []string{DefaultGreeting}, h.tts.Texts())
	marks := h.out.Controls(frames.ControlMark)
	require.Len(t, marks, 1)
	assert.True(t, strings.HasPrefix(marks[0].Meta()[frames.MetaMarkName], "greeting-"))

	require.True(t, h.ctrl.OnTranscript(context.Background(), final("hi")))
	h.ctrl.Wait()

	snap := h.ctrl.Snapshot()
	assert.Equal(t, 1, snap.TurnCount)
	assert.Equal(t, "LISTENING", snap.State)
	assert.True(t, snap.RecognitionHealthy)
	hist := h.sess.History()
	require.Len(t, hist, 2)
	assert.Equal(t, llm.RoleUser, hist[0].Role)
	assert.Equal(t, "hi", hist[0].Content)
	assert.Equal(t, llm.RoleAssistant, hist[1].Role)
	assert.False(t, h.sess.Processing())
	assert.Equal(t, 4, h.out.Media())
	assert.Equal(t, 1, h.obs.Count(metrics.EventTurnCompleted))

	req := h.llm.last.Load().(llm.Request)
	assert.Equal(t, DefaultSystemPrompt, req.SystemInstruction)
	assert.Equal(t, DefaultMaxReplyTokens, req.MaxTokens)
	assert.Len(t, req.History, 1)
}

func TestBargeInStopsPlayback(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.FrameDuration = 5 * time.Millisecond })
	h.tts.frames = 200
	h.out.onMedia = make(chan int, 1)
	require.NoError(t, h.ctrl.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Speak(context.Background(), "a long answer") }()

	for n := range h.out.onMedia {
		if n >= 3 {
			break
		}
	}
	tok := h.sess.CurrentToken()
	require.False(t, tok.IsZero())
	h.ctrl.OnSpeechStarted()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("speak did not stop after barge-in")
	}

	assert.Equal(t, session.StateListening, h.sess.State())
	assert.False(t, h.sess.IsCurrent(tok))
	all := h.out.Frames()
	clearAt := -1
	for i, f := range all {
		if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == frames.ControlClear {
			clearAt = i
		}
	}
	require.GreaterOrEqual(t, clearAt, 3)
	for _, f := range all[clearAt+1:] {
		assert.NotEqual(t, frames.KindAudio, f.Kind(), "media after clear")
	}
	assert.Less(t, h.out.Media(), 200)
	assert.Empty(t, h.out.Controls(frames.ControlMark), "canceled playback has no mark")
	assert.Equal(t, 1, h.obs.Count(metrics.EventBargeIn))
	assert.Equal(t, 1, h.ctrl.Snapshot().BargeIns)
}

func TestSpeechStartedOutsidePlaybackIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ctrl.OnSpeechStarted()
	assert.Empty(t, h.out.Controls(frames.ControlClear))
	assert.Equal(t, session.StateListening, h.sess.State())
}

func TestPoliteStrategyLetsPlaybackFinish(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Strategy = PoliteStrategy{} })
	h.tts.frames = 5
	h.out.onMedia = make(chan int, 1)
	require.NoError(t, h.ctrl.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Speak(context.Background(), "hello") }()
	<-h.out.onMedia
	h.ctrl.OnSpeechStarted()
	require.NoError(t, <-done)

	assert.Equal(t, 5, h.out.Media())
	assert.Empty(t, h.out.Controls(frames.ControlClear))
	assert.Len(t, h.out.Controls(frames.ControlMark), 1)
}

func TestTTSFailureSpeaksFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.tts.failures = 1
	require.NoError(t, h.ctrl.Start(context.Background()))

	require.True(t, h.ctrl.OnTranscript(context.Background(), final("what time is it")))
	h.ctrl.Wait()

	assert.Equal(t, []string{h.llm.reply, DefaultFallbackText}, h.tts.Texts())
	assert.Equal(t, 2, h.out.Media())
	assert.Equal(t, 1, h.ctrl.Snapshot().TurnCount)
	assert.Equal(t, 1, h.obs.Count(metrics.EventFallback))
	assert.Equal(t, session.StateListening, h.sess.State())
}

func TestLLMFailureSpeaksFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.err = errorsx.NewProviderError("fake-llm", "generate", errors.New("500"), errorsx.ReasonLLMGenerate)
	require.NoError(t, h.ctrl.Start(context.Background()))

	require.True(t, h.ctrl.OnTranscript(context.Background(), final("hello there")))
	h.ctrl.Wait()

	assert.Equal(t, []string{DefaultFallbackText}, h.tts.Texts())
	assert.Equal(t, 1, h.ctrl.Snapshot().TurnCount)
	require.Len(t, h.sess.History(), 1, "fallback is not part of the dialogue")
	assert.Equal(t, 1, h.obs.Count(metrics.EventProviderError))
}

func TestTranscriptDroppedWhileProcessing(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.gate = make(chan struct{})
	require.NoError(t, h.ctrl.Start(context.Background()))

	require.True(t, h.ctrl.OnTranscript(context.Background(), final("first question")))
	assert.Equal(t, session.StateProcessing, h.sess.State())
	assert.False(t, h.ctrl.OnTranscript(context.Background(), final("a")))
	assert.False(t, h.ctrl.OnTranscript(context.Background(), final("second question")))

	close(h.llm.gate)
	h.ctrl.Wait()
	assert.Equal(t, int32(1), h.llm.calls.Load())
	assert.Equal(t, 1, h.ctrl.Snapshot().TurnCount)
	assert.Equal(t, 2, h.obs.Count(metrics.EventTranscriptDropped))
}

func TestTranscriptFilters(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background()))

	assert.False(t, h.ctrl.OnTranscript(context.Background(), stt.Transcript{Text: "interim words"}))
	assert.False(t, h.ctrl.OnTranscript(context.Background(), final("  a  ")))
	assert.False(t, h.ctrl.OnTranscript(context.Background(), final("")))
	assert.Equal(t, int32(0), h.llm.calls.Load())
}

func TestConcurrentTranscriptsStartOneTurn(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.gate = make(chan struct{})
	require.NoError(t, h.ctrl.Start(context.Background()))

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.ctrl.OnTranscript(context.Background(), final("hello agent")) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	close(h.llm.gate)
	h.ctrl.Wait()

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(1), h.llm.calls.Load())
}

func TestFinalTranscriptDuringGreetingInterrupts(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Greeting = DefaultGreeting
		o.FrameDuration = 5 * time.Millisecond
	})
	h.tts.frames = 200
	h.out.onMedia = make(chan int, 1)
	require.NoError(t, h.ctrl.Start(context.Background()))
	<-h.out.onMedia
	require.Equal(t, session.StateSpeaking, h.sess.State())

	require.True(t, h.ctrl.OnTranscript(context.Background(), final("stop please")))
	h.ctrl.Wait()

	assert.Len(t, h.out.Controls(frames.ControlClear), 1)
	assert.Equal(t, 1, h.ctrl.Snapshot().TurnCount)
	assert.Equal(t, session.StateListening, h.sess.State())
}

func TestClosedStreamSuppressesLaterSends(t *testing.T) {
	h := newHarness(t, nil)
	h.out.err = errorsx.Wrap(errorsx.TransportError{StreamID: "MZ123", Err: errors.New("websocket closed")}, errorsx.ReasonTransportClosed)
	require.NoError(t, h.ctrl.Start(context.Background()))

	err := h.ctrl.Speak(context.Background(), "hello")
	var terr errorsx.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "MZ123", terr.StreamID)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonTransportClosed))

	err = h.ctrl.Speak(context.Background(), "hello again")
	require.Error(t, err)
	assert.Equal(t, 1, h.out.calls, "sends are suppressed once the stream is closed")
	assert.Equal(t, 1, h.obs.Count(metrics.EventTransportError))
	assert.Equal(t, session.StateListening, h.sess.State())
}

func TestTransientSendFailureDoesNotMuteCall(t *testing.T) {
	h := newHarness(t, nil)
	h.out.err = errorsx.Wrap(errorsx.TransportError{StreamID: "MZ123", Err: errors.New("send buffer full")}, errorsx.ReasonTransportSend)
	require.NoError(t, h.ctrl.Start(context.Background()))

	err := h.ctrl.Speak(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonTransportSend))
	assert.Equal(t, session.StateListening, h.sess.State())

	h.out.mu.Lock()
	h.out.err = nil
	h.out.mu.Unlock()

	require.NoError(t, h.ctrl.Speak(context.Background(), "hello again"))
	assert.Equal(t, 2, h.out.Media())
	assert.Len(t, h.out.Controls(frames.ControlMark), 1)
	assert.Equal(t, 1, h.obs.Count(metrics.EventTransportError))
}

func TestSpeakEncodesLinear16(t *testing.T) {
	h := newHarness(t, nil)
	h.tts.format = tts.FormatLinear16
	h.tts.frames = 1
	require.NoError(t, h.ctrl.Start(context.Background()))

	require.NoError(t, h.ctrl.Speak(context.Background(), "hello"))
	var media []frames.AudioFrame
	for _, f := range h.out.Frames() {
		if af, ok := f.(frames.AudioFrame); ok {
			media = append(media, af)
		}
	}
	require.Len(t, media, 1)
	assert.Equal(t, audio.FrameBytes, media[0].Len())
	assert.Equal(t, frames.EncodingMulaw, media[0].Encoding())
}

func TestSpeakEmptyTextIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.NoError(t, h.ctrl.Speak(context.Background(), "   "))
	assert.Empty(t, h.tts.Texts())
	assert.Equal(t, session.StateListening, h.sess.State())
}

func TestOnAudioDecodesAndGates(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background()))

	loud := bytes.Repeat([]byte{0x00}, audio.FrameBytes)
	quiet := bytes.Repeat([]byte{0xFE}, audio.FrameBytes)
	h.ctrl.OnAudio(frames.NewAudioFrame("MZ123", 1, loud, audio.SampleRate, 1, nil))
	h.ctrl.OnAudio(frames.NewAudioFrame("MZ123", 2, quiet, audio.SampleRate, 1, nil))

	require.Eventually(t, func() bool { return len(h.stt.Sent()) == 2 }, time.Second, time.Millisecond)
	sent := h.stt.Sent()
	assert.Equal(t, frames.EncodingLinear16, sent[0].Encoding())
	assert.Equal(t, 2*audio.FrameBytes, sent[0].Len())
	samples, err := audio.PCMSamples(sent[0].Data())
	require.NoError(t, err)
	assert.Equal(t, audio.DecodeMulaw(0x00), samples[0])
	gated, err := audio.PCMSamples(sent[1].Data())
	require.NoError(t, err)
	assert.Equal(t, 0.0, audio.Amplitude(gated))
}

func TestOnAudioRejectsMalformedFrames(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.ctrl.Start(context.Background()))
	h.ctrl.OnAudio(frames.NewAudioFrame("MZ123", 1, []byte{1, 2, 3}, audio.SampleRate, 1, map[string]string{
		frames.MetaEncoding: frames.EncodingLinear16,
	}))
	require.Eventually(t, func() bool { return h.obs.Count(metrics.EventAudioInDropped) == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, h.stt.Sent())
}

func TestOnAudioDroppedWhenRecognitionDown(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.connErr = errors.New("dial tcp: refused")
	require.NoError(t, h.ctrl.Start(context.Background()))

	for i := 0; i < 5; i++ {
		h.ctrl.OnAudio(frames.NewAudioFrame("MZ123", int64(i), []byte{0xFF, 0xFF}, audio.SampleRate, 1, nil))
	}
	require.Eventually(t, func() bool { return h.obs.Count(metrics.EventAudioInDropped) == 5 }, time.Second, time.Millisecond)
	assert.Empty(t, h.stt.Sent())
	assert.False(t, h.ctrl.Snapshot().RecognitionHealthy)
	assert.Equal(t, 1, h.obs.Count(metrics.EventProviderError))
}

func TestJitterBufferOrdersIngress(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.JitterBuffer = true
		o.JitterInterval = time.Millisecond
	})
	require.NoError(t, h.ctrl.Start(context.Background()))

	h.ctrl.OnAudio(frames.NewAudioFrame("MZ123", 2, []byte{0x00}, audio.SampleRate, 1, nil))
	h.ctrl.OnAudio(frames.NewAudioFrame("MZ123", 1, []byte{0x00}, audio.SampleRate, 1, nil))

	require.Eventually(t, func() bool { return len(h.stt.Sent()) == 2 }, time.Second, time.Millisecond)
	sent := h.stt.Sent()
	assert.Equal(t, int64(1), sent[0].PTS())
	assert.Equal(t, int64(2), sent[1].PTS())
}

func TestEventPumpDrivesController(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.stt.events <- stt.Event{Type: stt.EventDisconnected}
	require.Eventually(t, func() bool { return !h.ctrl.Snapshot().RecognitionHealthy }, time.Second, time.Millisecond)
	h.stt.events <- stt.Event{Type: stt.EventConnected}
	h.stt.events <- stt.Event{Type: stt.EventError, Err: errors.New("net")}
	h.stt.events <- stt.Event{Type: stt.EventTranscript, Transcript: final("book a table")}

	require.Eventually(t, func() bool { return h.ctrl.Snapshot().TurnCount == 1 }, time.Second, time.Millisecond)
	assert.True(t, h.ctrl.Snapshot().RecognitionHealthy)
	assert.Equal(t, 1, h.obs.Count(metrics.EventProviderError))
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Greeting = DefaultGreeting
		o.GreetingDelay = time.Hour
	})
	require.NoError(t, h.ctrl.Start(context.Background()))
	require.ErrorIs(t, h.ctrl.Start(context.Background()), errAlreadyStarted)

	h.ctrl.Stop()
	h.ctrl.Stop()
	h.ctrl.Wait()

	assert.Equal(t, session.StateEnded, h.sess.State())
	assert.False(t, h.stt.Connected())
	assert.Empty(t, h.tts.Texts(), "pending greeting is abandoned")
	assert.False(t, h.ctrl.OnTranscript(context.Background(), final("still there?")))
}

func TestStartDoesNotWaitForRecognitionConnect(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.connGate = make(chan struct{})

	started := time.Now()
	require.NoError(t, h.ctrl.Start(context.Background()))
	assert.Less(t, time.Since(started), 100*time.Millisecond)
	assert.Equal(t, session.StateListening, h.sess.State())

	h.ctrl.OnAudio(frames.NewAudioFrame("MZ123", 1, []byte{0x00, 0x00}, audio.SampleRate, 1, nil))
	assert.Empty(t, h.stt.Sent())

	close(h.stt.connGate)
	require.Eventually(t, func() bool { return len(h.stt.Sent()) == 1 }, time.Second, time.Millisecond)
	assert.True(t, h.ctrl.Snapshot().RecognitionHealthy)
}

func TestStopAbandonsPendingRecognitionConnect(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.connGate = make(chan struct{})
	require.NoError(t, h.ctrl.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		h.ctrl.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop blocked on a pending connect")
	}
	assert.False(t, h.stt.Connected())
}

func TestOnAudioNeverBlocksOnStalledRecognizer(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.IngressQueue = 2 })
	h.stt.sendGate = make(chan struct{})
	h.start(t)

	started := time.Now()
	for i := 0; i < 10; i++ {
		h.ctrl.OnAudio(frames.NewAudioFrame("MZ123", int64(i), []byte{0x00, 0x00}, audio.SampleRate, 1, nil))
	}
	assert.Less(t, time.Since(started), 100*time.Millisecond)
	dropped := h.obs.Count(metrics.EventAudioInDropped)
	assert.GreaterOrEqual(t, dropped, 7)

	close(h.stt.sendGate)
	require.Eventually(t, func() bool { return len(h.stt.Sent()) == 10-dropped }, time.Second, time.Millisecond)
}

func TestPoliteStrategyKeepsGreetingOnFinalTranscript(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Greeting = DefaultGreeting
		o.Strategy = PoliteStrategy{}
		o.FrameDuration = 5 * time.Millisecond
	})
	h.tts.frames = 40
	h.out.onMedia = make(chan int, 1)
	require.NoError(t, h.ctrl.Start(context.Background()))
	<-h.out.onMedia

	assert.False(t, h.ctrl.OnTranscript(context.Background(), final("are you there")))
	h.ctrl.Wait()

	assert.Empty(t, h.out.Controls(frames.ControlClear))
	assert.Equal(t, 40, h.out.Media())
	assert.Zero(t, h.ctrl.Snapshot().BargeIns)
	assert.Equal(t, 1, h.obs.Count(metrics.EventTranscriptDropped))
	assert.Equal(t, int32(0), h.llm.calls.Load())
}

func TestZeroOptionsStillSpeakFallback(t *testing.T) {
	sess := session.New(session.Config{CallSID: "CA9", StreamID: "MZ9"})
	out := &captureEmitter{}
	lm := &fakeLLM{reply: "hello there"}
	synth := &fakeTTS{failures: 1}
	ctrl := NewController(Config{
		Session: sess,
		LLM:     lm,
		TTS:     synth,
		Emitter: out,
		Options: Options{FrameDuration: time.Millisecond},
	})
	t.Cleanup(ctrl.Stop)
	require.NoError(t, ctrl.Start(context.Background()))

	require.True(t, ctrl.OnTranscript(context.Background(), final("what is open")))
	ctrl.Wait()

	assert.Equal(t, []string{"hello there", DefaultFallbackText}, synth.Texts())
	assert.Equal(t, 2, out.Media())
	req := lm.last.Load().(llm.Request)
	assert.Equal(t, DefaultSystemPrompt, req.SystemInstruction)
}
