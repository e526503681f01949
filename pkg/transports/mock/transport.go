package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/frames"
)

var errStopped = errors.New("transport stopped")

// Transport is an in-memory transport for local runs and integration
// tests. Outbound frames are recorded; inbound frames are injected with
// Push or the call helpers.
type Transport struct {
	recvCh chan frames.Frame
	sentCh chan frames.Frame

	mu      sync.Mutex
	closed  bool
	streams map[string]bool
	sent    []frames.Frame
}

func New() *Transport {
	return &Transport{
		recvCh:  make(chan frames.Frame, 1024),
		sentCh:  make(chan frames.Frame, 1024),
		streams: make(map[string]bool),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.recvCh)
		close(t.sentCh)
	}
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

// Send records f. Frames for streams that are not open fail with
// TransportError.
func (t *Transport) Send(f frames.Frame) error {
	streamID := f.Meta()[frames.MetaStreamID]
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errorsx.Wrap(errorsx.TransportError{StreamID: streamID, Err: errStopped}, errorsx.ReasonTransportClosed)
	}
	if !t.streams[streamID] {
		return errorsx.Wrap(errorsx.TransportError{StreamID: streamID, Err: errors.New("stream not open")}, errorsx.ReasonTransportClosed)
	}
	t.sent = append(t.sent, f)
	select {
	case t.sentCh <- f:
	default:
	}
	return nil
}

// Push injects an inbound frame.
func (t *Transport) Push(f frames.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.recvCh <- f:
	default:
	}
}

// StartCall opens a stream and injects its call_start frame.
func (t *Transport) StartCall(streamID, callSID string) {
	t.mu.Lock()
	t.streams[streamID] = true
	t.mu.Unlock()
	t.Push(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallStart, map[string]string{
		frames.MetaCallSID: callSID,
		frames.MetaSource:  "transport",
	}))
}

// Media injects one inbound mulaw frame.
func (t *Transport) Media(streamID string, pts int64, payload []byte) {
	t.Push(frames.NewAudioFrame(streamID, pts, payload, 8000, 1, map[string]string{
		frames.MetaEncoding: frames.EncodingMulaw,
	}))
}

// EndCall closes a stream and injects its call_end frame.
func (t *Transport) EndCall(streamID, callSID, reason string) {
	t.mu.Lock()
	delete(t.streams, streamID)
	t.mu.Unlock()
	t.Push(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallEnd, map[string]string{
		frames.MetaCallSID:       callSID,
		frames.MetaCallEndReason: reason,
	}))
}

// Sent exposes outbound frames as they arrive.
func (t *Transport) Sent() <-chan frames.Frame { return t.sentCh }

// SentFrames returns every outbound frame recorded so far.
func (t *Transport) SentFrames() []frames.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]frames.Frame(nil), t.sent...)
}
