package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDraining is returned for new calls while the registry drains.
var ErrDraining = errors.New("registry draining")

// Call is the per-call unit the registry manages.
type Call interface {
	Start(ctx context.Context) error
	Stop()
}

// Key identifies a call.
type Key struct {
	CallSID  string
	StreamID string
	TraceID  string
}

// Entry is an active call.
type Entry[T Call] struct {
	Key
	Call    T
	Ctx     context.Context
	Cancel  context.CancelFunc
	Created time.Time
}

// Stop cancels the entry context and stops the call.
func (e *Entry[T]) Stop() {
	e.Cancel()
	e.Call.Stop()
}

// Factory builds the call for a key. The call is started by the registry.
type Factory[T Call] func(ctx context.Context, key Key) (T, error)

// Registry maps call ids to active calls. Safe for concurrent use.
type Registry[T Call] struct {
	calls    sync.Map // call sid -> *Entry[T]
	streams  sync.Map // stream id -> call sid
	count    atomic.Int64
	factory  Factory[T]
	draining atomic.Bool
}

func New[T Call](factory Factory[T]) *Registry[T] {
	return &Registry[T]{factory: factory}
}

// GetOrCreate returns the call for key.CallSID, creating and starting it on
// first sight. created reports whether this call inserted the entry.
func (r *Registry[T]) GetOrCreate(key Key) (*Entry[T], bool, error) {
	if key.CallSID == "" {
		return nil, false, errors.New("call sid is required")
	}
	if v, ok := r.calls.Load(key.CallSID); ok {
		return v.(*Entry[T]), false, nil
	}
	if r.draining.Load() {
		return nil, false, ErrDraining
	}
	ctx, cancel := context.WithCancel(context.Background())
	call, err := r.factory(ctx, key)
	if err != nil {
		cancel()
		return nil, false, err
	}
	entry := &Entry[T]{Key: key, Call: call, Ctx: ctx, Cancel: cancel, Created: time.Now()}
	actual, loaded := r.calls.LoadOrStore(key.CallSID, entry)
	if loaded {
		cancel()
		return actual.(*Entry[T]), false, nil
	}
	r.count.Add(1)
	if key.StreamID != "" {
		r.streams.Store(key.StreamID, key.CallSID)
	}
	if err := call.Start(ctx); err != nil {
		r.Remove(key.CallSID)
		return nil, false, err
	}
	return entry, true, nil
}

func (r *Registry[T]) Get(callSID string) (*Entry[T], bool) {
	if v, ok := r.calls.Load(callSID); ok {
		return v.(*Entry[T]), true
	}
	return nil, false
}

// GetByStream looks a call up by its media stream id.
func (r *Registry[T]) GetByStream(streamID string) (*Entry[T], bool) {
	v, ok := r.streams.Load(streamID)
	if !ok {
		return nil, false
	}
	return r.Get(v.(string))
}

// Remove stops and forgets a call. Removing an unknown call is a no-op.
func (r *Registry[T]) Remove(callSID string) bool {
	entry, ok := r.Detach(callSID)
	if !ok {
		return false
	}
	entry.Stop()
	return true
}

// Detach forgets a call without stopping it; the caller owns Stop. Only one
// caller detaches a given call.
func (r *Registry[T]) Detach(callSID string) (*Entry[T], bool) {
	v, ok := r.calls.LoadAndDelete(callSID)
	if !ok {
		return nil, false
	}
	entry := v.(*Entry[T])
	if entry.StreamID != "" {
		r.streams.CompareAndDelete(entry.StreamID, callSID)
	}
	r.count.Add(-1)
	return entry, true
}

// Range calls fn for every active call until fn returns false.
func (r *Registry[T]) Range(fn func(*Entry[T]) bool) {
	r.calls.Range(func(_, value any) bool {
		return fn(value.(*Entry[T]))
	})
}

func (r *Registry[T]) CloseAll() {
	r.calls.Range(func(key, _ any) bool {
		if callSID, ok := key.(string); ok {
			r.Remove(callSID)
		}
		return true
	})
}

func (r *Registry[T]) Count() int64 {
	return r.count.Load()
}

func (r *Registry[T]) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry[T]) Draining() bool {
	return r.draining.Load()
}

func (r *Registry[T]) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
