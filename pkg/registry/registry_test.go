package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCall struct {
	key      Key
	startErr error
	started  atomic.Int32
	stopped  atomic.Int32
}

func (f *fakeCall) Start(context.Context) error {
	f.started.Add(1)
	return f.startErr
}

func (f *fakeCall) Stop() { f.stopped.Add(1) }

func newFakeRegistry(built *atomic.Int32) *Registry[*fakeCall] {
	return New[*fakeCall](func(_ context.Context, key Key) (*fakeCall, error) {
		if built != nil {
			built.Add(1)
		}
		return &fakeCall{key: key}, nil
	})
}

func TestGetOrCreateInsertsOnce(t *testing.T) {
	r := newFakeRegistry(nil)
	e1, created, err := r.GetOrCreate(Key{CallSID: "CA1", StreamID: "MZ1"})
	require.NoError(t, err)
	assert.True(t, created)
	e2, created, err := r.GetOrCreate(Key{CallSID: "CA1", StreamID: "MZ1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, e1, e2)
	assert.Equal(t, int32(1), e1.Call.started.Load())
	assert.Equal(t, int64(1), r.Count())

	byStream, ok := r.GetByStream("MZ1")
	require.True(t, ok)
	assert.Same(t, e1, byStream)
}

func TestGetOrCreateConcurrent(t *testing.T) {
	r := newFakeRegistry(nil)
	var wg sync.WaitGroup
	var created atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := r.GetOrCreate(Key{CallSID: "CA1"})
			if err == nil && ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int64(1), r.Count())
	e, ok := r.Get("CA1")
	require.True(t, ok)
	assert.Equal(t, int32(1), e.Call.started.Load(), "losing builds are never started")
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := newFakeRegistry(nil)
	e, _, err := r.GetOrCreate(Key{CallSID: "CA1", StreamID: "MZ1"})
	require.NoError(t, err)

	assert.True(t, r.Remove("CA1"))
	assert.False(t, r.Remove("CA1"))
	assert.False(t, r.Remove("unknown"))
	assert.Equal(t, int32(1), e.Call.stopped.Load())
	assert.Error(t, e.Ctx.Err())
	_, ok := r.GetByStream("MZ1")
	assert.False(t, ok)
	assert.Equal(t, int64(0), r.Count())
}

func TestDetachLeavesStopToCaller(t *testing.T) {
	r := newFakeRegistry(nil)
	entry, _, err := r.GetOrCreate(Key{CallSID: "CA1", StreamID: "MZ1"})
	require.NoError(t, err)

	detached, ok := r.Detach("CA1")
	require.True(t, ok)
	assert.Same(t, entry, detached)
	assert.Zero(t, r.Count())
	assert.Zero(t, entry.Call.stopped.Load())
	_, ok = r.GetByStream("MZ1")
	assert.False(t, ok)

	_, ok = r.Detach("CA1")
	assert.False(t, ok)
	assert.False(t, r.Remove("CA1"))

	detached.Stop()
	assert.Equal(t, int32(1), entry.Call.stopped.Load())
	assert.Error(t, entry.Ctx.Err())
}

func TestStartFailureRemovesEntry(t *testing.T) {
	boom := errors.New("stt down")
	r := New[*fakeCall](func(_ context.Context, key Key) (*fakeCall, error) {
		return &fakeCall{key: key, startErr: boom}, nil
	})
	_, _, err := r.GetOrCreate(Key{CallSID: "CA1"})
	require.ErrorIs(t, err, boom)
	_, ok := r.Get("CA1")
	assert.False(t, ok)
	assert.Equal(t, int64(0), r.Count())
}

func TestGetOrCreateRejectsEmptyAndDraining(t *testing.T) {
	r := newFakeRegistry(nil)
	_, _, err := r.GetOrCreate(Key{})
	require.Error(t, err)

	r.SetDraining(true)
	assert.True(t, r.Draining())
	_, _, err = r.GetOrCreate(Key{CallSID: "CA9"})
	require.ErrorIs(t, err, ErrDraining)
}

func TestCloseAllAndWaitForEmpty(t *testing.T) {
	r := newFakeRegistry(nil)
	for i := 0; i < 5; i++ {
		_, _, err := r.GetOrCreate(Key{CallSID: fmt.Sprintf("CA%d", i)})
		require.NoError(t, err)
	}
	seen := 0
	r.Range(func(*Entry[*fakeCall]) bool { seen++; return true })
	assert.Equal(t, 5, seen)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.False(t, r.WaitForEmpty(ctx, time.Millisecond))

	r.CloseAll()
	assert.True(t, r.WaitForEmpty(context.Background(), time.Millisecond))
}
