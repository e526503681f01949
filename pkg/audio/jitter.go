package audio

import (
	"slices"
	"sync"
	"time"

	"github.com/harunnryd/telvox/pkg/frames"
)

const (
	// DefaultJitterInterval is the release cadence of the jitter buffer.
	DefaultJitterInterval = 20 * time.Millisecond
	jitterStartDepth      = 2
)

// JitterBuffer reorders inbound frames by timestamp. Release starts once
// at least two frames are buffered, proceeds one frame per interval and
// stops when the buffer drains; the next Push re-arms it.
type JitterBuffer struct {
	interval time.Duration
	release  func(frames.AudioFrame)

	mu      sync.Mutex
	pending []frames.AudioFrame
	running bool
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewJitterBuffer(interval time.Duration, release func(frames.AudioFrame)) *JitterBuffer {
	if interval <= 0 {
		interval = DefaultJitterInterval
	}
	return &JitterBuffer{
		interval: interval,
		release:  release,
		stop:     make(chan struct{}),
	}
}

// Push buffers f in timestamp order.
func (j *JitterBuffer) Push(f frames.AudioFrame) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	idx, _ := slices.BinarySearchFunc(j.pending, f.PTS(), func(a frames.AudioFrame, pts int64) int {
		switch {
		case a.PTS() < pts:
			return -1
		case a.PTS() > pts:
			return 1
		default:
			return 0
		}
	})
	// equal timestamps keep arrival order
	for idx < len(j.pending) && j.pending[idx].PTS() == f.PTS() {
		idx++
	}
	j.pending = slices.Insert(j.pending, idx, f)
	if !j.running && len(j.pending) >= jitterStartDepth {
		j.running = true
		j.wg.Add(1)
		go j.loop()
	}
}

// Len returns the number of buffered frames.
func (j *JitterBuffer) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Close stops the release loop and discards buffered frames.
func (j *JitterBuffer) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	j.pending = nil
	close(j.stop)
	j.mu.Unlock()
	j.wg.Wait()
}

func (j *JitterBuffer) loop() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
		}
		j.mu.Lock()
		if len(j.pending) == 0 {
			j.running = false
			j.mu.Unlock()
			return
		}
		next := j.pending[0]
		j.pending = j.pending[1:]
		j.mu.Unlock()
		j.release(next)
	}
}
