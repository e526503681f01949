package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/telvox/pkg/logging"
)

var (
	ErrAlreadyStarted = errors.New("runner already started")
	ErrDrainTimeout   = errors.New("drain timeout")
)

// Options tunes a LifecycleRunner. A nil Banner disables the startup
// banner.
type Options struct {
	DrainTimeout time.Duration
	Banner       io.Writer
	Logger       *slog.Logger
}

// LifecycleRunner runs until its context is canceled or Stop is called,
// then drains once within DrainTimeout.
type LifecycleRunner struct {
	state    atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	opts     Options
	logger   *slog.Logger
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, opts Options) *LifecycleRunner {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &LifecycleRunner{
		ctx:     ctx,
		cancel:  cancel,
		hooks:   hooks,
		drainer: drainer,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "runner"),
	}
	r.state.Store(int32(StateNew))
	return r
}

// Run blocks until ctx is done or Stop is called and returns the drain
// result.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return ErrAlreadyStarted
	}
	if r.opts.Banner != nil {
		PrintBanner(r.opts.Banner)
	}
	if ctx != nil {
		parent := r.ctx
		r.ctx, r.cancel = context.WithCancel(ctx)
		stop := context.AfterFunc(parent, r.cancel)
		defer stop()
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)
	<-r.ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		started := time.Now()
		if r.drainer != nil {
			done := make(chan error, 1)
			go func() { done <- r.drainer.Drain() }()
			select {
			case err := <-done:
				r.stopErr = err
			case <-time.After(r.opts.DrainTimeout):
				r.stopErr = ErrDrainTimeout
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
		if r.stopErr != nil {
			r.logger.Warn("runner_drain_failed", "error", r.stopErr.Error(), "duration_ms", time.Since(started).Milliseconds())
			return
		}
		r.logger.Info("runner_stopped", "duration_ms", time.Since(started).Milliseconds())
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	r.state.Store(int32(s))
}
