package runner

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleRunnerDrainsOnCancel(t *testing.T) {
	var drained, started, stopped atomic.Int32
	r := NewLifecycleRunner(DrainerFunc(func() error {
		drained.Add(1)
		return nil
	}), Hooks{
		OnStart: func() { started.Add(1) },
		OnStop:  func() { stopped.Add(1) },
	}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	require.Eventually(t, func() bool { return r.State() == StateRunning }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, r.Stop())
	assert.Equal(t, StateStopped, r.State())
	assert.EqualValues(t, 1, drained.Load())
	assert.EqualValues(t, 1, started.Load())
	assert.EqualValues(t, 1, stopped.Load())
	assert.ErrorIs(t, r.Run(context.Background()), ErrAlreadyStarted)
}

func TestLifecycleRunnerStopUnblocksRun(t *testing.T) {
	boom := errors.New("boom")
	r := NewLifecycleRunner(DrainerFunc(func() error { return boom }), Hooks{}, Options{})
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	require.Eventually(t, func() bool { return r.State() == StateRunning }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, r.Stop(), boom)
	assert.ErrorIs(t, <-done, boom)
}

func TestLifecycleRunnerDrainTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := NewLifecycleRunner(DrainerFunc(func() error {
		<-block
		return nil
	}), Hooks{}, Options{DrainTimeout: 20 * time.Millisecond})
	assert.ErrorIs(t, r.Stop(), ErrDrainTimeout)
	assert.Equal(t, "stopped", r.State().String())
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf)
	assert.Contains(t, buf.String(), "Version: dev")
}
