package audio

import (
	"context"
	"errors"
	"iter"
	"time"

	"golang.org/x/time/rate"
)

// FrameDuration is the playback length of one FrameBytes mulaw frame.
const FrameDuration = 20 * time.Millisecond

// ErrCanceled is returned by PaceSend when playback was canceled before all
// frames were sent. It also stops PaceSend when returned by a send func.
var ErrCanceled = errors.New("playback canceled")

// PaceConfig controls outbound pacing.
type PaceConfig struct {
	// FrameDuration is the wait between consecutive sends.
	FrameDuration time.Duration
	// Burst is how many frames may go out back to back before pacing starts.
	Burst int
}

func (c PaceConfig) withDefaults() PaceConfig {
	if c.FrameDuration <= 0 {
		c.FrameDuration = FrameDuration
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// PaceSend transmits frames in order at real-time cadence. canceled is
// consulted before every frame; once it reports true no further frame is
// sent and ErrCanceled is returned. It returns the number of frames sent.
func PaceSend(ctx context.Context, frames iter.Seq[[]byte], cfg PaceConfig, send func([]byte) error, canceled func() bool) (int, error) {
	cfg = cfg.withDefaults()
	limiter := rate.NewLimiter(rate.Every(cfg.FrameDuration), cfg.Burst)
	sent := 0
	for frame := range frames {
		if canceled != nil && canceled() {
			return sent, ErrCanceled
		}
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sent, ctxErr
			}
			return sent, err
		}
		if canceled != nil && canceled() {
			return sent, ErrCanceled
		}
		if err := send(frame); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
