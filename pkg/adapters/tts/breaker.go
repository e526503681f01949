package tts

import (
	"context"
	"errors"
	"log/slog"

	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/metrics"
	"github.com/harunnryd/telvox/pkg/resilience"
	"github.com/sony/gobreaker/v2"
)

// BreakerSynthesizer fails fast while the wrapped provider keeps failing.
// It implements StreamSynthesizer when the wrapped synthesizer does.
type BreakerSynthesizer struct {
	inner   Synthesizer
	breaker *resilience.Breaker[Result]
	obs     metrics.Observer
}

func NewBreakerSynthesizer(inner Synthesizer, cfg resilience.BreakerConfig, obs metrics.Observer, logger *slog.Logger) *BreakerSynthesizer {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	s := &BreakerSynthesizer{inner: inner, obs: obs}
	hook := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to gobreaker.State) {
		ev := metrics.EventBreakerClose
		if to == gobreaker.StateOpen {
			ev = metrics.EventBreakerOpen
		}
		s.obs.RecordEvent(metrics.Event(ev, 0, map[string]string{
			metrics.TagProvider:  inner.Name(),
			metrics.TagComponent: "tts",
		}))
		if hook != nil {
			hook(name, from, to)
		}
	}
	s.breaker = resilience.NewBreaker[Result]("tts:"+inner.Name(), cfg, logger)
	return s
}

func (s *BreakerSynthesizer) Name() string { return s.inner.Name() }

func (s *BreakerSynthesizer) State() gobreaker.State { return s.breaker.State() }

func (s *BreakerSynthesizer) Synthesize(ctx context.Context, text string) (Result, error) {
	return s.guard(func() (Result, error) { return s.inner.Synthesize(ctx, text) })
}

// SynthesizeStream falls back to Synthesize, delivering the whole result as
// one chunk, when the wrapped provider cannot stream.
func (s *BreakerSynthesizer) SynthesizeStream(ctx context.Context, text string, onChunk func([]byte)) (Result, error) {
	streamer, ok := s.inner.(StreamSynthesizer)
	if !ok {
		res, err := s.Synthesize(ctx, text)
		if err == nil && onChunk != nil && len(res.Audio) > 0 {
			onChunk(res.Audio)
		}
		return res, err
	}
	return s.guard(func() (Result, error) { return streamer.SynthesizeStream(ctx, text, onChunk) })
}

func (s *BreakerSynthesizer) guard(fn func() (Result, error)) (Result, error) {
	res, err := s.breaker.Execute(fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return Result{}, errorsx.NewProviderError(s.Name(), "synthesize", err, errorsx.ReasonTTSCircuitOpen)
	}
	return res, err
}
