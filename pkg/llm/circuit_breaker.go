package llm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/metrics"
	"github.com/harunnryd/telvox/pkg/resilience"
	"github.com/sony/gobreaker/v2"
)

// BreakerGenerator fails fast while the wrapped provider keeps failing.
type BreakerGenerator struct {
	inner   Generator
	breaker *resilience.Breaker[Reply]
	obs     metrics.Observer
}

func NewBreakerGenerator(inner Generator, cfg resilience.BreakerConfig, obs metrics.Observer, logger *slog.Logger) *BreakerGenerator {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	g := &BreakerGenerator{inner: inner, obs: obs}
	hook := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to gobreaker.State) {
		g.recordState(to)
		if hook != nil {
			hook(name, from, to)
		}
	}
	g.breaker = resilience.NewBreaker[Reply]("llm:"+inner.Name(), cfg, logger)
	return g
}

func (g *BreakerGenerator) Name() string { return g.inner.Name() }

// State exposes the breaker state for health reporting.
func (g *BreakerGenerator) State() gobreaker.State { return g.breaker.State() }

func (g *BreakerGenerator) GenerateReply(ctx context.Context, req Request) (Reply, error) {
	reply, err := g.breaker.Execute(func() (Reply, error) {
		return g.inner.GenerateReply(ctx, req)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return Reply{}, errorsx.NewProviderError(g.Name(), "generate", err, errorsx.ReasonLLMCircuitOpen)
	}
	return reply, err
}

func (g *BreakerGenerator) recordState(to gobreaker.State) {
	name := metrics.EventBreakerClose
	if to == gobreaker.StateOpen {
		name = metrics.EventBreakerOpen
	}
	g.obs.RecordEvent(metrics.Event(name, 0, map[string]string{
		metrics.TagProvider:  g.inner.Name(),
		metrics.TagComponent: "llm",
	}))
}
