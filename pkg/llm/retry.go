package llm

import (
	"context"

	"github.com/harunnryd/telvox/pkg/resilience"
)

// RetryGenerator retries transient failures. A request is never retried
// once it has streamed a token, since delivered text cannot be taken back.
type RetryGenerator struct {
	inner  Generator
	policy resilience.RetryPolicy
}

func NewRetryGenerator(inner Generator, policy resilience.RetryPolicy) *RetryGenerator {
	return &RetryGenerator{inner: inner, policy: policy}
}

func (g *RetryGenerator) Name() string { return g.inner.Name() }

func (g *RetryGenerator) GenerateReply(ctx context.Context, req Request) (Reply, error) {
	var (
		reply    Reply
		streamed bool
	)
	attempt := req
	if req.OnToken != nil {
		onToken := req.OnToken
		attempt.OnToken = func(tok string) {
			streamed = true
			onToken(tok)
		}
	}
	policy := g.policy
	policy.Retryable = func(err error) bool {
		return !streamed && resilience.IsRetryable(err)
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		reply, err = g.inner.GenerateReply(ctx, attempt)
		return err
	})
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}
