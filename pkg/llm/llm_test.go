package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/metrics"
	"github.com/harunnryd/telvox/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGenerator struct {
	calls   int
	tokens  []string
	results []error
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) GenerateReply(_ context.Context, req Request) (Reply, error) {
	i := g.calls
	g.calls++
	for _, tok := range g.tokens {
		if req.OnToken != nil {
			req.OnToken(tok)
		}
	}
	if i < len(g.results) && g.results[i] != nil {
		return Reply{}, g.results[i]
	}
	return Reply{Text: "ok"}, nil
}

func TestRequestMessagesPrependsSystemInstruction(t *testing.T) {
	req := Request{
		SystemInstruction: "be brief",
		History: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		},
	}
	msgs := req.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, "be brief", msgs[0].Content)
	assert.Equal(t, "hello", msgs[2].Content)

	assert.Len(t, Request{History: req.History}.Messages(), 2)
}

func TestRetryGeneratorRetriesBeforeFirstToken(t *testing.T) {
	inner := &scriptedGenerator{results: []error{errors.New("flaky"), nil}}
	g := NewRetryGenerator(inner, resilience.RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond})

	reply, err := g.GenerateReply(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)
	assert.Equal(t, 2, inner.calls)
}

func TestRetryGeneratorStopsAfterStreaming(t *testing.T) {
	boom := errors.New("stream cut")
	inner := &scriptedGenerator{tokens: []string{"Hel"}, results: []error{boom, nil}}
	g := NewRetryGenerator(inner, resilience.RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond})

	var got []string
	_, err := g.GenerateReply(context.Background(), Request{OnToken: func(tok string) { got = append(got, tok) }})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, []string{"Hel"}, got)
}

func TestBreakerGeneratorFailsFastWhenOpen(t *testing.T) {
	boom := errors.New("upstream down")
	inner := &scriptedGenerator{results: []error{boom, boom, boom}}
	obs := metrics.NewMemoryObserver()
	g := NewBreakerGenerator(inner, resilience.BreakerConfig{MaxFailures: 2, Timeout: time.Minute}, obs, nil)

	for i := 0; i < 2; i++ {
		_, err := g.GenerateReply(context.Background(), Request{})
		require.ErrorIs(t, err, boom)
	}

	_, err := g.GenerateReply(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonLLMCircuitOpen))
	var perr errorsx.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "scripted", perr.Provider)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 1, obs.Count(metrics.EventBreakerOpen))
}
