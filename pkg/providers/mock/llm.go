package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/llm"
)

type LLMConfig struct {
	// Replies are returned in order and then repeated from the start.
	Replies []string
	Delay   time.Duration
	Err     error
}

// LLM is a scripted generator for offline runs and tests.
type LLM struct {
	cfg LLMConfig

	mu    sync.Mutex
	next  int
	calls []llm.Request
}

func NewLLM(cfg LLMConfig) *LLM {
	if len(cfg.Replies) == 0 {
		cfg.Replies = []string{"mock response"}
	}
	return &LLM{cfg: cfg}
}

func (m *LLM) Name() string { return "mock_llm" }

func (m *LLM) GenerateReply(ctx context.Context, in llm.Request) (llm.Reply, error) {
	started := time.Now()
	m.mu.Lock()
	m.calls = append(m.calls, in)
	text := m.cfg.Replies[m.next%len(m.cfg.Replies)]
	m.next++
	m.mu.Unlock()

	if m.cfg.Delay > 0 {
		select {
		case <-ctx.Done():
			return llm.Reply{}, errorsx.NewProviderError("mock_llm", "generate", ctx.Err(), errorsx.ReasonLLMGenerate)
		case <-time.After(m.cfg.Delay):
		}
	}
	if m.cfg.Err != nil {
		return llm.Reply{}, errorsx.NewProviderError("mock_llm", "generate", m.cfg.Err, errorsx.ReasonLLMGenerate)
	}
	if in.OnToken != nil {
		for i, word := range strings.Fields(text) {
			if i > 0 {
				word = " " + word
			}
			in.OnToken(word)
		}
	}
	return llm.Reply{Text: text, Latency: time.Since(started), FinishReason: "stop"}, nil
}

// Calls returns the requests seen so far.
func (m *LLM) Calls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.calls...)
}

var _ llm.Generator = (*LLM)(nil)
