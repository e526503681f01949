package llm

import (
	"context"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one dialogue entry.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"-"`
}

// Request asks a language model for one reply.
type Request struct {
	// History holds the dialogue entries, oldest first, without the system
	// instruction.
	History           []Message
	SystemInstruction string
	MaxTokens         int
	Temperature       float64
	// OnToken receives every streamed text delta in order. It may be nil.
	OnToken func(token string)
}

// Messages returns the system instruction followed by History.
func (r Request) Messages() []Message {
	out := make([]Message, 0, len(r.History)+1)
	if r.SystemInstruction != "" {
		out = append(out, Message{Role: RoleSystem, Content: r.SystemInstruction})
	}
	return append(out, r.History...)
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Reply is the complete generated text.
type Reply struct {
	Text         string
	Latency      time.Duration
	FinishReason string
	Usage        Usage
}

// Generator produces a reply for a dialogue. Failures are returned as
// errorsx.ProviderError.
type Generator interface {
	Name() string
	GenerateReply(ctx context.Context, req Request) (Reply, error)
}
