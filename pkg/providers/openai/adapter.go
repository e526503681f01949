package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/llm"
	"github.com/harunnryd/telvox/pkg/resilience"
)

const providerName = "openai"

type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
	// Stream selects server-sent events. Tokens reach Request.OnToken as
	// they arrive.
	Stream bool
}

func NewAdapter(apiKey, model string) *Adapter {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
		Stream:  true,
	}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) GenerateReply(ctx context.Context, in llm.Request) (llm.Reply, error) {
	started := time.Now()
	body, err := a.buildRequest(in)
	if err != nil {
		return llm.Reply{}, errorsx.NewProviderError(providerName, "generate", err, errorsx.ReasonLLMGenerate)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.BaseURL, "/")+"/chat/completions", body)
	if err != nil {
		return llm.Reply{}, errorsx.NewProviderError(providerName, "generate", err, errorsx.ReasonLLMGenerate)
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return llm.Reply{}, errorsx.NewProviderError(providerName, "generate", err, errorsx.ReasonLLMGenerate)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return llm.Reply{}, errorsx.NewProviderError(providerName, "generate",
			resilience.RateLimitError{Provider: providerName, Message: string(msg)}, errorsx.ReasonLLMRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return llm.Reply{}, errorsx.NewProviderError(providerName, "generate",
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), errorsx.ReasonLLMGenerate)
	}

	var reply llm.Reply
	if a.Stream {
		reply, err = readStream(resp.Body, in.OnToken)
		if err != nil {
			return llm.Reply{}, errorsx.NewProviderError(providerName, "stream", err, errorsx.ReasonLLMStream)
		}
	} else {
		reply, err = readCompletion(resp.Body)
		if err != nil {
			return llm.Reply{}, errorsx.NewProviderError(providerName, "generate", err, errorsx.ReasonLLMGenerate)
		}
		if in.OnToken != nil && reply.Text != "" {
			in.OnToken(reply.Text)
		}
	}
	reply.Text = strings.TrimSpace(reply.Text)
	reply.Latency = time.Since(started)
	return reply, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature"`
	Stream        bool           `json:"stream"`
	StreamOptions map[string]any `json:"stream_options,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

func (a *Adapter) buildRequest(in llm.Request) (*bytes.Buffer, error) {
	msgs := in.Messages()
	out := chatRequest{
		Model:       a.Model,
		Messages:    make([]chatMessage, 0, len(msgs)),
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		Stream:      a.Stream,
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if a.Stream {
		out.StreamOptions = map[string]any{"include_usage": true}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func readStream(r io.Reader, onToken func(string)) (llm.Reply, error) {
	var (
		reply llm.Reply
		text  strings.Builder
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			reply.Text = text.String()
			return reply, nil
		}
		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			reply.Usage = llm.Usage(*chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			reply.FinishReason = choice.FinishReason
		}
		if tok := choice.Delta.Content; tok != "" {
			text.WriteString(tok)
			if onToken != nil {
				onToken(tok)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return llm.Reply{}, err
	}
	if text.Len() == 0 {
		return llm.Reply{}, errors.New("stream ended without content")
	}
	reply.Text = text.String()
	return reply, nil
}

func readCompletion(r io.Reader) (llm.Reply, error) {
	var payload chatChunk
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return llm.Reply{}, err
	}
	if len(payload.Choices) == 0 {
		return llm.Reply{}, errors.New("no choices")
	}
	reply := llm.Reply{
		Text:         payload.Choices[0].Message.Content,
		FinishReason: payload.Choices[0].FinishReason,
	}
	if payload.Usage != nil {
		reply.Usage = llm.Usage(*payload.Usage)
	}
	return reply, nil
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)
	if a.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

var _ llm.Generator = (*Adapter)(nil)
