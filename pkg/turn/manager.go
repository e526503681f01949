package turn

import (
	"strings"
	"time"

	"github.com/harunnryd/telvox/pkg/audio"
)

const (
	DefaultGreetingDelay      = 1500 * time.Millisecond
	DefaultMaxReplyTokens     = 150
	DefaultTemperature        = 0.7
	DefaultMinTranscriptChars = 2
	DefaultNoiseGateThreshold = 0.01
	DefaultIngressQueue       = 50
	DefaultSystemPrompt       = "You are a helpful AI assistant on a phone call. Be concise, natural, and conversational. Respond quickly and avoid long explanations."
	DefaultGreeting           = "Hello! I'm your AI assistant. How can I help you today?"
	DefaultFallbackText       = "I'm sorry, I didn't catch that. Could you please repeat?"
)

// Strategy decides how caller speech during playback is handled.
type Strategy interface {
	Name() string
	BargeInEnabled() bool
}

// AggressiveStrategy cuts playback as soon as the caller speaks.
type AggressiveStrategy struct{}

func (AggressiveStrategy) Name() string         { return "aggressive" }
func (AggressiveStrategy) BargeInEnabled() bool { return true }

// PoliteStrategy lets playback finish.
type PoliteStrategy struct{}

func (PoliteStrategy) Name() string         { return "polite" }
func (PoliteStrategy) BargeInEnabled() bool { return false }

// StrategyByName maps a config value to a Strategy. Unknown names fall back
// to aggressive.
func StrategyByName(name string) Strategy {
	if strings.EqualFold(strings.TrimSpace(name), "polite") {
		return PoliteStrategy{}
	}
	return AggressiveStrategy{}
}

// Options tunes conversation and playback behavior.
type Options struct {
	SystemPrompt       string
	Greeting           string
	GreetingDelay      time.Duration
	FallbackText       string
	MaxReplyTokens     int
	Temperature        float64
	MinTranscriptChars int

	FrameBytes    int
	FrameDuration time.Duration
	BurstFrames   int

	NoiseGateThreshold float64
	JitterBuffer       bool
	JitterInterval     time.Duration
	IngressQueue       int

	Strategy Strategy
}

// DefaultOptions returns the options used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		SystemPrompt:       DefaultSystemPrompt,
		Greeting:           DefaultGreeting,
		GreetingDelay:      DefaultGreetingDelay,
		FallbackText:       DefaultFallbackText,
		MaxReplyTokens:     DefaultMaxReplyTokens,
		Temperature:        DefaultTemperature,
		MinTranscriptChars: DefaultMinTranscriptChars,
		FrameBytes:         audio.FrameBytes,
		FrameDuration:      audio.FrameDuration,
		BurstFrames:        1,
		NoiseGateThreshold: DefaultNoiseGateThreshold,
		JitterInterval:     audio.FrameDuration,
		IngressQueue:       DefaultIngressQueue,
		Strategy:           AggressiveStrategy{},
	}
}

// withDefaults fills zero fields. The greeting is kept as given so an empty
// greeting disables it.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if strings.TrimSpace(o.SystemPrompt) == "" {
		o.SystemPrompt = d.SystemPrompt
	}
	if strings.TrimSpace(o.FallbackText) == "" {
		o.FallbackText = d.FallbackText
	}
	if o.GreetingDelay < 0 {
		o.GreetingDelay = 0
	}
	if o.MaxReplyTokens <= 0 {
		o.MaxReplyTokens = d.MaxReplyTokens
	}
	if o.MinTranscriptChars <= 0 {
		o.MinTranscriptChars = d.MinTranscriptChars
	}
	if o.FrameBytes <= 0 {
		o.FrameBytes = d.FrameBytes
	}
	if o.FrameDuration <= 0 {
		o.FrameDuration = d.FrameDuration
	}
	if o.BurstFrames <= 0 {
		o.BurstFrames = d.BurstFrames
	}
	if o.NoiseGateThreshold < 0 {
		o.NoiseGateThreshold = 0
	}
	if o.JitterInterval <= 0 {
		o.JitterInterval = d.JitterInterval
	}
	if o.IngressQueue <= 0 {
		o.IngressQueue = d.IngressQueue
	}
	if o.Strategy == nil {
		o.Strategy = d.Strategy
	}
	return o
}
