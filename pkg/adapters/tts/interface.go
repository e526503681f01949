package tts

import (
	"context"
	"time"
)

// Format names the encoding of synthesized audio.
type Format string

const (
	FormatMulaw     Format = "mulaw"
	FormatLinear16  Format = "linear16"
	defaultRateHint        = 8000
)

// Result is a complete synthesized utterance.
type Result struct {
	Audio      []byte
	Format     Format
	SampleRate int
	// Latency is the time until the first audio byte arrived.
	Latency time.Duration
}

// Synthesizer converts text to telephony-rate speech. Failures are
// returned as errorsx.ProviderError.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	Synthesize(ctx context.Context, text string) (Result, error)
}

// StreamSynthesizer also reports audio chunks as they arrive.
type StreamSynthesizer interface {
	Synthesizer
	SynthesizeStream(ctx context.Context, text string, onChunk func([]byte)) (Result, error)
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	StreamID   string
	CallSID    string
	SampleRate int
	Format     Format
}

// Rate returns the configured sample rate or the telephony default.
func (c Config) Rate() int {
	if c.SampleRate <= 0 {
		return defaultRateHint
	}
	return c.SampleRate
}
