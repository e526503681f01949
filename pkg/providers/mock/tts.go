package mock

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/harunnryd/telvox/pkg/adapters/tts"
	"github.com/harunnryd/telvox/pkg/audio"
	"github.com/harunnryd/telvox/pkg/errorsx"
)

type TTSConfig struct {
	// PerWord is the audio produced for each word of text.
	PerWord time.Duration
	// ToneHz selects a sine tone; zero produces silence.
	ToneHz float64
	Err    error
}

// TTS synthesizes a deterministic mu-law signal whose length follows the
// word count.
type TTS struct {
	cfg TTSConfig
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.PerWord <= 0 {
		cfg.PerWord = 200 * time.Millisecond
	}
	return &TTS{cfg: cfg}
}

func (t *TTS) Name() string { return "mock_tts" }

func (t *TTS) Synthesize(ctx context.Context, text string) (tts.Result, error) {
	if err := ctx.Err(); err != nil {
		return tts.Result{}, errorsx.NewProviderError("mock_tts", "synthesize", err, errorsx.ReasonTTSSend)
	}
	if t.cfg.Err != nil {
		return tts.Result{}, errorsx.NewProviderError("mock_tts", "synthesize", t.cfg.Err, errorsx.ReasonTTSSend)
	}
	words := len(strings.Fields(text))
	samples := int(t.cfg.PerWord.Seconds()*audio.SampleRate) * words
	out := make([]byte, samples)
	for i := range out {
		var s int16
		if t.cfg.ToneHz > 0 {
			s = int16(8000 * math.Sin(2*math.Pi*t.cfg.ToneHz*float64(i)/audio.SampleRate))
		}
		out[i] = audio.EncodeMulaw(s)
	}
	return tts.Result{
		Audio:      out,
		Format:     tts.FormatMulaw,
		SampleRate: audio.SampleRate,
	}, nil
}

var _ tts.Synthesizer = (*TTS)(nil)
