package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/telvox/pkg/adapters/tts"
	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/logging"
	"github.com/harunnryd/telvox/pkg/resilience"
)

const (
	providerName   = "elevenlabs"
	defaultBaseURL = "wss://api.elevenlabs.io"
)

type Config struct {
	APIKey  string
	VoiceID string
	ModelID string
	// OutputFormat is ulaw_8000 (passed through) or pcm_8000 (encoded by the
	// caller).
	OutputFormat    string
	Stability       float64
	SimilarityBoost float64
	BaseURL         string
	Timeout         time.Duration
	Logger          *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.VoiceID == "" {
		c.VoiceID = "EXAVITQu4vr4xnSDxMaL"
	}
	if c.ModelID == "" {
		c.ModelID = "eleven_turbo_v2_5"
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "ulaw_8000"
	}
	if c.Stability == 0 {
		c.Stability = 0.5
	}
	if c.SimilarityBoost == 0 {
		c.SimilarityBoost = 0.8
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

// TTS synthesizes one utterance per stream-input websocket session.
type TTS struct {
	cfg    Config
	dialer websocket.Dialer
	logger *slog.Logger
}

func New(cfg Config) *TTS {
	cfg = cfg.withDefaults()
	return &TTS{
		cfg:    cfg,
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		logger: logging.NewComponentLogger(cfg.Logger, "elevenlabs_tts"),
	}
}

func (s *TTS) Name() string { return providerName }

// Format reports the encoding of synthesized audio.
func (s *TTS) Format() tts.Format {
	if strings.HasPrefix(s.cfg.OutputFormat, "ulaw") {
		return tts.FormatMulaw
	}
	return tts.FormatLinear16
}

func (s *TTS) Synthesize(ctx context.Context, text string) (tts.Result, error) {
	return s.SynthesizeStream(ctx, text, nil)
}

// SynthesizeStream sends text and collects audio until the final message.
// onChunk, when set, sees every decoded chunk in order.
func (s *TTS) SynthesizeStream(ctx context.Context, text string, onChunk func([]byte)) (tts.Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Result{Format: s.Format(), SampleRate: 8000}, nil
	}
	if s.cfg.APIKey == "" {
		return tts.Result{}, errorsx.NewProviderError(providerName, "synthesize", errors.New("missing api key"), errorsx.ReasonTTSConnect)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	u, err := s.buildURL()
	if err != nil {
		return tts.Result{}, errorsx.NewProviderError(providerName, "synthesize", err, errorsx.ReasonTTSConnect)
	}
	started := time.Now()
	conn, resp, err := s.dialer.DialContext(ctx, u, http.Header{"xi-api-key": []string{s.cfg.APIKey}})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return tts.Result{}, errorsx.NewProviderError(providerName, "synthesize",
				resilience.RateLimitError{Provider: providerName, Message: resp.Status}, errorsx.ReasonTTSRateLimit)
		}
		return tts.Result{}, errorsx.NewProviderError(providerName, "synthesize", err, errorsx.ReasonTTSConnect)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for _, msg := range []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        s.cfg.Stability,
				"similarity_boost": s.cfg.SimilarityBoost,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			return tts.Result{}, s.wrapErr(ctx, err, errorsx.ReasonTTSSend)
		}
	}

	res := tts.Result{Format: s.Format(), SampleRate: 8000}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(res.Audio) > 0 {
				break
			}
			return tts.Result{}, s.wrapErr(ctx, err, errorsx.ReasonTTSSend)
		}
		chunk, final, err := decodeMessage(data)
		if err != nil {
			return tts.Result{}, errorsx.NewProviderError(providerName, "synthesize", err, errorsx.ReasonTTSSend)
		}
		if len(chunk) > 0 {
			if len(res.Audio) == 0 {
				res.Latency = time.Since(started)
			}
			res.Audio = append(res.Audio, chunk...)
			if onChunk != nil {
				onChunk(chunk)
			}
		}
		if final {
			break
		}
	}
	s.logger.Debug("tts_synthesized",
		"bytes", len(res.Audio),
		"first_audio_ms", res.Latency.Milliseconds(),
		"total_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

func (s *TTS) wrapErr(ctx context.Context, err error, reason errorsx.ReasonCode) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return errorsx.NewProviderError(providerName, "synthesize", err, reason)
}

type streamMessage struct {
	Audio   *string `json:"audio"`
	IsFinal *bool   `json:"isFinal"`
	Error   string  `json:"error"`
	Message string  `json:"message"`
}

func decodeMessage(data []byte) ([]byte, bool, error) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, fmt.Errorf("decode message: %w", err)
	}
	if msg.Error != "" {
		return nil, false, fmt.Errorf("%s: %s", msg.Error, msg.Message)
	}
	final := msg.IsFinal != nil && *msg.IsFinal
	if msg.Audio == nil || *msg.Audio == "" {
		return nil, final, nil
	}
	raw, err := base64.StdEncoding.DecodeString(*msg.Audio)
	if err != nil {
		return nil, false, fmt.Errorf("decode audio: %w", err)
	}
	return raw, final, nil
}

func (s *TTS) buildURL() (string, error) {
	base, err := url.Parse(strings.TrimRight(s.cfg.BaseURL, "/"))
	if err != nil {
		return "", err
	}
	base.Path += "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input"
	q := url.Values{}
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

var _ tts.StreamSynthesizer = (*TTS)(nil)
