package telvox

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/telvox/pkg/adapters/stt"
	"github.com/harunnryd/telvox/pkg/adapters/tts"
	"github.com/harunnryd/telvox/pkg/configutil"
	"github.com/harunnryd/telvox/pkg/llm"
	"github.com/harunnryd/telvox/pkg/providers/deepgram"
	"github.com/harunnryd/telvox/pkg/providers/elevenlabs"
	"github.com/harunnryd/telvox/pkg/providers/mock"
	"github.com/harunnryd/telvox/pkg/providers/openai"
	"github.com/harunnryd/telvox/pkg/registry"
	"github.com/harunnryd/telvox/pkg/transports"
	mocktransport "github.com/harunnryd/telvox/pkg/transports/mock"
	"github.com/harunnryd/telvox/pkg/transports/twilio"
)

// STTFactory builds the recognition stream of one call.
type STTFactory func(cfg Config, key registry.Key, logger *slog.Logger) (stt.Stream, error)

// TTSFactory and LLMFactory build process-wide collaborators shared by all
// calls.
type TTSFactory func(cfg Config, logger *slog.Logger) (tts.Synthesizer, error)
type LLMFactory func(cfg Config) (llm.Generator, error)
type TransportFactory func(cfg Config, logger *slog.Logger) (transports.Transport, error)

type ProviderRegistry struct {
	stt       map[string]STTFactory
	tts       map[string]TTSFactory
	llm       map[string]LLMFactory
	transport map[string]TransportFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:       make(map[string]STTFactory),
		tts:       make(map[string]TTSFactory),
		llm:       make(map[string]LLMFactory),
		transport: make(map[string]TransportFactory),
	}
}

// DefaultProviderRegistry registers the bundled vendors and transports.
func DefaultProviderRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	r.RegisterSTT("deepgram", buildDeepgram)
	r.RegisterSTT("mock", buildMockSTT)
	r.RegisterTTS("elevenlabs", buildElevenLabs)
	r.RegisterTTS("mock", buildMockTTS)
	r.RegisterLLM("openai", buildOpenAI)
	r.RegisterLLM("mock", buildMockLLM)
	r.RegisterTransport("twilio", buildTwilio)
	r.RegisterTransport("mock", func(Config, *slog.Logger) (transports.Transport, error) {
		return mocktransport.New(), nil
	})
	return r
}

func providerKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[providerKey(name)] = factory
}

func (r *ProviderRegistry) RegisterTransport(name string, factory TransportFactory) {
	r.transport[providerKey(name)] = factory
}

func (r *ProviderRegistry) BuildSTT(cfg Config, key registry.Key, logger *slog.Logger) (stt.Stream, error) {
	fn := r.stt[providerKey(cfg.Vendors.STT.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", cfg.Vendors.STT.Provider)
	}
	return fn(cfg, key, logger)
}

func (r *ProviderRegistry) BuildTTS(cfg Config, logger *slog.Logger) (tts.Synthesizer, error) {
	fn := r.tts[providerKey(cfg.Vendors.TTS.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", cfg.Vendors.TTS.Provider)
	}
	return fn(cfg, logger)
}

func (r *ProviderRegistry) BuildLLM(cfg Config) (llm.Generator, error) {
	fn := r.llm[providerKey(cfg.Vendors.LLM.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", cfg.Vendors.LLM.Provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTransport(cfg Config, logger *slog.Logger) (transports.Transport, error) {
	fn := r.transport[providerKey(cfg.Transports.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("transport not registered: %s", cfg.Transports.Provider)
	}
	return fn(cfg, logger)
}

type deepgramSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	Interim        *bool  `mapstructure:"interim"`
	VADEvents      *bool  `mapstructure:"vad_events"`
	SmartFormat    *bool  `mapstructure:"smart_format"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
	EndpointingMS  int    `mapstructure:"endpointing_ms"`
}

var deepgramSchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{"model", "language", "interim", "vad_events", "smart_format", "utterance_end_ms", "endpointing_ms"},
}

func buildDeepgram(cfg Config, key registry.Key, logger *slog.Logger) (stt.Stream, error) {
	var s deepgramSettings
	if err := decodeVendor("vendors.stt", cfg.Vendors.STT.Settings, deepgramSchema, &s); err != nil {
		return nil, err
	}
	return deepgram.New(deepgram.Config{
		APIKey:         s.APIKey,
		Model:          s.Model,
		Language:       s.Language,
		Interim:        configutil.BoolValue(s.Interim, true),
		VADEvents:      configutil.BoolValue(s.VADEvents, true),
		SmartFormat:    configutil.BoolValue(s.SmartFormat, true),
		UtteranceEndMS: s.UtteranceEndMS,
		EndpointingMS:  s.EndpointingMS,
		StreamID:       key.StreamID,
		CallSID:        key.CallSID,
		TraceID:        key.TraceID,
		Logger:         logger,
	}), nil
}

type mockSTTSettings struct {
	Transcripts        []string `mapstructure:"transcripts"`
	FramesPerUtterance int      `mapstructure:"frames_per_utterance"`
	EmitInterim        bool     `mapstructure:"emit_interim"`
	EmitVAD            bool     `mapstructure:"emit_vad"`
}

func buildMockSTT(cfg Config, _ registry.Key, _ *slog.Logger) (stt.Stream, error) {
	var s mockSTTSettings
	schema := configutil.Schema{Optional: []string{"transcripts", "frames_per_utterance", "emit_interim", "emit_vad"}}
	if err := decodeVendor("vendors.stt", cfg.Vendors.STT.Settings, schema, &s); err != nil {
		return nil, err
	}
	return mock.NewSTT(mock.STTConfig{
		Transcripts:        s.Transcripts,
		FramesPerUtterance: s.FramesPerUtterance,
		EmitInterim:        s.EmitInterim,
		EmitVAD:            s.EmitVAD,
	}), nil
}

type elevenLabsSettings struct {
	APIKey          string  `mapstructure:"api_key"`
	VoiceID         string  `mapstructure:"voice_id"`
	ModelID         string  `mapstructure:"model_id"`
	OutputFormat    string  `mapstructure:"output_format"`
	Stability       float64 `mapstructure:"stability"`
	SimilarityBoost float64 `mapstructure:"similarity_boost"`
	BaseURL         string  `mapstructure:"base_url"`
	TimeoutMS       int     `mapstructure:"timeout_ms"`
}

var elevenLabsSchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{"voice_id", "model_id", "output_format", "stability", "similarity_boost", "base_url", "timeout_ms"},
}

func buildElevenLabs(cfg Config, logger *slog.Logger) (tts.Synthesizer, error) {
	var s elevenLabsSettings
	if err := decodeVendor("vendors.tts", cfg.Vendors.TTS.Settings, elevenLabsSchema, &s); err != nil {
		return nil, err
	}
	return elevenlabs.New(elevenlabs.Config{
		APIKey:          s.APIKey,
		VoiceID:         s.VoiceID,
		ModelID:         s.ModelID,
		OutputFormat:    s.OutputFormat,
		Stability:       s.Stability,
		SimilarityBoost: s.SimilarityBoost,
		BaseURL:         s.BaseURL,
		Timeout:         configutil.Millis(s.TimeoutMS, 0),
		Logger:          logger,
	}), nil
}

type mockTTSSettings struct {
	PerWordMS int     `mapstructure:"per_word_ms"`
	ToneHz    float64 `mapstructure:"tone_hz"`
}

func buildMockTTS(cfg Config, _ *slog.Logger) (tts.Synthesizer, error) {
	var s mockTTSSettings
	schema := configutil.Schema{Optional: []string{"per_word_ms", "tone_hz"}}
	if err := decodeVendor("vendors.tts", cfg.Vendors.TTS.Settings, schema, &s); err != nil {
		return nil, err
	}
	return mock.NewTTS(mock.TTSConfig{
		PerWord: configutil.Millis(s.PerWordMS, 0),
		ToneHz:  s.ToneHz,
	}), nil
}

type openAISettings struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	Stream    *bool  `mapstructure:"stream"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

var openAISchema = configutil.Schema{
	Required: []string{"api_key"},
	Optional: []string{"model", "base_url", "stream", "timeout_ms"},
}

func buildOpenAI(cfg Config) (llm.Generator, error) {
	var s openAISettings
	if err := decodeVendor("vendors.llm", cfg.Vendors.LLM.Settings, openAISchema, &s); err != nil {
		return nil, err
	}
	a := openai.NewAdapter(s.APIKey, s.Model)
	if s.BaseURL != "" {
		a.BaseURL = s.BaseURL
	}
	a.Stream = configutil.BoolValue(s.Stream, true)
	if s.TimeoutMS > 0 {
		a.Client.Timeout = time.Duration(s.TimeoutMS) * time.Millisecond
	}
	return a, nil
}

type mockLLMSettings struct {
	Replies []string `mapstructure:"replies"`
	DelayMS int      `mapstructure:"delay_ms"`
}

func buildMockLLM(cfg Config) (llm.Generator, error) {
	var s mockLLMSettings
	schema := configutil.Schema{Optional: []string{"replies", "delay_ms"}}
	if err := decodeVendor("vendors.llm", cfg.Vendors.LLM.Settings, schema, &s); err != nil {
		return nil, err
	}
	return mock.NewLLM(mock.LLMConfig{
		Replies: s.Replies,
		Delay:   configutil.Millis(s.DelayMS, 0),
	}), nil
}

var twilioSchema = configutil.Schema{
	Optional: []string{
		"server_addr", "public_url", "auth_token", "account_sid", "voice_path", "ws_path",
		"status_callback_path", "allow_any_origin", "allowed_origins", "send_buffer", "write_timeout_ms",
	},
}

// TwilioConfig decodes the transport settings into a twilio config.
func TwilioConfig(cfg Config) (twilio.Config, error) {
	var tc twilio.Config
	if err := decodeVendor("transports", cfg.Transports.Settings, twilioSchema, &tc); err != nil {
		return twilio.Config{}, err
	}
	return tc, nil
}

func buildTwilio(cfg Config, logger *slog.Logger) (transports.Transport, error) {
	tc, err := TwilioConfig(cfg)
	if err != nil {
		return nil, err
	}
	tc.Logger = logger
	return twilio.New(tc), nil
}

func decodeVendor(path string, settings map[string]any, schema configutil.Schema, out any) error {
	if err := schema.Validate(settings); err != nil {
		return fmt.Errorf("%s.settings: %w", path, err)
	}
	if err := configutil.DecodeSettings(settings, out); err != nil {
		return fmt.Errorf("%s.settings: %w", path, err)
	}
	return nil
}
