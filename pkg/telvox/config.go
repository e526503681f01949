package telvox

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/telvox/pkg/configutil"
	"github.com/harunnryd/telvox/pkg/resilience"
	"github.com/harunnryd/telvox/pkg/tracing"
	"github.com/harunnryd/telvox/pkg/turn"
	"github.com/spf13/viper"
)

type Config struct {
	Transports    TransportsConfig    `mapstructure:"transports"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
	Playback      PlaybackConfig      `mapstructure:"playback"`
	Ingress       IngressConfig       `mapstructure:"ingress"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ConversationConfig struct {
	SystemPrompt       string  `mapstructure:"system_prompt"`
	Greeting           string  `mapstructure:"greeting"`
	GreetingDelayMS    int     `mapstructure:"greeting_delay_ms"`
	FallbackText       string  `mapstructure:"fallback_text"`
	MaxHistory         int     `mapstructure:"max_history"`
	MaxReplyTokens     int     `mapstructure:"max_reply_tokens"`
	Temperature        float64 `mapstructure:"temperature"`
	MinTranscriptChars int     `mapstructure:"min_transcript_chars"`
	// Strategy is "aggressive" (barge-in cuts playback) or "polite".
	Strategy string `mapstructure:"strategy"`
}

type PlaybackConfig struct {
	FrameMS     int `mapstructure:"frame_ms"`
	BurstFrames int `mapstructure:"burst_frames"`
}

type IngressConfig struct {
	NoiseGateThreshold float64 `mapstructure:"noise_gate_threshold"`
	JitterBuffer       bool    `mapstructure:"jitter_buffer"`
	JitterIntervalMS   int     `mapstructure:"jitter_interval_ms"`
	QueueFrames        int     `mapstructure:"queue_frames"`
}

type ResilienceConfig struct {
	BreakerFailures  int `mapstructure:"breaker_failures"`
	BreakerTimeoutMS int `mapstructure:"breaker_timeout_ms"`
	Retries          int `mapstructure:"retries"`
	RetryBackoffMS   int `mapstructure:"retry_backoff_ms"`
}

type ObservabilityConfig struct {
	TracingExporter string `mapstructure:"tracing_exporter"`
	MetricsPath     string `mapstructure:"metrics_path"`
	// MetricsAddr serves metrics on a separate listener when the transport
	// cannot host extra routes.
	MetricsAddr   string `mapstructure:"metrics_addr"`
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
	// RetentionSchedule is a cron expression or duration; default @daily.
	RetentionSchedule string `mapstructure:"retention_schedule"`
	EventsFile        string `mapstructure:"events_file"`
	// LogSampleRate thins per-frame events in the debug event log.
	LogSampleRate float64 `mapstructure:"log_sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transports.provider", "twilio")
	v.SetDefault("conversation.system_prompt", turn.DefaultSystemPrompt)
	v.SetDefault("conversation.greeting", turn.DefaultGreeting)
	v.SetDefault("conversation.greeting_delay_ms", int(turn.DefaultGreetingDelay/time.Millisecond))
	v.SetDefault("conversation.fallback_text", turn.DefaultFallbackText)
	v.SetDefault("conversation.max_history", 10)
	v.SetDefault("conversation.max_reply_tokens", turn.DefaultMaxReplyTokens)
	v.SetDefault("conversation.temperature", turn.DefaultTemperature)
	v.SetDefault("conversation.min_transcript_chars", turn.DefaultMinTranscriptChars)
	v.SetDefault("conversation.strategy", "aggressive")
	v.SetDefault("playback.frame_ms", 20)
	v.SetDefault("playback.burst_frames", 1)
	v.SetDefault("ingress.noise_gate_threshold", turn.DefaultNoiseGateThreshold)
	v.SetDefault("ingress.jitter_buffer", false)
	v.SetDefault("ingress.jitter_interval_ms", 20)
	v.SetDefault("ingress.queue_frames", turn.DefaultIngressQueue)
	v.SetDefault("resilience.breaker_failures", 5)
	v.SetDefault("resilience.breaker_timeout_ms", 30000)
	v.SetDefault("resilience.retries", 1)
	v.SetDefault("resilience.retry_backoff_ms", 250)
	v.SetDefault("observability.tracing_exporter", "none")
	v.SetDefault("observability.metrics_path", "/metrics")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("observability.retention_schedule", "@daily")
	v.SetDefault("observability.log_sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if c.Conversation.MaxHistory < 0 {
		return fmt.Errorf("conversation.max_history must not be negative")
	}
	if c.Conversation.Temperature < 0 || c.Conversation.Temperature > 2 {
		return fmt.Errorf("conversation.temperature must be within [0, 2]")
	}
	if c.Ingress.QueueFrames < 0 {
		return fmt.Errorf("ingress.queue_frames must not be negative")
	}
	if c.Ingress.NoiseGateThreshold < 0 || c.Ingress.NoiseGateThreshold > 1 {
		return fmt.Errorf("ingress.noise_gate_threshold must be within [0, 1]")
	}
	switch strings.ToLower(strings.TrimSpace(c.Conversation.Strategy)) {
	case "", "aggressive", "polite":
	default:
		return fmt.Errorf("conversation.strategy must be aggressive or polite")
	}
	return nil
}

// TurnOptions maps the conversation, playback and ingress sections onto
// controller options.
func (c Config) TurnOptions() turn.Options {
	frame := configutil.Millis(c.Playback.FrameMS, 20*time.Millisecond)
	return turn.Options{
		SystemPrompt:       c.Conversation.SystemPrompt,
		Greeting:           c.Conversation.Greeting,
		GreetingDelay:      configutil.Millis(c.Conversation.GreetingDelayMS, 0),
		FallbackText:       c.Conversation.FallbackText,
		MaxReplyTokens:     c.Conversation.MaxReplyTokens,
		Temperature:        c.Conversation.Temperature,
		MinTranscriptChars: c.Conversation.MinTranscriptChars,
		FrameDuration:      frame,
		FrameBytes:         int(frame/time.Millisecond) * 8,
		BurstFrames:        c.Playback.BurstFrames,
		NoiseGateThreshold: c.Ingress.NoiseGateThreshold,
		JitterBuffer:       c.Ingress.JitterBuffer,
		JitterInterval:     configutil.Millis(c.Ingress.JitterIntervalMS, frame),
		IngressQueue:       c.Ingress.QueueFrames,
		Strategy:           turn.StrategyByName(c.Conversation.Strategy),
	}
}

func (c Config) BreakerConfig() resilience.BreakerConfig {
	failures := c.Resilience.BreakerFailures
	if failures <= 0 {
		failures = 5
	}
	return resilience.BreakerConfig{
		MaxFailures: uint32(failures),
		Timeout:     configutil.Millis(c.Resilience.BreakerTimeoutMS, 30*time.Second),
	}
}

func (c Config) RetryPolicy() resilience.RetryPolicy {
	return resilience.NewRetryPolicy(c.Resilience.Retries, configutil.Millis(c.Resilience.RetryBackoffMS, 250*time.Millisecond))
}

func (c Config) TracingConfig() tracing.Config {
	return tracing.Config{Exporter: c.Observability.TracingExporter}
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			if ks, ok := k.(string); ok {
				out[ks] = expandAny(v)
			}
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			expandValue(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
