package configutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleSettings struct {
	APIKey     string        `mapstructure:"api_key"`
	SampleRate int           `mapstructure:"sample_rate"`
	Interim    *bool         `mapstructure:"interim"`
	KeepAlive  time.Duration `mapstructure:"keep_alive"`
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var out sampleSettings
	err := DecodeSettings(map[string]any{
		"API-KEY":    "k",
		"sampleRate": "8000",
		"interim":    true,
		"keep_alive": "30s",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "k", out.APIKey)
	assert.Equal(t, 8000, out.SampleRate)
	assert.True(t, BoolValue(out.Interim, false))
	assert.Equal(t, 30*time.Second, out.KeepAlive)
}

func TestDecodeSettingsEmptyIsNoop(t *testing.T) {
	out := sampleSettings{APIKey: "keep"}
	require.NoError(t, DecodeSettings(nil, &out))
	assert.Equal(t, "keep", out.APIKey)
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"model"}}

	assert.NoError(t, ValidateSettings(map[string]any{"api_key": "x", "model": "nova-2"}, schema))

	err := ValidateSettings(map[string]any{"api_key": " ", "voice": "v"}, schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing: api_key")
	assert.Contains(t, err.Error(), "unknown: voice")

	schema.AllowUnknown = true
	assert.NoError(t, ValidateSettings(map[string]any{"apiKey": "x", "voice": "v"}, schema))
}

func TestValueHelpers(t *testing.T) {
	n := 3
	f := 0.2
	assert.Equal(t, 3, IntValue(&n, 1))
	assert.Equal(t, 1, IntValue(nil, 1))
	assert.Equal(t, 0.2, FloatValue(&f, 0.5))
	assert.Equal(t, 20*time.Millisecond, Millis(0, 20*time.Millisecond))
	assert.Equal(t, 1500*time.Millisecond, Millis(1500, time.Second))
	assert.Error(t, RequireString("", "vendors.stt.settings.api_key"))
}
