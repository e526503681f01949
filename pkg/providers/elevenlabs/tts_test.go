package elevenlabs

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/telvox/pkg/adapters/tts"
	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamServer(t *testing.T, received chan<- map[string]any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/v1/text-to-speech/voice/stream-input") {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
			if msg["text"] == "" {
				break
			}
		}
		for _, chunk := range [][]byte{{0xFF, 0xFE}, {0x7F}} {
			_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString(chunk)})
		}
		_ = conn.WriteJSON(map[string]any{"audio": nil, "isFinal": true})
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSynthesizeStreamCollectsChunks(t *testing.T) {
	received := make(chan map[string]any, 8)
	srv := newStreamServer(t, received)
	defer srv.Close()

	s := New(Config{APIKey: "key", VoiceID: "voice", BaseURL: wsURL(srv)})
	var chunks [][]byte
	res, err := s.SynthesizeStream(context.Background(), "Hello caller", func(b []byte) {
		chunks = append(chunks, b)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFE, 0x7F}, res.Audio)
	assert.Equal(t, tts.FormatMulaw, res.Format)
	assert.Len(t, chunks, 2)

	bos := <-received
	settings, ok := bos["voice_settings"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.5, settings["stability"])
	assert.Equal(t, 0.8, settings["similarity_boost"])
	text := <-received
	assert.Equal(t, "Hello caller ", text["text"])
	eos := <-received
	assert.Equal(t, "", eos["text"])
}

func TestSynthesizeRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := New(Config{APIKey: "key", VoiceID: "voice", BaseURL: wsURL(srv)})
	_, err := s.Synthesize(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, resilience.IsRateLimit(err))
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonTTSRateLimit))
}

func TestSynthesizeValidation(t *testing.T) {
	s := New(Config{})
	res, err := s.Synthesize(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, res.Audio)

	_, err = s.Synthesize(context.Background(), "hello")
	var perr errorsx.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "elevenlabs", perr.Provider)
}

func TestFormatAndURL(t *testing.T) {
	s := New(Config{OutputFormat: "pcm_8000"})
	assert.Equal(t, tts.FormatLinear16, s.Format())
	u, err := s.buildURL()
	require.NoError(t, err)
	assert.Contains(t, u, "wss://api.elevenlabs.io/v1/text-to-speech/EXAVITQu4vr4xnSDxMaL/stream-input?")
	assert.Contains(t, u, "model_id=eleven_turbo_v2_5")
	assert.Contains(t, u, "optimize_streaming_latency=4")
}

func TestDecodeMessage(t *testing.T) {
	_, _, err := decodeMessage([]byte(`{"error":"quota_exceeded","message":"no credits"}`))
	require.Error(t, err)
	_, final, err := decodeMessage([]byte(`{"isFinal":true}`))
	require.NoError(t, err)
	assert.True(t, final)
	_, _, err = decodeMessage([]byte(`{"audio":"%%%"}`))
	require.Error(t, err)
}
