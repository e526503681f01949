package observers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/telvox/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var callTags = map[string]string{
	metrics.TagStreamID: "MZ1",
	metrics.TagCallSID:  "CA1",
	metrics.TagTraceID:  "trace-1",
}

func TestTimelineObserverWritesJSONLPerCall(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordEvent(metrics.Event(metrics.EventCallStarted, 0, callTags))
	obs.RecordEvent(metrics.MetricsEvent{
		Name:   metrics.EventBargeIn,
		Time:   time.Now(),
		Tags:   map[string]string{metrics.TagCallSID: "CA1", metrics.TagReason: "speech_started"},
		Fields: map[string]any{"note": "hello"},
	})
	obs.RecordEvent(metrics.Event(metrics.EventCallEnded, 0, callTags))
	require.NoError(t, obs.Close())

	b, err := os.ReadFile(filepath.Join(dir, "CA1.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)

	var entry timelineEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, metrics.EventBargeIn, entry.Event)
	assert.Equal(t, "speech_started", entry.Tags[metrics.TagReason])
	assert.Equal(t, "hello", entry.Fields["note"])
}

func TestTimelineObserverIgnoresUntagged(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	obs.RecordEvent(metrics.Event(metrics.EventBreakerOpen, 0, map[string]string{metrics.TagProvider: "llm:openai"}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, "a_b", sanitizeID("a/b"))
}

func TestPurgeTimelines(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jsonl")
	keep := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	require.NoError(t, os.Chtimes(keep, past, past))

	n, err := PurgeTimelines(dir, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(keep)
	assert.NoError(t, err)

	n, err = PurgeTimelines(filepath.Join(dir, "missing"), time.Hour)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestLatencyObserverLogsCompletedTurn(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLatencyObserver(slog.New(slog.NewJSONHandler(&buf, nil)))

	obs.RecordEvent(metrics.Event(metrics.EventLLMFirstToken, 0, callTags))
	assert.Zero(t, obs.Pending())

	obs.RecordEvent(metrics.Event(metrics.EventTurnStarted, 0, callTags))
	obs.RecordEvent(metrics.Event(metrics.EventLLMFirstToken, 0, callTags))
	obs.RecordEvent(metrics.Event(metrics.EventTTSFirstAudio, 0, callTags))
	assert.Equal(t, 1, obs.Pending())
	obs.RecordEvent(metrics.Event(metrics.EventTurnCompleted, 420, callTags))
	assert.Zero(t, obs.Pending())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "turn_latency", line["msg"])
	assert.Equal(t, "latency", line["component"])
	assert.EqualValues(t, 420, line["turn_ms"])
	assert.EqualValues(t, -1, line["llm_total_ms"])
}

func TestLoggerObserverDebugOnly(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerObserver(slog.New(slog.NewJSONHandler(&buf, nil))).RecordEvent(metrics.Event(metrics.EventBargeIn, 0, callTags))
	assert.Empty(t, buf.String())

	NewLoggerObserver(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))).
		RecordEvent(metrics.Event(metrics.EventBargeIn, 0, callTags))
	assert.Contains(t, buf.String(), `"name":"barge_in"`)
}

func TestRetentionSweeperSchedules(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "CA1.jsonl")
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0o644))
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	_, err := NewRetentionSweeper(dir, time.Hour, "every tuesday", nil)
	require.Error(t, err)
	_, err = NewRetentionSweeper(dir, time.Hour, "-1h", nil)
	require.Error(t, err)

	s, err := NewRetentionSweeper(dir, 24*time.Hour, "@hourly", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	s.Start()
	s.Sweep()
	s.Stop()
	_, err = os.Stat(old)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = NewRetentionSweeper(dir, time.Hour, "30m", nil)
	assert.NoError(t, err)
}
