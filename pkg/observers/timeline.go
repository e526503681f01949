package observers

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/telvox/pkg/metrics"
	"github.com/harunnryd/telvox/pkg/redact"
)

const timelineExt = ".jsonl"

// TimelineObserver appends every event of a call to <dir>/<call>.jsonl.
// Files are closed when the call ends.
type TimelineObserver struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

func NewTimelineObserver(dir string) *TimelineObserver {
	return &TimelineObserver{dir: dir, files: make(map[string]*os.File)}
}

type timelineEntry struct {
	Time     time.Time         `json:"time"`
	Event    string            `json:"event"`
	Value    float64           `json:"value,omitempty"`
	CallSID  string            `json:"call_sid,omitempty"`
	StreamID string            `json:"stream_id,omitempty"`
	TraceID  string            `json:"trace_id,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
	Fields   map[string]any    `json:"fields,omitempty"`
}

func (o *TimelineObserver) RecordEvent(ev metrics.MetricsEvent) {
	if strings.TrimSpace(o.dir) == "" {
		return
	}
	id := fileID(ev.Tags)
	if id == "" {
		return
	}
	entry := timelineEntry{
		Time:     ev.Time.UTC(),
		Event:    ev.Name,
		Value:    ev.Value,
		CallSID:  ev.Tags[metrics.TagCallSID],
		StreamID: ev.Tags[metrics.TagStreamID],
		TraceID:  ev.Tags[metrics.TagTraceID],
		Tags:     extraTags(ev.Tags),
		Fields:   redactFields(ev.Fields),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	f := o.fileLocked(id)
	if f == nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
	if ev.Name == metrics.EventCallEnded {
		_ = f.Close()
		delete(o.files, id)
	}
}

// Close closes any open files.
func (o *TimelineObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for _, f := range o.files {
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	o.files = make(map[string]*os.File)
	return err
}

func (o *TimelineObserver) fileLocked(id string) *os.File {
	if f := o.files[id]; f != nil {
		return f
	}
	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(o.dir, id+timelineExt), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil
	}
	o.files[id] = f
	return f
}

// fileID prefers the call sid so reconnected streams share a file.
func fileID(tags map[string]string) string {
	for _, key := range []string{metrics.TagCallSID, metrics.TagTraceID, metrics.TagStreamID} {
		if v := sanitizeID(tags[key]); v != "" {
			return v
		}
	}
	return ""
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

func extraTags(in map[string]string) map[string]string {
	var out map[string]string
	for k, v := range in {
		switch k {
		case metrics.TagCallSID, metrics.TagStreamID, metrics.TagTraceID:
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}

func redactFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = redact.Text(s)
			continue
		}
		out[k] = v
	}
	return out
}

var _ metrics.Observer = (*TimelineObserver)(nil)
