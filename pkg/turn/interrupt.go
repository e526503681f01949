package turn

import (
	"time"

	"github.com/harunnryd/telvox/pkg/audio"
	"github.com/harunnryd/telvox/pkg/frames"
)

// Emitter delivers outbound frames to the caller's transport.
type Emitter interface {
	Emit(frame frames.Frame) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(frame frames.Frame) error

func (f EmitterFunc) Emit(frame frames.Frame) error { return f(frame) }

// NewClearFrame asks the transport to drop audio buffered at the far end.
func NewClearFrame(streamID, reason string) frames.ControlFrame {
	return frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlClear, map[string]string{
		frames.MetaSource: "turn",
		frames.MetaReason: reason,
	})
}

// NewMarkFrame names the end of a playback.
func NewMarkFrame(streamID, name string) frames.ControlFrame {
	return frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlMark, map[string]string{
		frames.MetaSource:   "turn",
		frames.MetaMarkName: name,
	})
}

// NewMediaFrame wraps one outbound mulaw chunk.
func NewMediaFrame(streamID string, chunk []byte) frames.AudioFrame {
	return frames.NewAudioFrame(streamID, time.Now().UnixNano(), chunk, audio.SampleRate, 1, map[string]string{
		frames.MetaEncoding: frames.EncodingMulaw,
	})
}
