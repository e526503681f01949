package stt

import (
	"context"
	"time"

	"github.com/harunnryd/telvox/pkg/frames"
)

// Stream is a live speech-recognition connection for one call.
type Stream interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Connect opens the recognition connection.
	Connect(ctx context.Context) error
	// SendAudio forwards linear16 audio. It fails when not connected.
	SendAudio(frame frames.AudioFrame) error
	// Events delivers recognition events until Disconnect.
	Events() <-chan Event
	// Disconnect closes the connection. Safe to call more than once.
	Disconnect() error
	Connected() bool
}

type EventType string

const (
	EventTranscript    EventType = "transcript"
	EventSpeechStarted EventType = "speech_started"
	EventUtteranceEnd  EventType = "utterance_end"
	EventConnected     EventType = "connected"
	EventDisconnected  EventType = "disconnected"
	EventError         EventType = "error"
)

// Transcript is one recognition hypothesis.
type Transcript struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Timestamp  time.Time
}

// Event is a recognition event. Transcript is set for EventTranscript and
// Err for EventError.
type Event struct {
	Type       EventType
	Transcript Transcript
	Err        error
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	StreamID   string
	CallSID    string
	TraceID    string
	SampleRate int
	Encoding   string
	Language   string
}
