package errorsx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsInnermostReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonSTTSend)
	assert.True(t, HasReason(err, ReasonSTTSend))
	assert.Equal(t, ReasonSTTSend, Reason(Wrap(err, ReasonLLMGenerate)))
	assert.Equal(t, ReasonUnknown, Reason(assertErr{}))
}

func TestStreamClosedOnlyForClosedTransport(t *testing.T) {
	closed := Wrap(TransportError{StreamID: "MZ1", Err: errors.New("gone")}, ReasonTransportClosed)
	full := Wrap(TransportError{StreamID: "MZ1", Err: errors.New("send buffer full")}, ReasonTransportSend)
	assert.True(t, StreamClosed(closed))
	assert.False(t, StreamClosed(full))
	assert.False(t, StreamClosed(Wrap(assertErr{}, ReasonTransportClosed)), "needs a transport error")
	assert.False(t, StreamClosed(nil))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, ReasonTTSSend))
	assert.Equal(t, ReasonUnknown, Reason(nil))
}

func TestProviderErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("socket reset")
	err := NewProviderError("elevenlabs", "synthesize", cause, ReasonTTSSend)

	var pe ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "elevenlabs", pe.Provider)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ReasonTTSSend, Reason(err))
	assert.Equal(t, "elevenlabs synthesize failed: socket reset", err.Error())
}

func TestTransportErrorUnwrap(t *testing.T) {
	cause := errors.New("closed")
	err := Wrap(TransportError{StreamID: "MZ1", Err: cause}, ReasonTransportClosed)

	var te TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "MZ1", te.StreamID)
	assert.ErrorIs(t, err, cause)
}

func TestFormatAndProtocolMessages(t *testing.T) {
	assert.Equal(t, "audio format: pcm: odd length 3", FormatError{Op: "pcm", Detail: "odd length 3"}.Error())
	assert.Contains(t, ProtocolError{Event: "media", Detail: "before start"}.Error(), `"media"`)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
