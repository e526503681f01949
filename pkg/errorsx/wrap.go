package errorsx

import (
	"errors"
	"fmt"
	"strings"
)

// ReasonedError tags an error with a ReasonCode for logs and metrics.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Wrap tags err with reason. An error that already carries a reason keeps
// it, so the code set closest to the failure wins.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason returns the reason code carried by err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var re ReasonedError
	if err != nil && errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

// StreamClosed reports whether err is a send on a stream the transport has
// already closed. Other transport failures are transient.
func StreamClosed(err error) bool {
	var terr TransportError
	return errors.As(err, &terr) && HasReason(err, ReasonTransportClosed)
}

// FormatError reports a malformed audio payload. The frame is rejected and
// processing continues.
type FormatError struct {
	Op     string
	Detail string
}

func (e FormatError) Error() string {
	if e.Op == "" {
		return "audio format: " + e.Detail
	}
	return fmt.Sprintf("audio format: %s: %s", e.Op, e.Detail)
}

// ProviderError reports a failed call to a recognition, language-model or
// synthesis provider.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(" failed")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError tagged with a reason code.
func NewProviderError(provider, op string, err error, reason ReasonCode) error {
	return Wrap(ProviderError{Provider: provider, Op: op, Err: err}, reason)
}

// TransportError reports a failed outbound send on one media stream.
type TransportError struct {
	StreamID string
	Err      error
}

func (e TransportError) Error() string {
	if e.Err == nil {
		return "transport send failed for stream " + e.StreamID
	}
	return "transport send failed for stream " + e.StreamID + ": " + e.Err.Error()
}

func (e TransportError) Unwrap() error { return e.Err }

// ProtocolError reports an unexpected or out-of-order control message.
type ProtocolError struct {
	Event  string
	Detail string
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("protocol: event %q: %s", e.Event, e.Detail)
}
