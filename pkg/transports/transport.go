package transports

import (
	"context"
	"net/http"

	"github.com/harunnryd/telvox/pkg/frames"
)

// Transport defines a vendor-agnostic I/O boundary for audio and control
// frames. Implementations are responsible for their own network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// CallController places and ends calls through the telephony provider.
type CallController interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
	Hangup(ctx context.Context, callSID string) error
}

// RouteRegistrar lets the engine mount extra HTTP routes on the transport
// listener. Routes must be registered before Start.
type RouteRegistrar interface {
	Handle(pattern string, h http.Handler)
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
