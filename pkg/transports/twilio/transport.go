package twilio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/frames"
	"github.com/harunnryd/telvox/pkg/logging"
	"github.com/harunnryd/telvox/pkg/transports"
	twilioclient "github.com/twilio/twilio-go/client"
)

var (
	errStreamClosed = errors.New("stream closed")
	errBufferFull   = errors.New("send buffer full")
)

type Config struct {
	ServerAddr         string       `mapstructure:"server_addr"`
	PublicURL          string       `mapstructure:"public_url"`
	AuthToken          string       `mapstructure:"auth_token"`
	AccountSID         string       `mapstructure:"account_sid"`
	VoicePath          string       `mapstructure:"voice_path"`
	WebsocketPath      string       `mapstructure:"ws_path"`
	StatusCallbackPath string       `mapstructure:"status_callback_path"`
	AllowAnyOrigin     bool         `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string     `mapstructure:"allowed_origins"`
	SendBuffer         int          `mapstructure:"send_buffer"`
	WriteTimeoutMS     int          `mapstructure:"write_timeout_ms"`
	Logger             *slog.Logger `mapstructure:"-"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 512
	}
	if c.WriteTimeoutMS <= 0 {
		c.WriteTimeoutMS = 2000
	}
	return c
}

// Transport serves the voice webhook, the status callback and the
// bidirectional media-stream websocket.
type Transport struct {
	cfg      Config
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
	routes   map[string]http.Handler

	recvMu     sync.RWMutex
	recvCh     chan frames.Frame
	recvClosed bool

	mu          sync.Mutex
	sessions    map[string]*stream
	callSIDs    map[string]string
	callStreams map[string]string
	traceIDs    map[string]string
	fromNumbers map[string]string

	draining atomic.Bool
	stopOnce sync.Once
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:    cfg,
		logger: logging.NewComponentLogger(cfg.Logger, "twilio_transport"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		routes:      make(map[string]http.Handler),
		recvCh:      make(chan frames.Frame, 1024),
		sessions:    make(map[string]*stream),
		callSIDs:    make(map[string]string),
		callStreams: make(map[string]string),
		traceIDs:    make(map[string]string),
		fromNumbers: make(map[string]string),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

// Handle registers an extra route on the transport listener.
func (t *Transport) Handle(pattern string, h http.Handler) {
	t.routes[pattern] = h
}

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url":         t.publicURL("https", t.cfg.VoicePath),
		"status_callback_url": t.publicURL("https", t.cfg.StatusCallbackPath),
		"stream_url":          t.publicURL("wss", t.cfg.WebsocketPath),
	}
}

// Mux returns the transport's routes. Start serves the same mux.
func (t *Transport) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.VoicePath, t.handleVoice)
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc(t.cfg.StatusCallbackPath, t.handleStatusCallback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if t.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	for pattern, h := range t.routes {
		mux.Handle(pattern, h)
	}
	return mux
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.Mux(),
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("twilio_transport_server_error", "error", err.Error())
		}
	}()
	t.logger.Info("twilio_transport_started", "addr", t.cfg.ServerAddr)
	return nil
}

// Stop closes the listener and every media stream, then closes Recv.
// Safe to call more than once.
func (t *Transport) Stop() error {
	t.stopOnce.Do(func() {
		t.draining.Store(true)
		if t.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = t.server.Shutdown(ctx)
			cancel()
		}
		t.mu.Lock()
		open := t.sessions
		t.sessions = make(map[string]*stream)
		t.mu.Unlock()
		for _, s := range open {
			_ = s.close()
		}
		t.recvMu.Lock()
		t.recvClosed = true
		close(t.recvCh)
		t.recvMu.Unlock()
		t.logger.Info("twilio_transport_stopped", "streams_closed", len(open))
	})
	return nil
}

// ServeHTTP upgrades a media-stream websocket and reads its events until
// stop or disconnect.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("twilio_upgrade_failed", "error", err.Error())
		return
	}
	defer conn.Close()

	rd := &reader{t: t, conn: conn}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		done, err := rd.handle(msg)
		if err != nil {
			t.logRejected(rd.streamID, err)
		}
		if done {
			return
		}
	}
	if rd.streamID != "" {
		t.endCall(rd.streamID, "transport_closed")
	}
}

// reader holds per-connection state for ServeHTTP.
type reader struct {
	t        *Transport
	conn     *websocket.Conn
	streamID string
	callSID  string
}

// handle processes one websocket message. It reports done after stop.
func (rd *reader) handle(msg []byte) (bool, error) {
	var evt Event
	if err := json.Unmarshal(msg, &evt); err != nil {
		return false, errorsx.Wrap(errorsx.ProtocolError{Event: "unknown", Detail: "malformed json: " + err.Error()}, errorsx.ReasonProtocolMalformed)
	}
	t := rd.t
	switch evt.Event {
	case "connected":
		return false, nil
	case "start":
		if evt.Start == nil || evt.Start.StreamSID == "" {
			return false, errorsx.Wrap(errorsx.ProtocolError{Event: "start", Detail: "missing stream sid"}, errorsx.ReasonProtocolMalformed)
		}
		if rd.streamID != "" {
			return false, errorsx.Wrap(errorsx.ProtocolError{Event: "start", Detail: "duplicate start"}, errorsx.ReasonProtocolUnexpected)
		}
		rd.streamID = evt.Start.StreamSID
		rd.callSID = evt.Start.CallSID
		traceID := uuid.NewString()
		from := evt.Start.CustomParameters["from"]
		oldStream, oldSess := t.attach(rd.streamID, rd.callSID, traceID, from, rd.conn)
		if oldSess != nil {
			_ = oldSess.close()
		}
		meta := t.metaForStream(rd.streamID)
		meta[frames.MetaSource] = "transport"
		if enc := evt.Start.MediaFormat.Encoding; enc != "" {
			meta[frames.MetaEncoding] = enc
		}
		if oldStream != "" {
			meta[frames.MetaOldStreamID] = oldStream
		}
		t.push(frames.NewSystemFrame(rd.streamID, time.Now().UnixNano(), frames.SystemCallStart, meta))
		t.logger.Info("twilio_stream_started",
			"stream_id", rd.streamID,
			"call_sid", rd.callSID,
			"trace_id", traceID,
			"encoding", evt.Start.MediaFormat.Encoding,
		)
		return false, nil
	case "media":
		if rd.streamID == "" {
			return false, errorsx.Wrap(errorsx.ProtocolError{Event: "media", Detail: "media before start"}, errorsx.ReasonProtocolUnexpected)
		}
		if evt.Media == nil {
			return false, errorsx.Wrap(errorsx.ProtocolError{Event: "media", Detail: "missing media body"}, errorsx.ReasonProtocolMalformed)
		}
		payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
		if err != nil {
			return false, errorsx.Wrap(errorsx.FormatError{Op: "decode_media", Detail: err.Error()}, errorsx.ReasonAudioFormat)
		}
		meta := t.metaForStream(rd.streamID)
		meta[frames.MetaEncoding] = frames.EncodingMulaw
		t.push(frames.NewAudioFrame(rd.streamID, mediaPTS(evt.Media.Timestamp), payload, 8000, 1, meta))
		return false, nil
	case "mark":
		if rd.streamID == "" {
			return false, errorsx.Wrap(errorsx.ProtocolError{Event: "mark", Detail: "mark before start"}, errorsx.ReasonProtocolUnexpected)
		}
		name := ""
		if evt.Mark != nil {
			name = evt.Mark.Name
		}
		meta := t.metaForStream(rd.streamID)
		meta[frames.MetaMarkName] = name
		meta[frames.MetaSource] = "transport"
		t.push(frames.NewControlFrame(rd.streamID, time.Now().UnixNano(), frames.ControlMark, meta))
		return false, nil
	case "stop":
		if rd.streamID == "" {
			return true, errorsx.Wrap(errorsx.ProtocolError{Event: "stop", Detail: "stop before start"}, errorsx.ReasonProtocolUnexpected)
		}
		t.endCall(rd.streamID, "completed")
		return true, nil
	default:
		return false, errorsx.Wrap(errorsx.ProtocolError{Event: evt.Event, Detail: "unsupported event"}, errorsx.ReasonProtocolUnexpected)
	}
}

func (t *Transport) logRejected(streamID string, err error) {
	reason := errorsx.Reason(err)
	var ferr errorsx.FormatError
	if errors.As(err, &ferr) {
		t.logger.Warn("twilio_media_rejected", "stream_id", streamID, "error", err.Error(), "reason_code", reason)
		return
	}
	t.logger.Debug("twilio_event_ignored", "stream_id", streamID, "error", err.Error(), "reason_code", reason)
}

// Send writes an outbound frame to its stream. Audio becomes media,
// ControlClear becomes clear and ControlMark becomes mark.
func (t *Transport) Send(f frames.Frame) error {
	streamID := f.Meta()[frames.MetaStreamID]
	var msg outbound
	switch v := f.(type) {
	case frames.AudioFrame:
		msg = outbound{Event: "media", StreamSID: streamID, Media: &outboundMedia{
			Payload: base64.StdEncoding.EncodeToString(v.RawPayload()),
		}}
	case frames.ControlFrame:
		switch v.Code() {
		case frames.ControlClear:
			msg = outbound{Event: "clear", StreamSID: streamID}
		case frames.ControlMark:
			msg = outbound{Event: "mark", StreamSID: streamID, Mark: &Mark{Name: v.Meta()[frames.MetaMarkName]}}
		default:
			return nil
		}
	default:
		return nil
	}
	s := t.session(streamID)
	if s == nil {
		return errorsx.Wrap(errorsx.TransportError{StreamID: streamID, Err: errStreamClosed}, errorsx.ReasonTransportClosed)
	}
	return s.enqueue(msg)
}

func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("twilio_invalid_signature", "path", r.URL.Path, "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(buildStreamTwiml(t.websocketURL(r), r.FormValue("From"))))
}

func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if t.cfg.AuthToken != "" && !t.validateTwilioRequest(r) {
		t.logger.Warn("twilio_status_invalid_signature", "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	t.logger.Info("twilio_call_status", "call_sid", callSID, "status", status)
	reason := normalizeCallEndReason(status)
	if reason == "" || callSID == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if streamID := t.streamForCall(callSID); streamID != "" {
		t.endCall(streamID, reason)
	}
	w.WriteHeader(http.StatusOK)
}

// endCall publishes call_end and forgets the stream. Only the first call
// for a stream publishes.
func (t *Transport) endCall(streamID, reason string) {
	meta := t.metaForStream(streamID)
	if !t.detach(streamID) {
		return
	}
	meta[frames.MetaCallEndReason] = normalizeCallEndReason(reason)
	meta[frames.MetaSource] = "transport"
	t.push(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallEnd, meta))
	t.logger.Info("twilio_stream_ended", "stream_id", streamID, "call_sid", meta[frames.MetaCallSID], "reason", meta[frames.MetaCallEndReason])
}

func (t *Transport) push(f frames.Frame) {
	t.recvMu.RLock()
	defer t.recvMu.RUnlock()
	if t.recvClosed {
		return
	}
	select {
	case t.recvCh <- f:
	default:
		t.logger.Warn("twilio_inbound_dropped", "kind", string(f.Kind()), "stream_id", f.Meta()[frames.MetaStreamID])
	}
}

func (t *Transport) websocketURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(t.cfg.PublicURL) + t.cfg.WebsocketPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return "wss://" + host + t.cfg.WebsocketPath
}

func (t *Transport) publicURL(scheme, path string) string {
	if t.cfg.PublicURL != "" {
		return scheme + "://" + normalizePublicURL(t.cfg.PublicURL) + path
	}
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	if scheme == "wss" {
		scheme = "ws"
	} else {
		scheme = "http"
	}
	return scheme + "://" + addr + path
}

func (t *Transport) attach(streamID, callSID, traceID, from string, conn *websocket.Conn) (string, *stream) {
	s := newStream(streamID, conn, t.cfg.SendBuffer, time.Duration(t.cfg.WriteTimeoutMS)*time.Millisecond, t.logger)
	var oldStream string
	var oldSess *stream
	t.mu.Lock()
	if callSID != "" {
		if existing := t.callStreams[callSID]; existing != "" && existing != streamID {
			oldStream = existing
			oldSess = t.sessions[existing]
			t.forgetLocked(existing)
		}
		t.callStreams[callSID] = streamID
	}
	t.sessions[streamID] = s
	t.callSIDs[streamID] = callSID
	t.traceIDs[streamID] = traceID
	if from != "" {
		t.fromNumbers[streamID] = from
	}
	t.mu.Unlock()
	go s.loop()
	return oldStream, oldSess
}

// detach reports whether the stream was still attached.
func (t *Transport) detach(streamID string) bool {
	t.mu.Lock()
	s, ok := t.sessions[streamID]
	t.forgetLocked(streamID)
	t.mu.Unlock()
	if s != nil {
		_ = s.close()
	}
	return ok
}

func (t *Transport) forgetLocked(streamID string) {
	callSID := t.callSIDs[streamID]
	delete(t.sessions, streamID)
	delete(t.callSIDs, streamID)
	delete(t.traceIDs, streamID)
	delete(t.fromNumbers, streamID)
	if callSID != "" && t.callStreams[callSID] == streamID {
		delete(t.callStreams, callSID)
	}
}

func (t *Transport) session(streamID string) *stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[streamID]
}

func (t *Transport) streamForCall(callSID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callStreams[callSID]
}

func (t *Transport) metaForStream(streamID string) map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	meta := map[string]string{frames.MetaStreamID: streamID}
	if v := t.callSIDs[streamID]; v != "" {
		meta[frames.MetaCallSID] = v
	}
	if v := t.traceIDs[streamID]; v != "" {
		meta[frames.MetaTraceID] = v
	}
	if v := t.fromNumbers[streamID]; v != "" {
		meta[frames.MetaFromNumber] = v
	}
	return meta
}

func (t *Transport) validateTwilioRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || t.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.ValidateBody(t.requestURL(r), body, signature)
}

func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return strings.TrimRight(t.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(t.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
	if origin == "" {
		return true
	}
	originHost := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimRight(strings.TrimSpace(allowed), "/")
		if a == "" {
			continue
		}
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func buildStreamTwiml(wsURL, from string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="`)
	b.WriteString(xmlEscape(wsURL))
	b.WriteString(`">`)
	if from != "" {
		b.WriteString(`<Parameter name="from" value="`)
		b.WriteString(xmlEscape(from))
		b.WriteString(`"/>`)
	}
	b.WriteString(`</Stream></Connect></Response>`)
	return b.String()
}

func xmlEscape(in string) string {
	return strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	).Replace(in)
}

func normalizeCallEndReason(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "queued", "initiated", "ringing", "in-progress", "inprogress":
		return ""
	case "completed", "call_ended", "call-ended", "hangup":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "error", "canceled", "cancelled", "transport_closed":
		return "failed"
	default:
		return "unknown"
	}
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}

// mediaPTS converts the stream-relative millisecond timestamp to
// nanoseconds. Missing timestamps fall back to the wall clock.
func mediaPTS(ts string) int64 {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now().UnixNano()
	}
	return ms * int64(time.Millisecond)
}

// stream is the outbound side of one media websocket. A single writer
// goroutine drains sendCh.
type stream struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	sendCh chan []byte
	closed bool
}

func newStream(id string, conn *websocket.Conn, buffer int, writeTimeout time.Duration, logger *slog.Logger) *stream {
	return &stream{
		id:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
		logger:       logger,
		sendCh:       make(chan []byte, buffer),
	}
}

// enqueue never blocks. It fails with TransportError once the stream is
// closed or its buffer is full.
func (s *stream) enqueue(msg outbound) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errorsx.Wrap(errorsx.TransportError{StreamID: s.id, Err: err}, errorsx.ReasonTransportSend)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.Wrap(errorsx.TransportError{StreamID: s.id, Err: errStreamClosed}, errorsx.ReasonTransportClosed)
	}
	select {
	case s.sendCh <- b:
		return nil
	default:
		return errorsx.Wrap(errorsx.TransportError{StreamID: s.id, Err: errBufferFull}, errorsx.ReasonTransportSend)
	}
}

func (s *stream) loop() {
	for msg := range s.sendCh {
		if s.conn == nil {
			continue
		}
		if s.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.logger.Warn("twilio_write_failed", "stream_id", s.id, "error", err.Error(), "reason_code", errorsx.ReasonTransportSend)
			s.shutdown()
		}
	}
}

// shutdown stops accepting messages. The writer drains what is queued.
func (s *stream) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.sendCh)
	}
}

func (s *stream) close() error {
	s.shutdown()
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

type Start struct {
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type Media struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type Mark struct {
	Name string `json:"name"`
}

type Stop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// Event is one inbound media-stream message.
type Event struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	StreamSID      string `json:"streamSid,omitempty"`
	Start          *Start `json:"start,omitempty"`
	Media          *Media `json:"media,omitempty"`
	Mark           *Mark  `json:"mark,omitempty"`
	Stop           *Stop  `json:"stop,omitempty"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

type outbound struct {
	Event     string         `json:"event"`
	StreamSID string         `json:"streamSid"`
	Media     *outboundMedia `json:"media,omitempty"`
	Mark      *Mark          `json:"mark,omitempty"`
}

var (
	_ transports.Transport      = (*Transport)(nil)
	_ transports.RouteRegistrar = (*Transport)(nil)
	_ transports.ReadyReporter  = (*Transport)(nil)
)
