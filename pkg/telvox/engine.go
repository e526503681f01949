package telvox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/telvox/pkg/adapters/tts"
	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/frames"
	"github.com/harunnryd/telvox/pkg/llm"
	"github.com/harunnryd/telvox/pkg/logging"
	"github.com/harunnryd/telvox/pkg/metrics"
	"github.com/harunnryd/telvox/pkg/observers"
	"github.com/harunnryd/telvox/pkg/redact"
	"github.com/harunnryd/telvox/pkg/registry"
	"github.com/harunnryd/telvox/pkg/runner"
	"github.com/harunnryd/telvox/pkg/session"
	"github.com/harunnryd/telvox/pkg/tracing"
	"github.com/harunnryd/telvox/pkg/transports"
	"github.com/harunnryd/telvox/pkg/turn"
)

// Engine owns the call registry and routes transport frames to the
// per-call turn controllers.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	providers *ProviderRegistry
	transport transports.Transport
	llm       llm.Generator
	tts       tts.Synthesizer
	registry  *registry.Registry[*turn.Controller]
	runner    *runner.LifecycleRunner

	prom     *metrics.PrometheusObserver
	asyncObs *metrics.AsyncObserver
	timeline *observers.TimelineObserver
	sweeper  *observers.RetentionSweeper
	events   io.Closer

	metricsSrv      *http.Server
	shutdownTracing func(context.Context) error

	routed   sync.WaitGroup
	stopping sync.WaitGroup
	ctx      context.Context
	cancel context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	// Transport overrides the one named by transports.provider.
	Transport transports.Transport
	Logger    *slog.Logger
	// Banner receives the startup banner. Nil disables it.
	Banner io.Writer
	// Observers are added to the engine's observer chain.
	Observers []metrics.Observer
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	cfg := opts.Config
	base := opts.Logger
	if base == nil {
		base = logging.SetDefault(cfg.LogLevel, cfg.LogFormat)
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)
	logger := logging.NewComponentLogger(base, "engine")

	logger.Info("telvox_init",
		"environment", cfg.Environment,
		"llm_provider", cfg.Vendors.LLM.Provider,
		"stt_provider", cfg.Vendors.STT.Provider,
		"tts_provider", cfg.Vendors.TTS.Provider,
		"transport", cfg.Transports.Provider,
		"strategy", turn.StrategyByName(cfg.Conversation.Strategy).Name(),
	)

	shutdownTracing, err := tracing.Setup(context.Background(), cfg.TracingConfig())
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviderRegistry()
	}

	e := &Engine{
		cfg:             cfg,
		logger:          logger,
		providers:       providers,
		shutdownTracing: shutdownTracing,
	}
	if err := e.buildObservers(base, opts.Observers); err != nil {
		_ = shutdownTracing(context.Background())
		return nil, err
	}

	if err := e.buildProviders(base); err != nil {
		e.closeObservers()
		_ = shutdownTracing(context.Background())
		return nil, err
	}

	e.transport = opts.Transport
	if e.transport == nil {
		e.transport, err = providers.BuildTransport(cfg, base)
		if err != nil {
			e.closeObservers()
			_ = shutdownTracing(context.Background())
			return nil, err
		}
	}

	e.registry = registry.New[*turn.Controller](func(ctx context.Context, key registry.Key) (*turn.Controller, error) {
		return e.newCall(ctx, key, base)
	})
	e.mountRoutes()

	hooks := runner.Hooks{
		OnStart: func() {
			fields := []any{"transport", e.transport.Name()}
			if rr, ok := e.transport.(transports.ReadyReporter); ok {
				for k, v := range rr.ReadyFields() {
					fields = append(fields, k, v)
				}
			}
			logger.Info("engine_ready", fields...)
		},
		OnStop: func() {
			if e.sweeper != nil {
				e.sweeper.Stop()
			}
			e.closeObservers()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if e.metricsSrv != nil {
				_ = e.metricsSrv.Shutdown(ctx)
			}
			if err := e.shutdownTracing(ctx); err != nil {
				logger.Warn("tracing_shutdown_failed", "error", err)
			}
			logger.Info("shutdown", "goroutines", runtime.NumGoroutine(), "active_calls", e.registry.Count())
		},
	}

	drainer := runner.DrainerFunc(func() error {
		e.registry.SetDraining(true)
		_ = e.transport.Stop()
		e.cancel()
		e.routed.Wait()
		e.registry.Range(func(entry *registry.Entry[*turn.Controller]) bool {
			e.endCall(entry.CallSID, entry.StreamID, "shutdown")
			return true
		})
		e.registry.CloseAll()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if !e.registry.WaitForEmpty(ctx, 200*time.Millisecond) {
			return fmt.Errorf("calls still active: %d", e.registry.Count())
		}
		stopped := make(chan struct{})
		go func() {
			e.stopping.Wait()
			close(stopped)
		}()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("calls still stopping: %w", ctx.Err())
		}
	})

	e.runner = runner.NewLifecycleRunner(drainer, hooks, runner.Options{
		DrainTimeout: 30 * time.Second,
		Banner:       opts.Banner,
		Logger:       base,
	})
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

func (e *Engine) buildObservers(base *slog.Logger, extra []metrics.Observer) error {
	obs := e.cfg.Observability
	e.prom = metrics.NewPrometheusObserver(nil)
	list := []metrics.Observer{
		e.prom,
		observers.NewLatencyObserver(base),
		metrics.NewSamplingObserver(observers.NewLoggerObserver(base), logSampleRate(obs.LogSampleRate),
			metrics.EventAudioInDropped, metrics.EventAudioOut),
	}
	if dir := strings.TrimSpace(obs.ArtifactsDir); dir != "" {
		if obs.RetentionDays > 0 {
			sweeper, err := observers.NewRetentionSweeper(dir, time.Duration(obs.RetentionDays)*24*time.Hour, obs.RetentionSchedule, base)
			if err != nil {
				return err
			}
			sweeper.Sweep()
			e.sweeper = sweeper
		}
		e.timeline = observers.NewTimelineObserver(dir)
		list = append(list, e.timeline)
	}
	if path := strings.TrimSpace(obs.EventsFile); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open events file: %w", err)
		}
		e.events = f
		list = append(list, metrics.NewJSONLObserver(f))
	}
	list = append(list, extra...)
	e.asyncObs = metrics.NewAsyncObserver(metrics.NewMultiObserver(list...), 2048)
	return nil
}

func logSampleRate(rate float64) float64 {
	if rate <= 0 {
		return 1
	}
	return rate
}

func (e *Engine) closeObservers() {
	if e.asyncObs != nil {
		e.asyncObs.Close()
		if dropped := e.asyncObs.Dropped(); dropped > 0 {
			e.logger.Warn("metrics_events_dropped", "count", dropped)
		}
	}
	if e.timeline != nil {
		_ = e.timeline.Close()
	}
	if e.events != nil {
		_ = e.events.Close()
	}
}

// buildProviders builds the shared LLM and TTS collaborators and guards
// them with circuit breakers. The LLM also retries until its first token.
func (e *Engine) buildProviders(base *slog.Logger) error {
	gen, err := e.providers.BuildLLM(e.cfg)
	if err != nil {
		return err
	}
	synth, err := e.providers.BuildTTS(e.cfg, base)
	if err != nil {
		return err
	}
	breaker := e.cfg.BreakerConfig()
	var guarded llm.Generator = llm.NewBreakerGenerator(gen, breaker, e.asyncObs, base)
	if e.cfg.Resilience.Retries > 0 {
		guarded = llm.NewRetryGenerator(guarded, e.cfg.RetryPolicy())
	}
	e.llm = guarded
	e.tts = tts.NewBreakerSynthesizer(synth, breaker, e.asyncObs, base)
	return nil
}

func (e *Engine) newCall(_ context.Context, key registry.Key, base *slog.Logger) (*turn.Controller, error) {
	stream, err := e.providers.BuildSTT(e.cfg, key, base)
	if err != nil {
		return nil, err
	}
	sess := session.New(session.Config{
		CallSID:      key.CallSID,
		StreamID:     key.StreamID,
		TraceID:      key.TraceID,
		HistoryLimit: e.cfg.Conversation.MaxHistory,
		Logger:       base,
	})
	return turn.NewController(turn.Config{
		Session:  sess,
		STT:      stream,
		LLM:      e.llm,
		TTS:      e.tts,
		Emitter:  turn.EmitterFunc(e.transport.Send),
		Observer: e.asyncObs,
		Logger:   base,
		Options:  e.cfg.TurnOptions(),
	}), nil
}

func (e *Engine) mountRoutes() {
	path := e.cfg.Observability.MetricsPath
	if path == "" {
		path = "/metrics"
	}
	if rr, ok := e.transport.(transports.RouteRegistrar); ok {
		rr.Handle(path, e.prom.Handler())
		rr.Handle("GET /calls/{sid}/metrics", e.CallMetricsHandler())
		return
	}
	if addr := strings.TrimSpace(e.cfg.Observability.MetricsAddr); addr != "" {
		mux := http.NewServeMux()
		mux.Handle(path, e.prom.Handler())
		mux.Handle("GET /calls/{sid}/metrics", e.CallMetricsHandler())
		e.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
}

// CallMetricsHandler serves the metrics snapshot of one active call.
func (e *Engine) CallMetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := r.PathValue("sid")
		entry, ok := e.registry.Get(sid)
		if !ok {
			http.Error(w, "call not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entry.Call.Snapshot())
	})
}

// Start starts the transport, the frame router and the lifecycle runner.
// It returns once they are running.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.startServing(ctx); err != nil {
		return err
	}
	go func() {
		if err := e.runner.Run(ctx); err != nil && !errors.Is(err, runner.ErrAlreadyStarted) {
			e.logger.Warn("runner_exit", "error", err)
		}
	}()
	return nil
}

// Run starts the engine and blocks until ctx is canceled or Stop is called
// and the drain completes.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.startServing(ctx); err != nil {
		return err
	}
	return e.runner.Run(ctx)
}

func (e *Engine) startServing(ctx context.Context) error {
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	if e.sweeper != nil {
		e.sweeper.Start()
	}
	if e.metricsSrv != nil {
		go func() {
			if err := e.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error("metrics_server_error", "error", err)
			}
		}()
	}
	e.routed.Add(1)
	go e.routeTransport(e.ctx)
	return nil
}

func (e *Engine) Stop() error {
	return e.runner.Stop()
}

// routeTransport is the only reader of inbound frames and is shared by all
// calls. Nothing it does waits on a call: audio goes to the call's ingress
// queue, and recognizer connect and teardown run on per-call goroutines.
func (e *Engine) routeTransport(ctx context.Context) {
	defer e.routed.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-e.transport.Recv():
			if !ok {
				return
			}
			e.dispatch(f)
		}
	}
}

func (e *Engine) dispatch(f frames.Frame) {
	meta := f.Meta()
	streamID := meta[frames.MetaStreamID]
	callSID := meta[frames.MetaCallSID]

	switch fr := f.(type) {
	case frames.SystemFrame:
		switch fr.Name() {
		case frames.SystemCallStart:
			e.startCall(registry.Key{CallSID: callSID, StreamID: streamID, TraceID: meta[frames.MetaTraceID]}, meta)
		case frames.SystemCallEnd:
			e.endCall(callSID, streamID, meta[frames.MetaCallEndReason])
		}
	case frames.AudioFrame:
		if entry, ok := e.lookup(callSID, streamID); ok {
			entry.Call.OnAudio(fr)
		}
	case frames.ControlFrame:
		if fr.Code() != frames.ControlMark {
			return
		}
		if entry, ok := e.lookup(callSID, streamID); ok {
			entry.Call.OnMark(meta[frames.MetaMarkName])
		}
	}
}

func (e *Engine) lookup(callSID, streamID string) (*registry.Entry[*turn.Controller], bool) {
	if streamID != "" {
		if entry, ok := e.registry.GetByStream(streamID); ok {
			return entry, true
		}
	}
	if callSID != "" {
		return e.registry.Get(callSID)
	}
	return nil, false
}

func (e *Engine) startCall(key registry.Key, meta map[string]string) {
	if key.CallSID == "" || key.StreamID == "" {
		e.logger.Warn("call_start_ignored", "stream_id", key.StreamID, "call_sid", key.CallSID,
			"reason_code", errorsx.ReasonProtocolUnexpected)
		return
	}
	_, created, err := e.registry.GetOrCreate(key)
	if err != nil {
		e.logger.Warn("call_start_failed",
			"stream_id", key.StreamID,
			"call_sid", key.CallSID,
			"error", err,
			"reason_code", errorsx.Reason(err),
		)
		return
	}
	if !created {
		return
	}
	e.asyncObs.RecordEvent(metrics.Event(metrics.EventCallStarted, 0, callTags(key)))
	e.logger.Info("call_started",
		"stream_id", key.StreamID,
		"call_sid", key.CallSID,
		"trace_id", key.TraceID,
		"from", redact.Text(meta[frames.MetaFromNumber]),
		"active_calls", e.registry.Count(),
	)
}

func (e *Engine) endCall(callSID, streamID, reason string) {
	entry, ok := e.lookup(callSID, streamID)
	if !ok {
		return
	}
	entry, ok = e.registry.Detach(entry.CallSID)
	if !ok {
		return
	}
	snap := entry.Call.Snapshot()
	// Teardown waits on the call's recognizer, so it runs off the router.
	e.stopping.Add(1)
	go func() {
		defer e.stopping.Done()
		entry.Stop()
	}()
	tags := callTags(entry.Key)
	tags[metrics.TagReason] = reason
	e.asyncObs.RecordEvent(metrics.Event(metrics.EventCallEnded, float64(snap.UptimeMs), tags))
	e.logger.Info("call_ended",
		"stream_id", entry.StreamID,
		"call_sid", entry.CallSID,
		"trace_id", entry.TraceID,
		"reason", reason,
		"turn_count", snap.TurnCount,
		"avg_response_latency_ms", snap.AvgResponseLatencyMs,
		"barge_ins", snap.BargeIns,
		"active_calls", e.registry.Count(),
	)
}

func callTags(key registry.Key) map[string]string {
	return map[string]string{
		metrics.TagStreamID: key.StreamID,
		metrics.TagCallSID:  key.CallSID,
		metrics.TagTraceID:  key.TraceID,
	}
}

// Snapshot returns the metrics of an active call.
func (e *Engine) Snapshot(callSID string) (session.MetricsSnapshot, bool) {
	entry, ok := e.registry.Get(callSID)
	if !ok {
		return session.MetricsSnapshot{}, false
	}
	return entry.Call.Snapshot(), true
}

func (e *Engine) ProviderRegistry() *ProviderRegistry { return e.providers }

func (e *Engine) Transport() transports.Transport { return e.transport }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Registry() *registry.Registry[*turn.Controller] { return e.registry }

func (e *Engine) Prometheus() *metrics.PrometheusObserver { return e.prom }

func (e *Engine) ActiveCalls() int64 { return e.registry.Count() }
