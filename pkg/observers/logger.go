package observers

import (
	"context"
	"log/slog"

	"github.com/harunnryd/telvox/pkg/logging"
	"github.com/harunnryd/telvox/pkg/metrics"
)

// LoggerObserver writes every event at debug level.
type LoggerObserver struct {
	log *slog.Logger
}

func NewLoggerObserver(log *slog.Logger) *LoggerObserver {
	return &LoggerObserver{log: logging.NewComponentLogger(log, "metrics")}
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	ctx := context.Background()
	if !o.log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	attrs := make([]slog.Attr, 0, 3+len(ev.Tags)+len(ev.Fields))
	attrs = append(attrs,
		slog.String("name", ev.Name),
		slog.Time("time", ev.Time),
		slog.Float64("value", ev.Value),
	)
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(ctx, slog.LevelDebug, "metrics_event", attrs...)
}

var _ metrics.Observer = (*LoggerObserver)(nil)
