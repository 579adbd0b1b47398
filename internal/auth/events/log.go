package events

import (
	"context"
	"log/slog"
)

// LogSink writes events to a slog.Logger. It is the sink used when no broker
// is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink. A nil logger means slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(ctx context.Context, batch []Event) error {
	for _, ev := range batch {
		attrs := []slog.Attr{
			slog.String("event_id", ev.ID),
			slog.String("type", string(ev.Type)),
			slog.String("outcome", string(ev.Outcome)),
			slog.Time("timestamp", ev.Timestamp),
		}
		if ev.Principal != "" {
			attrs = append(attrs, slog.String("principal", ev.Principal))
		}
		if ev.TokenID != "" {
			attrs = append(attrs, slog.String("jti", ev.TokenID))
		}
		if ev.Reason != "" {
			attrs = append(attrs, slog.String("reason", ev.Reason))
		}
		if len(ev.Metadata) > 0 {
			md := make([]any, 0, len(ev.Metadata))
			for k, v := range ev.Metadata {
				md = append(md, slog.String(k, v))
			}
			attrs = append(attrs, slog.Group("metadata", md...))
		}
		s.logger.LogAttrs(ctx, slog.LevelInfo, "auth_event", attrs...)
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
