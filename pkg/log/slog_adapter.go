package log

import (
	"context"
	"log/slog"
	"strings"
)

// SlogAdapter mirrors protocol events into an operational slog.Logger.
// The agent enables it at debug level so a capture is visible on the
// console without a capture file.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter logs events to logger at Debug. Error events are logged
// at Warn.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return NewSlogAdapterLevel(logger, slog.LevelDebug)
}

// NewSlogAdapterLevel logs events to logger at level.
func NewSlogAdapterLevel(logger *slog.Logger, level slog.Level) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger, level: level}
}

// Log writes one record per event with the payload in a group named after
// the payload kind.
func (a *SlogAdapter) Log(event Event) {
	level := a.level
	if event.Error != nil && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !a.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 8)
	attrs = appendString(attrs, "session_id", event.SessionID)
	attrs = appendString(attrs, "conn_id", event.ConnectionID)
	attrs = appendString(attrs, "transport", event.Transport)
	attrs = appendString(attrs, "url", event.URL)
	attrs = append(attrs,
		slog.String("layer", event.Layer.String()),
		slog.String("direction", event.Direction.String()),
	)

	msg := "protocol " + strings.ToLower(event.Category.String())
	switch {
	case event.Frame != nil:
		attrs = append(attrs, slog.Group("frame",
			slog.Int("size", event.Frame.Size),
			slog.Int("captured", len(event.Frame.Data)),
			slog.Bool("truncated", event.Frame.Truncated),
		))
	case event.Packet != nil:
		attrs = append(attrs, slog.Group("packet",
			slog.Uint64("type", uint64(event.Packet.Type)),
			slog.Int("size", event.Packet.Size),
		))
	case event.StateChange != nil:
		sc := event.StateChange
		group := []any{
			slog.String("entity", sc.Entity.String()),
			slog.String("from", sc.OldState),
			slog.String("to", sc.NewState),
		}
		if sc.Reason != "" {
			group = append(group, slog.String("reason", sc.Reason))
		}
		attrs = append(attrs, slog.Group("state", group...))
	case event.Error != nil:
		group := []any{
			slog.String("layer", event.Error.Layer.String()),
			slog.String("op", event.Error.Context),
			slog.String("msg", event.Error.Message),
		}
		if event.Error.Kind != "" {
			group = append(group, slog.String("kind", event.Error.Kind))
		}
		attrs = append(attrs, slog.Group("error", group...))
	}

	// The record carries the event's own time, not the time it was mirrored.
	r := slog.NewRecord(event.Timestamp, level, msg, 0)
	r.AddAttrs(attrs...)
	_ = a.logger.Handler().Handle(ctx, r)
}

func appendString(attrs []slog.Attr, key, value string) []slog.Attr {
	if value == "" {
		return attrs
	}
	return append(attrs, slog.String(key, value))
}

var _ Logger = (*SlogAdapter)(nil)
