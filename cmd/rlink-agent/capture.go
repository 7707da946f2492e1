package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/rlink-protocol/rlink-go/pkg/config"
	rlog "github.com/rlink-protocol/rlink-go/pkg/log"
)

// buildProtocolLogger returns the capture sink for the configuration: the
// capture file when one is set, mirrored to logger at debug level. The
// returned closer flushes and closes the file.
func buildProtocolLogger(cfg *config.Config, logger *slog.Logger, level slog.Level) (rlog.Logger, io.Closer, error) {
	var sinks []rlog.Logger
	if cfg.Session.ProtocolLog != "" {
		fl, err := rlog.OpenFileLogger(rlog.FileLoggerConfig{
			Path:    cfg.Session.ProtocolLog,
			MaxSize: cfg.Session.ProtocolLogMaxSize,
			Backups: cfg.Session.ProtocolLogBackups,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("protocol log: %w", err)
		}
		sinks = append(sinks, fl)
	}
	if level <= slog.LevelDebug {
		sinks = append(sinks, rlog.NewSlogAdapter(logger))
	}

	m := rlog.NewMultiLogger(sinks...)
	if m.Len() == 0 {
		return rlog.NoopLogger{}, noClose{}, nil
	}
	return m, m, nil
}

type noClose struct{}

func (noClose) Close() error { return nil }

// dumpCapture prints the events of a capture file that match filter, one
// JSON record per event.
func dumpCapture(w io.Writer, path string, filter rlog.Filter) (int, error) {
	r, err := rlog.NewFilteredReader(path, filter)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	out := rlog.NewSlogAdapter(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})))

	n := 0
	err = r.Each(func(ev rlog.Event) error {
		out.Log(ev)
		n++
		return nil
	})
	return n, err
}
