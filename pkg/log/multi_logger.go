package log

import (
	"errors"
	"io"
)

// MultiLogger sends every event to each of its loggers in order.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger skips nil and NoopLogger entries.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		switch l.(type) {
		case nil, NoopLogger:
			continue
		}
		m.loggers = append(m.loggers, l)
	}
	return m
}

// Log forwards event.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Len returns the number of loggers events are sent to.
func (m *MultiLogger) Len() int {
	return len(m.loggers)
}

// Close closes every logger that is an io.Closer.
func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if c, ok := l.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

var _ Logger = (*MultiLogger)(nil)
