// Package log provides structured protocol capture for rlink sessions.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at two layers (transport, session). It is separate
// from operational logging (slog): protocol capture provides a complete
// machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Components accept a Logger; nil disables capture:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.OpenFileLogger(log.FileLoggerConfig{
//	    Path:    "/var/log/rlink/agent.rlog",
//	    MaxSize: 64 << 20,
//	    Backups: 3,
//	})
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
//   - Transport: raw frame bytes as they cross the wire (FrameEvent)
//   - Session: decoded packets (PacketEvent) and state changes (StateChangeEvent)
//
// Errors at either layer use ErrorEventData.
//
// # File Format
//
// A capture file (.rlog) starts with the 5-byte header "RLOG\x01" followed
// by a stream of CBOR-encoded events. FileLogger can rotate captures by
// size; Reader iterates over one file with optional filtering, and
// rlink-agent -dump prints a capture through SlogAdapter.
package log
