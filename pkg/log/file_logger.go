package log

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// FileLoggerConfig configures a capture file.
type FileLoggerConfig struct {
	// Path of the active capture file.
	Path string

	// MaxSize rotates the file once it would grow past this many bytes.
	// Zero never rotates.
	MaxSize int64

	// Backups is how many rotated files (Path.1, Path.2, ...) are kept.
	// Zero with a MaxSize truncates on rotation.
	Backups int
}

// FileLogger appends protocol events to a capture file.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	cfg FileLoggerConfig

	mu      sync.Mutex
	file    *os.File
	size    int64
	dropped uint64
	closed  bool
}

// NewFileLogger opens path for appending without rotation.
func NewFileLogger(path string) (*FileLogger, error) {
	return OpenFileLogger(FileLoggerConfig{Path: path})
}

// OpenFileLogger opens or creates the capture file. An existing non-empty
// file must already be a capture.
func OpenFileLogger(cfg FileLoggerConfig) (*FileLogger, error) {
	l := &FileLogger{cfg: cfg}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.cfg.Path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	size := info.Size()
	if size == 0 {
		if err := writeCaptureHeader(f); err != nil {
			f.Close()
			return err
		}
		size = int64(len(captureMagic))
	} else if err := readCaptureHeader(io.NewSectionReader(f, 0, size)); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", l.cfg.Path, err)
	}
	l.file, l.size = f, size
	return nil
}

// Log appends one event. Write failures are counted, never returned.
func (l *FileLogger) Log(event Event) {
	data, err := EncodeEvent(event)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if err != nil {
		l.dropped++
		return
	}
	if l.cfg.MaxSize > 0 && l.size+int64(len(data)) > l.cfg.MaxSize && l.size > int64(len(captureMagic)) {
		if err := l.rotateLocked(); err != nil {
			l.dropped++
			return
		}
	}
	n, err := l.file.Write(data)
	l.size += int64(n)
	if err != nil {
		l.dropped++
	}
}

// rotateLocked shifts Path.N-1 to Path.N, moves the active file to
// Path.1 and starts a new capture.
func (l *FileLogger) rotateLocked() error {
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return err
		}
		l.file = nil
	}
	path := l.cfg.Path
	if l.cfg.Backups <= 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else {
		for i := l.cfg.Backups - 1; i >= 1; i-- {
			from := fmt.Sprintf("%s.%d", path, i)
			if _, err := os.Stat(from); err == nil {
				if err := os.Rename(from, fmt.Sprintf("%s.%d", path, i+1)); err != nil {
					return err
				}
			}
		}
		if err := os.Rename(path, path+".1"); err != nil {
			return err
		}
	}
	return l.open()
}

// Dropped returns how many events could not be written.
func (l *FileLogger) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close closes the capture file. Later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
