package log

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestFileLoggerWritesAndReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.rlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	base := time.Now()
	for i := 0; i < 3; i++ {
		logger.Log(Event{
			Timestamp:    base.Add(time.Duration(i) * time.Second),
			SessionID:    "sess-1",
			ConnectionID: "conn-1",
			Direction:    DirectionIn,
			Layer:        LayerTransport,
			Category:     CategoryMessage,
			Frame:        &FrameEvent{Size: 4 + i, Data: []byte{byte(i)}},
		})
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	for i := 0; i < 3; i++ {
		ev, err := r.Next()
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if ev.Frame == nil || ev.Frame.Size != 4+i {
			t.Errorf("event %d frame = %+v", i, ev.Frame)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next after last = %v, want io.EOF", err)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.rlog")

	for i := 0; i < 2; i++ {
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger: %v", err)
		}
		logger.Log(Event{Timestamp: time.Now(), SessionID: "s"})
		logger.Close()
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	count := 0
	for {
		if _, err := r.Next(); err != nil {
			break
		}
		count++
	}
	if count != 2 {
		t.Errorf("read %d events, want 2", count)
	}
}

func TestFileLoggerCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.rlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// Log after close is ignored.
	logger.Log(Event{Timestamp: time.Now()})

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(len(captureMagic)) {
		t.Errorf("file size = %d after logging on closed logger, want header only", info.Size())
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.rlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				logger.Log(Event{Timestamp: time.Now(), SessionID: "s"})
			}
		}()
	}
	wg.Wait()
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	count := 0
	for {
		if _, err := r.Next(); err != nil {
			if err != io.EOF {
				t.Fatalf("Next: %v", err)
			}
			break
		}
		count++
	}
	if count != 100 {
		t.Errorf("read %d events, want 100", count)
	}
}

func TestNewFileLoggerBadPath(t *testing.T) {
	_, err := NewFileLogger(filepath.Join(t.TempDir(), "missing", "dir", "x.rlog"))
	if err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestFileLoggerRefusesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewFileLogger(path); !errors.Is(err, ErrNotCapture) {
		t.Errorf("NewFileLogger error = %v, want ErrNotCapture", err)
	}
	if _, err := NewReader(path); !errors.Is(err, ErrNotCapture) {
		t.Errorf("NewReader error = %v, want ErrNotCapture", err)
	}
}

func TestFileLoggerTruncatesFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.rlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	data := bytes.Repeat([]byte{0xAB}, MaxFrameDataSize+100)
	frame := &FrameEvent{Size: len(data) + 4, Data: data}
	logger.Log(Event{Timestamp: time.Now(), Frame: frame})
	logger.Close()

	if len(frame.Data) != len(data) || frame.Truncated {
		t.Error("caller's frame was modified")
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	ev, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(ev.Frame.Data) != MaxFrameDataSize || !ev.Frame.Truncated || ev.Frame.Size != len(data)+4 {
		t.Errorf("frame = size %d, %d bytes, truncated %v", ev.Frame.Size, len(ev.Frame.Data), ev.Frame.Truncated)
	}
}

func TestFileLoggerRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.rlog")

	ts := time.Date(2026, 5, 1, 12, 0, 0, 123456789, time.UTC)
	sample, err := EncodeEvent(Event{Timestamp: ts, SessionID: "s-0"})
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	// Room for two events per file.
	maxSize := int64(len(captureMagic)) + 2*int64(len(sample)) + 8

	logger, err := OpenFileLogger(FileLoggerConfig{Path: path, MaxSize: maxSize, Backups: 2})
	if err != nil {
		t.Fatalf("OpenFileLogger: %v", err)
	}
	for i := 0; i < 8; i++ {
		logger.Log(Event{Timestamp: ts, SessionID: fmt.Sprintf("s-%d", i)})
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if logger.Dropped() != 0 {
		t.Errorf("Dropped() = %d", logger.Dropped())
	}

	sessions := func(p string) []string {
		r, err := NewReader(p)
		if err != nil {
			t.Fatalf("NewReader(%s): %v", p, err)
		}
		defer r.Close()
		var ids []string
		if err := r.Each(func(ev Event) error {
			ids = append(ids, ev.SessionID)
			return nil
		}); err != nil {
			t.Fatalf("Each: %v", err)
		}
		return ids
	}

	if got := sessions(path); len(got) != 2 || got[1] != "s-7" {
		t.Errorf("active file = %v", got)
	}
	if got := sessions(path + ".1"); len(got) != 2 || got[1] != "s-5" {
		t.Errorf("first backup = %v", got)
	}
	if got := sessions(path + ".2"); len(got) != 2 || got[1] != "s-3" {
		t.Errorf("second backup = %v", got)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Errorf("third backup kept: %v", err)
	}
}
