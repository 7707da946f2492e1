package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rlink-protocol/rlink-go/pkg/log"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize is the default maximum frame payload (4 MB).
	DefaultMaxMessageSize = 4 << 20
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrMessageEmpty indicates an empty message.
	ErrMessageEmpty = errors.New("message is empty")

	// ErrFrameTruncated indicates the frame was truncated.
	ErrFrameTruncated = errors.New("frame truncated")
)

// frameTap emits protocol capture events for frames.
type frameTap struct {
	logger    log.Logger
	sessionID string
	connID    string
	transport string
}

func (t *frameTap) emit(data []byte, direction log.Direction) {
	if t.logger == nil {
		return
	}
	t.logger.Log(log.Event{
		Timestamp:    time.Now(),
		SessionID:    t.sessionID,
		ConnectionID: t.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Transport:    t.transport,
		Frame:        log.NewFrameEvent(FrameSize(len(data)), data),
	})
}

// FrameWriter writes length-prefixed frames to an underlying writer.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize uint32
	mu             sync.Mutex
	tap            frameTap
}

// NewFrameWriter creates a new frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom max size.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: maxSize,
	}
}

// SetLogger configures protocol capture for this writer.
// Pass nil to disable it.
func (fw *FrameWriter) SetLogger(logger log.Logger, sessionID, connID string) {
	fw.tap = frameTap{logger: logger, sessionID: sessionID, connID: connID, transport: KindStream.String()}
}

// WriteFrame writes a length-prefixed frame in a single write.
// Thread-safe: can be called from multiple goroutines.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if uint32(len(data)) > fw.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxMessageSize)
	}

	frame := make([]byte, LengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[LengthPrefixSize:], data)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	n, err := fw.w.Write(frame)
	if err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("failed to write frame: %w", io.ErrShortWrite)
	}

	fw.tap.emit(data, log.DirectionOut)
	return nil
}

// FrameReader reads length-prefixed frames from an underlying reader.
type FrameReader struct {
	r              io.Reader
	maxMessageSize uint32
	lengthBuf      [LengthPrefixSize]byte
	tap            frameTap
}

// NewFrameReader creates a new frame reader.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize)
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom max size.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	return &FrameReader{
		r:              r,
		maxMessageSize: maxSize,
	}
}

// SetLogger configures protocol capture for this reader.
// Pass nil to disable it.
func (fr *FrameReader) SetLogger(logger log.Logger, sessionID, connID string) {
	fr.tap = frameTap{logger: logger, sessionID: sessionID, connID: connID, transport: KindStream.String()}
}

// ReadFrame reads a length-prefixed frame.
// Returns the frame payload (without the length prefix).
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(fr.lengthBuf[:])

	if length == 0 {
		return nil, ErrMessageEmpty
	}
	if length > fr.maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxMessageSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	fr.tap.emit(payload, log.DirectionIn)
	return payload, nil
}

// SetMaxMessageSize updates the maximum message size.
func (fr *FrameReader) SetMaxMessageSize(size uint32) {
	fr.maxMessageSize = size
}

// Framer combines frame reading and writing.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a new framer for bidirectional communication.
func NewFramer(rw io.ReadWriter) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxMessageSize)
}

// NewFramerWithMaxSize creates a framer with a custom max message size.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger configures protocol capture for both reader and writer.
func (f *Framer) SetLogger(logger log.Logger, sessionID, connID string) {
	f.FrameReader.SetLogger(logger, sessionID, connID)
	f.FrameWriter.SetLogger(logger, sessionID, connID)
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}

// FrameReadWriter provides length-prefixed frame I/O.
type FrameReadWriter interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

var _ FrameReadWriter = (*Framer)(nil)
