package packet

import (
	"errors"
	"sync"
)

// Packet errors.
var (
	// ErrEmptyPacket indicates an attempt to decode zero bytes.
	ErrEmptyPacket = errors.New("packet: empty")

	// ErrNilPacket indicates a nil packet was passed to a codec.
	ErrNilPacket = errors.New("packet: nil")
)

// Packet is one unit of session traffic. The transport layer never looks
// inside a packet; it only moves the bytes produced by a Codec.
type Packet interface {
	// Type returns the packet type tag (zero for untyped packets).
	Type() uint32

	// Payload returns the packet body.
	Payload() []byte
}

// Codec converts packets to and from their wire bytes.
// Implementations must be safe for concurrent use.
type Codec interface {
	Encode(p Packet) ([]byte, error)
	Decode(data []byte) (Packet, error)
}

// Raw is an untyped packet backed by a byte slice.
type Raw []byte

// Type returns zero.
func (Raw) Type() uint32 { return 0 }

// Payload returns the raw bytes.
func (r Raw) Payload() []byte { return []byte(r) }

// RawCodec passes bytes through unchanged.
type RawCodec struct{}

// Encode returns the packet payload.
func (RawCodec) Encode(p Packet) ([]byte, error) {
	if p == nil {
		return nil, ErrNilPacket
	}
	return p.Payload(), nil
}

// Decode wraps data in a Raw packet.
func (RawCodec) Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}
	return Raw(data), nil
}

// Completion is notified once the outcome of a transmitted packet is known.
// A nil error means the packet was handed to the wire successfully.
type Completion interface {
	Complete(err error)
}

// CompletionFunc adapts a function to the Completion interface.
type CompletionFunc func(err error)

// Complete calls f(err).
func (f CompletionFunc) Complete(err error) { f(err) }

// Once wraps c so that only the first Complete call is forwarded.
// Returns nil if c is nil.
func Once(c Completion) Completion {
	if c == nil {
		return nil
	}
	if o, ok := c.(*onceCompletion); ok {
		return o
	}
	return &onceCompletion{c: c}
}

type onceCompletion struct {
	once sync.Once
	c    Completion
}

func (o *onceCompletion) Complete(err error) {
	o.once.Do(func() { o.c.Complete(err) })
}

// Resolve completes c with err if c is non-nil.
func Resolve(c Completion, err error) {
	if c != nil {
		c.Complete(err)
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Packet     = Raw(nil)
	_ Codec      = RawCodec{}
	_ Completion = CompletionFunc(nil)
)
