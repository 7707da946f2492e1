package packet

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for envelopes.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for envelopes.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create envelope CBOR encoder mode: %v", err))
	}

	// Lenient decoding so newer controllers can add fields.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create envelope CBOR decoder mode: %v", err))
	}
}

// Envelope is a typed packet as exchanged with the controller.
// CBOR encoding uses integer keys for compactness.
type Envelope struct {
	// Kind is the packet type tag.
	Kind uint32 `cbor:"1,keyasint"`

	// RequestID correlates requests with responses (empty for notifications).
	RequestID string `cbor:"2,keyasint,omitempty"`

	// Method names the command the payload belongs to.
	Method string `cbor:"3,keyasint,omitempty"`

	// Body is the opaque command payload.
	Body []byte `cbor:"4,keyasint,omitempty"`
}

// Type returns the packet type tag.
func (e *Envelope) Type() uint32 { return e.Kind }

// Payload returns the envelope body.
func (e *Envelope) Payload() []byte { return e.Body }

// CBORCodec encodes packets as CBOR envelopes.
// Packets that are not envelopes are wrapped using their type and payload.
type CBORCodec struct{}

// Encode encodes p as a CBOR envelope.
func (CBORCodec) Encode(p Packet) ([]byte, error) {
	if p == nil {
		return nil, ErrNilPacket
	}
	env, ok := p.(*Envelope)
	if !ok {
		env = &Envelope{Kind: p.Type(), Body: p.Payload()}
	}
	data, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode decodes a CBOR envelope.
func (CBORCodec) Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}
	var env Envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

var (
	_ Packet = (*Envelope)(nil)
	_ Codec  = CBORCodec{}
)
