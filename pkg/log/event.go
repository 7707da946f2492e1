package log

import "time"

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the owning session (UUID).
	SessionID string `cbor:"2,keyasint,omitempty"`

	// ConnectionID identifies one live connection of a transport (UUID).
	// A new ID is assigned on every successful init.
	ConnectionID string `cbor:"3,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"4,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"5,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"6,keyasint"`

	// Transport is the transport kind name ("stream", "http", "websocket").
	Transport string `cbor:"7,keyasint,omitempty"`

	// URL is the endpoint descriptor of the transport.
	URL string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Packet      *PacketEvent      `cbor:"11,keyasint,omitempty"` // Session layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Transport/session state
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the wire layer (raw, encrypted bytes).
	LayerTransport Layer = 0
	// LayerSession is the session layer (decrypted packets, state machine).
	LayerSession Layer = 1
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates packet traffic.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including any length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// PacketEvent captures a decoded packet at the session layer.
type PacketEvent struct {
	// Type is the packet type tag.
	Type uint32 `cbor:"1,keyasint"`

	// Size is the encoded packet size before encryption.
	Size int `cbor:"2,keyasint"`
}

// StateChangeEvent captures transport and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityTransport indicates a transport connection state change.
	StateEntityTransport StateEntity = 0
	// StateEntitySession indicates a session state change.
	StateEntitySession StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityTransport:
		return "TRANSPORT"
	case StateEntitySession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Kind is the transport error kind name, if any.
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}

// MaxFrameDataSize is the maximum frame data size included in events (4 KB).
// Larger frames are truncated.
const MaxFrameDataSize = 4096

// NewFrameEvent returns a FrameEvent for data, truncating large frames.
// size is the on-wire size including any framing overhead.
func NewFrameEvent(size int, data []byte) *FrameEvent {
	fe := &FrameEvent{Size: size, Data: data}
	if len(data) > MaxFrameDataSize {
		fe.Data = data[:MaxFrameDataSize]
		fe.Truncated = true
	}
	return fe
}
