package transport

// Kind tags a transport variant.
//
// The set is closed: adding a variant means extending this enum, the
// scheme table and New.
type Kind uint8

const (
	// KindStream is a raw TCP socket with optional TLS.
	KindStream Kind = iota + 1

	// KindHTTP is HTTP or HTTPS request/response with optional proxy.
	KindHTTP

	// KindWebSocket is a WebSocket connection carrying binary messages.
	KindWebSocket
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindHTTP:
		return "http"
	case KindWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

type schemeInfo struct {
	kind        Kind
	tls         bool
	defaultPort string
}

// schemes maps a descriptor scheme to its variant. An empty default port
// means the port is mandatory.
var schemes = map[string]schemeInfo{
	"tcp":   {kind: KindStream},
	"tls":   {kind: KindStream, tls: true},
	"http":  {kind: KindHTTP, defaultPort: "80"},
	"https": {kind: KindHTTP, tls: true, defaultPort: "443"},
	"ws":    {kind: KindWebSocket, defaultPort: "80"},
	"wss":   {kind: KindWebSocket, tls: true, defaultPort: "443"},
}
