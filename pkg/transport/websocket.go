package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rlink-protocol/rlink-go/pkg/log"
	"github.com/rlink-protocol/rlink-go/pkg/packet"
)

// Subprotocol is the WebSocket subprotocol offered during the upgrade.
const Subprotocol = "rlink"

// WebSocketTransport carries one packet per binary WebSocket message.
type WebSocketTransport struct {
	base

	guard pinGuard
	proxy *url.URL

	mu        sync.Mutex
	ws        *websocket.Conn
	preConn   net.Conn
	connID    string
	peer      string
	destroyed bool

	readMu  sync.Mutex
	writeMu sync.Mutex
}

func newWebSocket(d Descriptor, opts Options, proxy *url.URL) *WebSocketTransport {
	return &WebSocketTransport{base: newBase(d, opts), proxy: proxy}
}

// Socket returns the connection under the WebSocket, if any.
func (t *WebSocketTransport) Socket() (net.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ws == nil {
		return nil, false
	}
	return t.ws.NetConn(), true
}

// Connect returns nil; the upgrade in Init dials on demand.
func (t *WebSocketTransport) Connect(ctx context.Context) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return nil, NewError(ConnectFailure, "connect", t.desc.Raw, ErrDestroyed)
	}
	return nil, nil
}

// Init performs the WebSocket upgrade. A non-nil conn carries the
// upgrade instead of a fresh dial.
func (t *WebSocketTransport) Init(ctx context.Context, s Session, conn net.Conn) error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return NewError(ConnectFailure, "init", t.desc.Raw, ErrDestroyed)
	}
	t.teardownLocked(false)
	t.preConn = conn
	t.mu.Unlock()

	t.guard.failed.Store(false)
	dialer := &websocket.Dialer{
		NetDialContext:   t.dialContext,
		HandshakeTimeout: DefaultHandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}
	if t.desc.TLS {
		dialer.TLSClientConfig = clientTLSConfig(t.opts.TLSConfig, t.desc.Host, t.opts.Pin, &t.guard)
	}
	if t.proxy != nil {
		dialer.Proxy = http.ProxyURL(t.proxy)
	}

	header := t.opts.Headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("User-Agent", t.opts.UserAgent)

	ws, resp, err := dialer.DialContext(ctx, t.desc.URL(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.mu.Lock()
		if t.preConn != nil {
			t.preConn.Close()
			t.preConn = nil
		}
		t.mu.Unlock()
		terr := t.classifyUpgrade(ctx, resp, err)
		t.errorEvent(s, "", "init", terr)
		return terr
	}
	ws.SetReadLimit(int64(t.opts.MaxPacketSize))

	t.mu.Lock()
	t.ws = ws
	t.connID = uuid.NewString()
	t.peer = ws.RemoteAddr().String()
	connID := t.connID
	t.mu.Unlock()

	now := t.now()
	t.sched.Start(now)
	t.sched.Restart(now)

	t.stateEvent(s, connID, "", "CONNECTED", ws.Subprotocol())
	t.logger.Debug("websocket initialized", "peer", t.peer, "conn_id", connID)
	return nil
}

func (t *WebSocketTransport) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	t.mu.Lock()
	conn := t.preConn
	t.preConn = nil
	t.mu.Unlock()
	if conn != nil {
		return conn, nil
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if t.opts.Resolver != nil && t.opts.Proxy == nil && host == t.desc.Host {
		if host, err = t.opts.Resolver.Resolve(ctx, host, port); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()
	return t.opts.Dialer.DialContext(ctx, network, net.JoinHostPort(host, port))
}

func (t *WebSocketTransport) classifyUpgrade(ctx context.Context, resp *http.Response, err error) error {
	if t.guard.failed.Load() || errors.Is(err, ErrPinMismatch) {
		if !errors.Is(err, ErrPinMismatch) {
			err = fmt.Errorf("%w: %w", ErrPinMismatch, err)
		}
		return NewError(HandshakeFailure, "init", t.desc.Raw, err)
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if isTLSError(err) {
		return NewError(HandshakeFailure, "init", t.desc.Raw, err)
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		if resp != nil {
			err = fmt.Errorf("%w: %s", err, resp.Status)
		}
		return NewError(HandshakeFailure, "init", t.desc.Raw, err)
	}
	return NewError(ConnectFailure, "init", t.desc.Raw, err)
}

// Deinit sends a close frame and closes the connection.
func (t *WebSocketTransport) Deinit(s Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ws == nil {
		return nil
	}
	connID := t.connID
	err := t.teardownLocked(true)
	t.stateEvent(s, connID, "CONNECTED", "DISCONNECTED", "deinit")
	if err != nil {
		return NewError(IoFailure, "deinit", t.desc.Raw, err)
	}
	return nil
}

// Reset closes the connection without a close handshake.
func (t *WebSocketTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardownLocked(false)
}

// Destroy releases the transport.
func (t *WebSocketTransport) Destroy(s Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return
	}
	t.teardownLocked(false)
	t.destroyed = true
	t.stateEvent(s, "", "", "DESTROYED", "")
}

func (t *WebSocketTransport) teardownLocked(graceful bool) error {
	if t.preConn != nil {
		t.preConn.Close()
		t.preConn = nil
	}
	if t.ws == nil {
		return nil
	}
	if graceful {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	err := t.ws.Close()
	t.ws = nil
	t.connID = ""
	t.peer = ""
	return err
}

// Dispatch runs the receive loop.
func (t *WebSocketTransport) Dispatch(ctx context.Context, s Session) (DispatchResult, error) {
	return dispatch(ctx, t, s, nil)
}

// Transmit sends one packet as a binary message.
func (t *WebSocketTransport) Transmit(ctx context.Context, s Session, p packet.Packet, c packet.Completion) error {
	c = packet.Once(c)

	data, err := t.seal(s, p)
	if err != nil {
		return resolveTransmit(c, err)
	}

	t.mu.Lock()
	ws, connID := t.ws, t.connID
	t.mu.Unlock()
	if ws == nil {
		return resolveTransmit(c, NewError(IoFailure, "transmit", t.desc.Raw, ErrNotInitialized))
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(t.opts.WriteTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(deadline) {
		deadline = cd
	}
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		terr := ioError("transmit", t.desc.Raw, err)
		t.errorEvent(s, connID, "transmit", terr)
		return resolveTransmit(c, terr)
	}
	t.frameEvent(s, connID, log.DirectionOut, data)
	return resolveTransmit(c, nil)
}

// Receive reads the next binary message. Text messages are skipped.
func (t *WebSocketTransport) Receive(ctx context.Context, s Session) (packet.Packet, error) {
	if err := t.sched.Check(t.now(), "receive", t.desc.Raw); err != nil {
		return nil, err
	}

	t.mu.Lock()
	ws, connID := t.ws, t.connID
	t.mu.Unlock()
	if ws == nil {
		return nil, NewError(IoFailure, "receive", t.desc.Raw, ErrNotInitialized)
	}

	t.readMu.Lock()
	defer t.readMu.Unlock()

	_ = ws.SetReadDeadline(t.readDeadline(ctx))
	stop := context.AfterFunc(ctx, func() {
		_ = ws.NetConn().SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = fmt.Errorf("%w: %w", ErrPeerClosed, err)
			}
			rerr := t.classifyRead(ctx, "receive", err)
			if _, ok := KindOf(rerr); ok {
				t.errorEvent(s, connID, "receive", rerr)
			}
			return nil, rerr
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		t.frameEvent(s, connID, log.DirectionIn, data)
		return t.open(s, "receive", data)
	}
}

func (t *WebSocketTransport) frameEvent(s Session, connID string, dir log.Direction, data []byte) {
	t.plog.Log(log.Event{
		Timestamp:    time.Now(),
		SessionID:    sessionID(s),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Transport:    t.desc.Kind.String(),
		URL:          t.desc.Raw,
		Frame:        log.NewFrameEvent(len(data), data),
	})
}

// Info returns a snapshot of the transport.
func (t *WebSocketTransport) Info() Info {
	i := t.info()
	t.mu.Lock()
	defer t.mu.Unlock()
	i.Connected = t.ws != nil
	i.ConnectionID = t.connID
	i.RemoteAddr = t.peer
	return i
}

var _ Transport = (*WebSocketTransport)(nil)
