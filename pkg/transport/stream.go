package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rlink-protocol/rlink-go/pkg/packet"
	"github.com/rlink-protocol/rlink-go/pkg/version"
)

// StreamTransport carries length-prefixed packets over a TCP socket,
// optionally wrapped in TLS.
type StreamTransport struct {
	base

	guard pinGuard

	mu        sync.Mutex
	raw       net.Conn // socket as handed to Init
	conn      net.Conn // raw, or the TLS client over it
	tlsState  *tls.ConnectionState
	framer    *Framer
	peer      string
	connID    string
	bound     bool
	destroyed bool

	readMu  sync.Mutex
	writeMu sync.Mutex
}

func newStream(d Descriptor, opts Options) *StreamTransport {
	return &StreamTransport{
		base:  newBase(d, opts),
		bound: opts.Bound,
	}
}

// SetBound marks the socket as owned by the caller. A bound socket is
// detached, not closed, when the transport tears down.
func (t *StreamTransport) SetBound(bound bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bound = bound
}

// Bound reports whether the socket is caller-owned.
func (t *StreamTransport) Bound() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bound
}

// Socket returns the live connection, if any.
func (t *StreamTransport) Socket() (net.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn, t.conn != nil
}

// TLSState returns the negotiated TLS state, if TLS is in use.
func (t *StreamTransport) TLSState() (tls.ConnectionState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tlsState == nil {
		return tls.ConnectionState{}, false
	}
	return *t.tlsState, true
}

// Connect dials the descriptor address.
func (t *StreamTransport) Connect(ctx context.Context) (net.Conn, error) {
	t.mu.Lock()
	destroyed := t.destroyed
	t.mu.Unlock()
	if destroyed {
		return nil, NewError(ConnectFailure, "connect", t.desc.Raw, ErrDestroyed)
	}
	return t.dial(ctx)
}

// Init takes ownership of conn and performs the TLS handshake when the
// descriptor asks for TLS. On failure conn is closed.
func (t *StreamTransport) Init(ctx context.Context, s Session, conn net.Conn) error {
	if conn == nil {
		return NewError(ConnectFailure, "init", t.desc.Raw, errNilConn)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.destroyed {
		conn.Close()
		return NewError(ConnectFailure, "init", t.desc.Raw, ErrDestroyed)
	}
	if t.conn != nil {
		t.teardownLocked(false)
	}

	live := conn
	var state *tls.ConnectionState
	if t.desc.TLS {
		t.guard.failed.Store(false)
		cfg := clientTLSConfig(t.opts.TLSConfig, t.desc.Host, t.opts.Pin, &t.guard)
		if len(cfg.NextProtos) == 0 {
			cfg.NextProtos = version.SupportedALPNProtocols()
		}
		tlsConn := tls.Client(conn, cfg)

		hctx, cancel := context.WithTimeout(ctx, DefaultHandshakeTimeout)
		err := tlsConn.HandshakeContext(hctx)
		cancel()
		if err != nil {
			conn.Close()
			if t.guard.failed.Load() && !errors.Is(err, ErrPinMismatch) {
				err = fmt.Errorf("%w: %w", ErrPinMismatch, err)
			}
			terr := NewError(HandshakeFailure, "init", t.desc.Raw, err)
			t.errorEvent(s, "", "init", terr)
			return terr
		}
		cs := tlsConn.ConnectionState()
		state = &cs
		live = tlsConn
	}

	t.raw = conn
	t.conn = live
	t.tlsState = state
	t.peer = conn.RemoteAddr().String()
	t.connID = uuid.NewString()
	t.framer = NewFramerWithMaxSize(live, t.opts.MaxPacketSize)
	t.framer.SetLogger(t.plog, sessionID(s), t.connID)

	now := t.now()
	t.sched.Start(now)
	t.sched.Restart(now)

	t.stateEvent(s, t.connID, "", "CONNECTED", t.peer)
	t.logger.Debug("stream initialized", "peer", t.peer, "tls", state != nil, "conn_id", t.connID)
	return nil
}

// Deinit closes the live connection, sending a TLS close_notify first.
func (t *StreamTransport) Deinit(s Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
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

// Reset drops the connection and TLS state, keeping host and port.
func (t *StreamTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardownLocked(false)
}

// Destroy releases the transport.
func (t *StreamTransport) Destroy(s Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return
	}
	t.teardownLocked(false)
	t.destroyed = true
	t.stateEvent(s, "", "", "DESTROYED", "")
}

// teardownLocked releases the connection. A bound socket is detached
// instead of closed; for TLS over a bound socket only close_notify is sent.
func (t *StreamTransport) teardownLocked(graceful bool) error {
	var err error
	if t.conn != nil {
		tlsConn, isTLS := t.conn.(*tls.Conn)
		switch {
		case t.bound && isTLS:
			_ = tlsConn.SetWriteDeadline(time.Now().Add(time.Second))
			err = tlsConn.CloseWrite()
		case t.bound:
		case isTLS && graceful:
			_ = tlsConn.SetWriteDeadline(time.Now().Add(time.Second))
			err = tlsConn.Close()
		default:
			err = t.raw.Close()
		}
	}
	t.raw = nil
	t.conn = nil
	t.tlsState = nil
	t.framer = nil
	t.peer = ""
	t.connID = ""
	return err
}

// Dispatch runs the receive loop.
func (t *StreamTransport) Dispatch(ctx context.Context, s Session) (DispatchResult, error) {
	return dispatch(ctx, t, s, nil)
}

// Transmit writes one packet as a single frame within the write timeout.
func (t *StreamTransport) Transmit(ctx context.Context, s Session, p packet.Packet, c packet.Completion) error {
	c = packet.Once(c)

	data, err := t.seal(s, p)
	if err != nil {
		return resolveTransmit(c, err)
	}

	t.mu.Lock()
	conn, framer, connID := t.conn, t.framer, t.connID
	t.mu.Unlock()
	if conn == nil {
		return resolveTransmit(c, NewError(IoFailure, "transmit", t.desc.Raw, ErrNotInitialized))
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(t.opts.WriteTimeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(deadline) {
		deadline = cd
	}
	_ = conn.SetWriteDeadline(deadline)
	defer conn.SetWriteDeadline(time.Time{})

	if err := framer.WriteFrame(data); err != nil {
		if errors.Is(err, ErrMessageTooLarge) {
			return resolveTransmit(c, err)
		}
		terr := ioError("transmit", t.desc.Raw, err)
		t.errorEvent(s, connID, "transmit", terr)
		return resolveTransmit(c, terr)
	}
	return resolveTransmit(c, nil)
}

// Receive reads one frame. The read deadline is the sooner of the idle
// deadline and the expiration deadline.
func (t *StreamTransport) Receive(ctx context.Context, s Session) (packet.Packet, error) {
	if err := t.sched.Check(t.now(), "receive", t.desc.Raw); err != nil {
		return nil, err
	}

	t.mu.Lock()
	conn, framer, connID := t.conn, t.framer, t.connID
	t.mu.Unlock()
	if conn == nil {
		return nil, NewError(IoFailure, "receive", t.desc.Raw, ErrNotInitialized)
	}

	t.readMu.Lock()
	defer t.readMu.Unlock()

	_ = conn.SetReadDeadline(t.readDeadline(ctx))
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	frame, err := framer.ReadFrame()
	if err != nil {
		rerr := t.classifyRead(ctx, "receive", err)
		if _, ok := KindOf(rerr); ok {
			t.errorEvent(s, connID, "receive", rerr)
		}
		return nil, rerr
	}
	return t.open(s, "receive", frame)
}

// Info returns a snapshot of the transport.
func (t *StreamTransport) Info() Info {
	i := t.info()
	t.mu.Lock()
	defer t.mu.Unlock()
	i.Connected = t.conn != nil
	i.ConnectionID = t.connID
	i.RemoteAddr = t.peer
	return i
}

var _ Transport = (*StreamTransport)(nil)
