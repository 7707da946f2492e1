package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rlink-protocol/rlink-go/pkg/crypto"
	"github.com/rlink-protocol/rlink-go/pkg/log"
	"github.com/rlink-protocol/rlink-go/pkg/metrics"
	"github.com/rlink-protocol/rlink-go/pkg/packet"
	"github.com/rlink-protocol/rlink-go/pkg/transport"
)

// Handler receives decoded packets from the dispatch loop.
type Handler interface {
	HandlePacket(ctx context.Context, s *Session, p packet.Packet) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, s *Session, p packet.Packet) error

// HandlePacket calls f.
func (f HandlerFunc) HandlePacket(ctx context.Context, s *Session, p packet.Packet) error {
	return f(ctx, s, p)
}

// Config configures a Session. Zero values take defaults.
type Config struct {
	// Codec encodes and decodes packets. Defaults to packet.RawCodec.
	Codec packet.Codec

	// Handler receives inbound packets. Nil discards them.
	Handler Handler

	Logger         *slog.Logger
	ProtocolLogger log.Logger
	Metrics        *metrics.Recorder

	Identity Identity

	// Sleep waits for d or until ctx ends. Defaults to a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Session is the owner of one controller relationship.
type Session struct {
	id      string
	codec   packet.Codec
	handler Handler
	logger  *slog.Logger
	plog    log.Logger
	metrics *metrics.Recorder
	sleep   func(ctx context.Context, d time.Duration) error

	// mu is the usage lock.
	mu       sync.RWMutex
	cipher   crypto.Context
	active   transport.Transport
	pending  transport.Transport
	chain    []transport.Transport
	conn     net.Conn
	identity Identity
	released bool

	stateMu       sync.Mutex
	state         State
	onStateChange func(old, new State)

	// ctlMu guards the control plane between Run and other goroutines.
	ctlMu      sync.Mutex
	running    bool
	closed     bool
	stopRun    context.CancelFunc
	interrupt  context.CancelCauseFunc
	dispatchOn transport.Transport
	switchReq  bool
	sleepReq   time.Duration
	done       chan struct{}
	doneOnce   sync.Once
}

// New creates a session with active as the active transport. The first
// of chain becomes the pending transport; the rest are promoted in order
// as earlier ones are exhausted.
func New(cfg Config, active transport.Transport, chain ...transport.Transport) (*Session, error) {
	if active == nil {
		return nil, ErrNoTransport
	}
	for i, t := range chain {
		if t == nil {
			return nil, fmt.Errorf("%w: chain entry %d is nil", ErrNoTransport, i)
		}
	}

	s := &Session{
		id:       uuid.NewString(),
		codec:    cfg.Codec,
		handler:  cfg.Handler,
		plog:     log.OrNoop(cfg.ProtocolLogger),
		metrics:  cfg.Metrics,
		sleep:    cfg.Sleep,
		active:   active,
		identity: cfg.Identity,
		state:    StateConnecting,
		done:     make(chan struct{}),
	}
	if s.codec == nil {
		s.codec = packet.RawCodec{}
	}
	if s.sleep == nil {
		s.sleep = sleepCtx
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger.With("session_id", s.id)

	if len(chain) > 0 {
		s.pending = chain[0]
		s.chain = append([]transport.Transport(nil), chain[1:]...)
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Codec returns the packet codec.
func (s *Session) Codec() packet.Codec {
	return s.codec
}

// State returns the current state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// OnStateChange sets a callback invoked after every state transition.
// The callback runs on the server goroutine and must not block.
func (s *Session) OnStateChange(fn func(old, new State)) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.onStateChange = fn
}

func (s *Session) setState(next State, reason error) {
	s.stateMu.Lock()
	prev := s.state
	if prev == next {
		s.stateMu.Unlock()
		return
	}
	s.state = next
	fn := s.onStateChange
	s.stateMu.Unlock()

	attrs := []any{"from", prev.String(), "to", next.String()}
	why := ""
	if reason != nil {
		why = reason.Error()
		attrs = append(attrs, "err", reason)
	}
	s.logger.Info("session state", attrs...)
	s.metrics.SetState(prev.String(), next.String())
	s.plog.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: s.id,
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: prev.String(),
			NewState: next.String(),
			Reason:   why,
		},
	})

	if fn != nil {
		fn(prev, next)
	}
}

// SetCipher negotiates the cryptographic context. Traffic is sent in the
// clear until a cipher is set.
func (s *Session) SetCipher(name string, initializer []byte) error {
	c, err := crypto.Negotiate(name, initializer)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrClosed
	}
	s.cipher = c
	s.logger.Info("cipher negotiated", "cipher", c.Name())
	return nil
}

// Cipher returns the negotiated context, or nil.
func (s *Session) Cipher() crypto.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cipher
}

// Rekey rotates the cryptographic context. It never overlaps a transmit.
func (s *Session) Rekey(material []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cipher == nil {
		return ErrNoCipher
	}
	if err := s.cipher.Rekey(material); err != nil {
		return fmt.Errorf("session: rekey: %w", err)
	}
	s.metrics.Rekey()
	s.logger.Debug("rekeyed", "cipher", s.cipher.Name())
	return nil
}

// Encrypt seals an encoded packet. The caller holds the usage lock shared.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	if s.cipher == nil {
		return plaintext, nil
	}
	return s.cipher.Seal(plaintext)
}

// Decrypt opens a received frame under the usage lock.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cipher == nil {
		return ciphertext, nil
	}
	return s.cipher.Open(ciphertext)
}

// Deliver hands p to the handler. Handler errors are logged and do not
// affect the transport.
func (s *Session) Deliver(ctx context.Context, p packet.Packet) error {
	s.metrics.PacketReceived(s.dispatchKind())
	if s.handler == nil {
		s.logger.Debug("packet discarded", "type", p.Type())
		return nil
	}
	if err := s.handler.HandlePacket(ctx, s, p); err != nil {
		s.logger.Warn("packet handler failed", "type", p.Type(), "err", err)
	}
	return nil
}

func (s *Session) dispatchKind() string {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	if s.dispatchOn == nil {
		return ""
	}
	return s.dispatchOn.Kind().String()
}

// Transmit sends p on the active transport. The completion, if any, is
// always resolved, and never while the usage lock is held, so it may call
// back into the session. A classified transport failure ends the current
// dispatch and sends the session to RETRYING.
func (s *Session) Transmit(ctx context.Context, p packet.Packet, c packet.Completion) error {
	held := holdCompletion(packet.Once(c))
	defer held.flush()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.released {
		packet.Resolve(held, ErrClosed)
		return ErrClosed
	}
	if s.State() != StateActive {
		packet.Resolve(held, ErrNotActive)
		return ErrNotActive
	}

	t := s.active
	err := t.Transmit(ctx, s, p, held)
	if err != nil {
		if k, ok := transport.KindOf(err); ok {
			s.metrics.TransportError(t.Kind().String(), k.String())
			s.interruptDispatch(t, err)
		}
		return err
	}
	s.metrics.PacketSent(t.Kind().String())
	return nil
}

// heldCompletion records a resolution until flush. Resolutions arriving
// after flush are forwarded directly.
type heldCompletion struct {
	mu      sync.Mutex
	c       packet.Completion
	holding bool
	done    bool
	err     error
}

func holdCompletion(c packet.Completion) *heldCompletion {
	return &heldCompletion{c: c, holding: true}
}

func (h *heldCompletion) Complete(err error) {
	h.mu.Lock()
	if h.holding {
		if !h.done {
			h.done, h.err = true, err
		}
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	packet.Resolve(h.c, err)
}

func (h *heldCompletion) flush() {
	h.mu.Lock()
	h.holding = false
	done, err := h.done, h.err
	h.mu.Unlock()
	if done {
		packet.Resolve(h.c, err)
	}
}

// Transport returns the active transport.
func (s *Session) Transport() transport.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Pending returns the pending transport, or nil.
func (s *Session) Pending() transport.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

// SetPending installs t as the pending transport, destroying any previous
// pending transport. It is promoted only after the active transport is
// exhausted or a switch is requested.
func (s *Session) SetPending(t transport.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrClosed
	}
	if t == s.active {
		return fmt.Errorf("session: pending transport is the active transport")
	}
	if s.pending != nil && s.pending != t {
		s.pending.Destroy(s)
	}
	s.pending = t
	return nil
}

// RequestSwitch makes t the pending transport (when non-nil) and asks the
// server loop to promote it once the active transport has been torn down.
func (s *Session) RequestSwitch(t transport.Transport) error {
	if t != nil {
		if err := s.SetPending(t); err != nil {
			return err
		}
	} else if s.Pending() == nil {
		return ErrNoPending
	}

	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	s.switchReq = true
	if s.interrupt != nil {
		s.interrupt(errSwitchRequested)
	}
	return nil
}

// Sleep asks the server loop to tear down the active transport, wait d
// and reconnect it.
func (s *Session) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	s.sleepReq = d
	if s.interrupt != nil {
		s.interrupt(errSleepRequested)
	}
}

// SetConn hands a pre-established connection to the active transport for
// its next init. Ownership passes to the session.
func (s *Session) SetConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn != conn {
		s.conn.Close()
	}
	s.conn = conn
}

// SetTimeouts replaces the active transport's timing parameters. When the
// new expiration has already passed, the session terminates.
func (s *Session) SetTimeouts(t transport.Timeouts) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()

	active.Schedule().Update(t)
	s.checkExpired(active)
}

// SetExpirationEnd sets the active transport's absolute expiration.
func (s *Session) SetExpirationEnd(end time.Time) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()

	active.Schedule().SetExpirationEnd(end)
	s.checkExpired(active)
}

func (s *Session) checkExpired(t transport.Transport) {
	if t.Schedule().Expired(time.Now()) {
		s.interruptDispatch(t, transport.ErrExpired)
	}
}

// interruptDispatch ends the dispatch loop of t with cause.
func (s *Session) interruptDispatch(t transport.Transport, cause error) {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()
	if s.interrupt != nil && s.dispatchOn == t {
		s.interrupt(cause)
	}
}

// Transports lists the active, pending and chained transports.
func (s *Session) Transports() []transport.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]transport.Info, 0, 2+len(s.chain))
	if s.active != nil {
		out = append(out, s.active.Info())
	}
	if s.pending != nil {
		out = append(out, s.pending.Info())
	}
	for _, t := range s.chain {
		out = append(out, t.Info())
	}
	return out
}

// Close stops Run, if it is running, and releases every transport and the
// cryptographic context. It is safe to call more than once.
func (s *Session) Close() error {
	s.ctlMu.Lock()
	if s.closed {
		s.ctlMu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	running := s.running
	if running {
		s.stopRun()
	}
	s.ctlMu.Unlock()

	if !running {
		s.release()
		s.setState(StateTerminated, ErrClosed)
		s.finish()
		return nil
	}
	<-s.done
	return nil
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// release deinitializes and destroys every transport and drops the
// cryptographic context.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true

	if s.active != nil {
		if s.active.Info().Connected {
			if err := s.active.Deinit(s); err != nil {
				s.logger.Debug("deinit on release", "err", err)
			}
		}
		s.active.Destroy(s)
	}
	if s.pending != nil {
		s.pending.Destroy(s)
	}
	for _, t := range s.chain {
		t.Destroy(s)
	}
	s.chain = nil
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.cipher = nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}

var _ transport.Session = (*Session)(nil)
