package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/rlink-protocol/rlink-go/pkg/log"
	"github.com/rlink-protocol/rlink-go/pkg/packet"
)

// base carries the configuration and helpers shared by every variant.
type base struct {
	desc   Descriptor
	opts   Options
	sched  *Schedule
	logger *slog.Logger
	plog   log.Logger
}

func newBase(d Descriptor, opts Options) base {
	return base{
		desc:   d,
		opts:   opts,
		sched:  NewSchedule(opts.Timeouts),
		logger: opts.Logger.With("transport", d.Kind.String(), "url", d.Raw),
		plog:   opts.ProtocolLogger,
	}
}

// Kind returns the variant tag.
func (b *base) Kind() Kind { return b.desc.Kind }

// URL returns the endpoint descriptor.
func (b *base) URL() string { return b.desc.Raw }

// Schedule returns the timing state.
func (b *base) Schedule() *Schedule { return b.sched }

func (b *base) now() time.Time { return time.Now() }

// dial opens a TCP connection to the descriptor address, resolving the
// host first when a resolver is configured.
func (b *base) dial(ctx context.Context) (net.Conn, error) {
	host := b.desc.Host
	if b.opts.Resolver != nil {
		resolved, err := b.opts.Resolver.Resolve(ctx, host, b.desc.Port)
		if err != nil {
			return nil, NewError(ConnectFailure, "resolve", b.desc.Raw, err)
		}
		host = resolved
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
	defer cancel()

	conn, err := b.opts.Dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, b.desc.Port))
	if err != nil {
		return nil, NewError(ConnectFailure, "connect", b.desc.Raw, err)
	}
	return conn, nil
}

// readDeadline returns the deadline for a blocking receive.
func (b *base) readDeadline(ctx context.Context) time.Time {
	d, _ := b.sched.Deadline()
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

// classifyRead maps a receive error to the status the state machine
// expects. Expiration wins over a comms timeout.
func (b *base) classifyRead(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if b.sched.Expired(b.now()) {
		return ErrExpired
	}
	return ioError(op, b.desc.Raw, err)
}

// seal encodes and encrypts p. The caller holds the session lock shared.
func (b *base) seal(s Session, p packet.Packet) ([]byte, error) {
	if p == nil {
		return nil, packet.ErrNilPacket
	}
	data, err := s.Codec().Encode(p)
	if err != nil {
		return nil, fmt.Errorf("encode packet: %w", err)
	}
	b.packetEvent(s, log.DirectionOut, p, len(data))
	out, err := s.Encrypt(data)
	if err != nil {
		return nil, fmt.Errorf("encrypt packet: %w", err)
	}
	return out, nil
}

// open decrypts and decodes a received frame and marks the schedule.
func (b *base) open(s Session, op string, frame []byte) (packet.Packet, error) {
	plain, err := s.Decrypt(frame)
	if err != nil {
		return nil, NewError(IoFailure, op, b.desc.Raw, fmt.Errorf("decrypt: %w", err))
	}
	p, err := s.Codec().Decode(plain)
	if err != nil {
		return nil, NewError(IoFailure, op, b.desc.Raw, fmt.Errorf("decode: %w", err))
	}
	b.sched.MarkPacket(b.now())
	b.packetEvent(s, log.DirectionIn, p, len(plain))
	return p, nil
}

func (b *base) packetEvent(s Session, dir log.Direction, p packet.Packet, size int) {
	b.plog.Log(log.Event{
		Timestamp: time.Now(),
		SessionID: sessionID(s),
		Direction: dir,
		Layer:     log.LayerSession,
		Category:  log.CategoryMessage,
		Transport: b.desc.Kind.String(),
		URL:       b.desc.Raw,
		Packet:    &log.PacketEvent{Type: p.Type(), Size: size},
	})
}

func (b *base) stateEvent(s Session, connID, from, to, reason string) {
	b.plog.Log(log.Event{
		Timestamp:    time.Now(),
		SessionID:    sessionID(s),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		Transport:    b.desc.Kind.String(),
		URL:          b.desc.Raw,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityTransport,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

func (b *base) errorEvent(s Session, connID, op string, err error) {
	data := &log.ErrorEventData{
		Layer:   log.LayerTransport,
		Message: err.Error(),
		Context: op,
	}
	if k, ok := KindOf(err); ok {
		data.Kind = k.String()
	}
	b.plog.Log(log.Event{
		Timestamp:    time.Now(),
		SessionID:    sessionID(s),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		Transport:    b.desc.Kind.String(),
		URL:          b.desc.Raw,
		Error:        data,
	})
}

// info fills the fields common to every variant.
func (b *base) info() Info {
	i := Info{
		Kind:          b.desc.Kind,
		URL:           b.desc.Raw,
		LastPacket:    b.sched.LastPacket(),
		ExpirationEnd: b.sched.ExpirationEnd(),
		Timeouts:      b.sched.Timeouts(),
		Pinned:        !b.opts.Pin.IsZero(),
	}
	if b.opts.Proxy != nil {
		i.Proxy = b.opts.Proxy.URL
	}
	return i
}

func sessionID(s Session) string {
	if s == nil {
		return ""
	}
	return s.ID()
}

// sleepCtx waits for d or until ctx ends.
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

// resolveTransmit resolves c with err and returns err.
func resolveTransmit(c packet.Completion, err error) error {
	packet.Resolve(c, err)
	return err
}

var errNilConn = errors.New("nil connection")
