package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rlink-protocol/rlink-go/pkg/packet"
	"github.com/rlink-protocol/rlink-go/pkg/transport"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a scriptable in-memory transport.
type fakeTransport struct {
	url   string
	sched *transport.Schedule

	inbound chan []byte
	fail    chan error

	mu          sync.Mutex
	initErr     func(n int) error
	transmitErr error
	onTransmit  func()
	connected   bool
	destroyed   bool
	connects    int
	inits       int
	resets      int
	deinits     int
	lastConn    net.Conn
	sent        [][]byte
}

func newFakeTransport(name string, timeouts transport.Timeouts) *fakeTransport {
	return &fakeTransport{
		url:     "tcp://" + name + ":4444",
		sched:   transport.NewSchedule(timeouts),
		inbound: make(chan []byte, 16),
		fail:    make(chan error, 1),
	}
}

func (f *fakeTransport) setInitErr(fn func(n int) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initErr = fn
}

func (f *fakeTransport) counts() (connects, inits, resets, deinits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.inits, f.resets, f.deinits
}

func (f *fakeTransport) isDestroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) Kind() transport.Kind          { return transport.KindStream }
func (f *fakeTransport) URL() string                   { return f.url }
func (f *fakeTransport) Schedule() *transport.Schedule { return f.sched }
func (f *fakeTransport) Socket() (net.Conn, bool)      { return nil, false }

func (f *fakeTransport) Connect(context.Context) (net.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil, nil
}

func (f *fakeTransport) Init(_ context.Context, _ transport.Session, conn net.Conn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	f.lastConn = conn
	if f.initErr != nil {
		if err := f.initErr(f.inits); err != nil {
			return err
		}
	}
	f.connected = true
	f.sched.Restart(time.Now())
	return nil
}

func (f *fakeTransport) Deinit(transport.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.deinits++
	}
	f.connected = false
	return nil
}

func (f *fakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.connected = false
}

func (f *fakeTransport) Destroy(transport.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.destroyed = true
}

func (f *fakeTransport) Dispatch(ctx context.Context, s transport.Session) (transport.DispatchResult, error) {
	for {
		select {
		case <-ctx.Done():
			return transport.DispatchContinue, context.Cause(ctx)
		case err := <-f.fail:
			return transport.DispatchStop, err
		case frame := <-f.inbound:
			plain, err := s.Decrypt(frame)
			if err != nil {
				return transport.DispatchStop, transport.NewError(transport.IoFailure, "receive", f.url, err)
			}
			p, err := s.Codec().Decode(plain)
			if err != nil {
				return transport.DispatchStop, transport.NewError(transport.IoFailure, "receive", f.url, err)
			}
			f.sched.MarkPacket(time.Now())
			if err := s.Deliver(ctx, p); err != nil {
				return transport.DispatchStop, err
			}
		}
	}
}

func (f *fakeTransport) Transmit(_ context.Context, s transport.Session, p packet.Packet, c packet.Completion) error {
	data, err := s.Codec().Encode(p)
	if err != nil {
		packet.Resolve(c, err)
		return err
	}
	sealed, err := s.Encrypt(data)
	if err != nil {
		packet.Resolve(c, err)
		return err
	}

	f.mu.Lock()
	hook := f.onTransmit
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		err := transport.NewError(transport.IoFailure, "transmit", f.url, transport.ErrNotInitialized)
		packet.Resolve(c, err)
		return err
	}
	if f.transmitErr != nil {
		err := f.transmitErr
		f.transmitErr = nil
		packet.Resolve(c, err)
		return err
	}
	f.sent = append(f.sent, sealed)
	packet.Resolve(c, nil)
	return nil
}

func (f *fakeTransport) Receive(context.Context, transport.Session) (packet.Packet, error) {
	return nil, transport.ErrNoPacket
}

func (f *fakeTransport) Info() transport.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return transport.Info{
		Kind:          transport.KindStream,
		URL:           f.url,
		Connected:     f.connected,
		LastPacket:    f.sched.LastPacket(),
		ExpirationEnd: f.sched.ExpirationEnd(),
		Timeouts:      f.sched.Timeouts(),
	}
}

var _ transport.Transport = (*fakeTransport)(nil)

// mockHandler is a testify mock of Handler. Only the packet is recorded.
type mockHandler struct{ mock.Mock }

func (m *mockHandler) HandlePacket(_ context.Context, _ *Session, p packet.Packet) error {
	return m.Called(p).Error(0)
}

func fastTimeouts() transport.Timeouts {
	return transport.Timeouts{
		CommsTimeout: 5 * time.Second,
		RetryTotal:   200 * time.Millisecond,
		RetryWait:    10 * time.Millisecond,
	}
}

// stateRecorder collects transitions.
type stateRecorder struct {
	mu          sync.Mutex
	transitions [][2]State
}

func (r *stateRecorder) record(old, next State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, [2]State{old, next})
}

func (r *stateRecorder) snapshot() [][2]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]State(nil), r.transitions...)
}

func (r *stateRecorder) entered(state State) int {
	n := 0
	for _, tr := range r.snapshot() {
		if tr[1] == state {
			n++
		}
	}
	return n
}

// runSession starts s.Run in the background and returns its result channel.
func runSession(t *testing.T, s *Session) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	t.Cleanup(func() {
		_ = s.Close()
	})
	return done
}

func waitRun(t *testing.T, done <-chan error, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		t.Fatal("Run did not return")
		return nil
	}
}

func requireActiveOn(t *testing.T, s *Session, tr transport.Transport) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == StateActive && s.Transport() == tr
	}, 2*time.Second, 5*time.Millisecond, "session never became active on %s", tr.URL())
}
