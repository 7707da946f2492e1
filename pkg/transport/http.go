package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rlink-protocol/rlink-go/pkg/log"
	"github.com/rlink-protocol/rlink-go/pkg/packet"
	"github.com/rlink-protocol/rlink-go/pkg/retry"
)

const contentType = "application/octet-stream"

var errHeadTimeout = errors.New("HEAD request timed out")

// HTTPTransport maps each transmit and each poll to one POST request.
// The controller answers a poll with a packet body, or with an empty body
// or 204 when it has nothing to send.
type HTTPTransport struct {
	base

	guard pinGuard
	poll  *retry.Backoff
	proxy *url.URL

	mu        sync.Mutex
	htr       *http.Transport
	client    *http.Client
	preConn   net.Conn
	inbox     [][]byte
	connID    string
	destroyed bool
}

func newHTTP(d Descriptor, opts Options, proxy *url.URL) *HTTPTransport {
	return &HTTPTransport{
		base:  newBase(d, opts),
		proxy: proxy,
		poll: retry.NewBackoffWithConfig(retry.BackoffConfig{
			Initial: opts.PollMin,
			Max:     opts.PollMax,
			Jitter:  retry.JitterFactor,
		}),
	}
}

// Socket returns (nil, false): connections live inside the HTTP client.
func (t *HTTPTransport) Socket() (net.Conn, bool) {
	return nil, false
}

// Connect returns nil; the HTTP client dials on demand.
func (t *HTTPTransport) Connect(ctx context.Context) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return nil, NewError(ConnectFailure, "connect", t.desc.Raw, ErrDestroyed)
	}
	return nil, nil
}

// Init builds the HTTP client and probes the endpoint with HEAD so that a
// dead endpoint or a certificate pin mismatch fails here. A non-nil conn
// is used for the first dial.
func (t *HTTPTransport) Init(ctx context.Context, s Session, conn net.Conn) error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return NewError(ConnectFailure, "init", t.desc.Raw, ErrDestroyed)
	}
	t.teardownLocked()
	t.preConn = conn
	t.mu.Unlock()

	t.guard.failed.Store(false)
	htr := t.newRoundTripper()
	client := &http.Client{
		Transport: htr,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	fail := func(err error) error {
		htr.CloseIdleConnections()
		t.mu.Lock()
		t.closePreConnLocked()
		t.mu.Unlock()
		t.errorEvent(s, "", "init", err)
		return err
	}

	pctx, cancel := context.WithTimeoutCause(ctx, t.opts.ConnectTimeout, errHeadTimeout)
	defer cancel()
	req, err := t.newRequest(pctx, http.MethodHead, nil)
	if err != nil {
		return fail(NewError(ConfigurationError, "init", t.desc.Raw, err))
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(context.Cause(pctx), errHeadTimeout) {
			return fail(NewError(ConnectFailure, "init", t.desc.Raw, errHeadTimeout))
		}
		return fail(t.classifyRequest(ctx, "init", err))
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	t.mu.Lock()
	t.htr = htr
	t.client = client
	t.connID = uuid.NewString()
	connID := t.connID
	t.mu.Unlock()
	t.poll.Reset()

	now := t.now()
	t.sched.Start(now)
	t.sched.Restart(now)

	t.stateEvent(s, connID, "", "CONNECTED", resp.Status)
	t.logger.Debug("http initialized", "status", resp.StatusCode, "conn_id", connID)
	return nil
}

func (t *HTTPTransport) newRoundTripper() *http.Transport {
	htr := &http.Transport{
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   DefaultHandshakeTimeout,
		ResponseHeaderTimeout: 0,
		ForceAttemptHTTP2:     false,
		DialContext:           t.dialContext,
	}
	if t.desc.TLS {
		htr.TLSClientConfig = clientTLSConfig(t.opts.TLSConfig, t.desc.Host, t.opts.Pin, &t.guard)
	}
	if t.proxy != nil {
		htr.Proxy = http.ProxyURL(t.proxy)
	}
	return htr
}

// dialContext hands out the pre-established connection once, then dials.
func (t *HTTPTransport) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
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

func (t *HTTPTransport) newRequest(ctx context.Context, method string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.desc.URL(), r)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", t.opts.UserAgent)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// classifyRequest maps an http.Client error to the error taxonomy.
func (t *HTTPTransport) classifyRequest(ctx context.Context, op string, err error) error {
	if t.guard.failed.Load() || errors.Is(err, ErrPinMismatch) {
		if !errors.Is(err, ErrPinMismatch) {
			err = fmt.Errorf("%w: %w", ErrPinMismatch, err)
		}
		return NewError(HandshakeFailure, op, t.desc.Raw, err)
	}
	if ctx.Err() != nil {
		if t.sched.Expired(t.now()) {
			return ErrExpired
		}
		return context.Cause(ctx)
	}
	if t.sched.Expired(t.now()) {
		return ErrExpired
	}
	if isTimeout(err) {
		return NewError(IoTimeout, op, t.desc.Raw, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return NewError(ConnectFailure, op, t.desc.Raw, err)
	}
	if isTLSError(err) {
		return NewError(HandshakeFailure, op, t.desc.Raw, err)
	}
	if op == "init" {
		return NewError(ConnectFailure, op, t.desc.Raw, err)
	}
	return NewError(IoFailure, op, t.desc.Raw, err)
}

// Deinit drops the client and any queued inbound data.
func (t *HTTPTransport) Deinit(s Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	connID := t.connID
	t.teardownLocked()
	t.stateEvent(s, connID, "CONNECTED", "DISCONNECTED", "deinit")
	return nil
}

// Reset discards the connection handles, keeping URI, proxy, pin and
// user agent.
func (t *HTTPTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.teardownLocked()
}

// Destroy releases the transport.
func (t *HTTPTransport) Destroy(s Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return
	}
	t.teardownLocked()
	t.destroyed = true
	t.stateEvent(s, "", "", "DESTROYED", "")
}

func (t *HTTPTransport) teardownLocked() {
	if t.htr != nil {
		t.htr.CloseIdleConnections()
	}
	t.closePreConnLocked()
	t.htr = nil
	t.client = nil
	t.inbox = nil
	t.connID = ""
}

func (t *HTTPTransport) closePreConnLocked() {
	if t.preConn != nil {
		t.preConn.Close()
		t.preConn = nil
	}
}

// Dispatch runs the polling loop.
func (t *HTTPTransport) Dispatch(ctx context.Context, s Session) (DispatchResult, error) {
	return dispatch(ctx, t, s, t.poll)
}

// Transmit POSTs one packet. A non-empty response body is queued for the
// next Receive. The completion is resolved once the response arrives.
func (t *HTTPTransport) Transmit(ctx context.Context, s Session, p packet.Packet, c packet.Completion) error {
	c = packet.Once(c)

	data, err := t.seal(s, p)
	if err != nil {
		return resolveTransmit(c, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.WriteTimeout)
	defer cancel()

	body, err := t.roundTrip(ctx, s, "transmit", data)
	if err != nil {
		return resolveTransmit(c, err)
	}
	t.frameEvent(s, log.DirectionOut, data)
	if len(body) > 0 {
		t.mu.Lock()
		t.inbox = append(t.inbox, body)
		t.mu.Unlock()
	}
	return resolveTransmit(c, nil)
}

// Receive returns a queued packet or polls the controller. An empty
// response is ErrNoPacket and leaves the idle clock untouched.
func (t *HTTPTransport) Receive(ctx context.Context, s Session) (packet.Packet, error) {
	if err := t.sched.Check(t.now(), "receive", t.desc.Raw); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if len(t.inbox) > 0 {
		frame := t.inbox[0]
		t.inbox = t.inbox[1:]
		t.mu.Unlock()
		return t.open(s, "receive", frame)
	}
	t.mu.Unlock()

	if d := t.readDeadline(ctx); !d.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, d)
		defer cancel()
	}

	body, err := t.roundTrip(ctx, s, "receive", []byte{})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrNoPacket
	}
	return t.open(s, "receive", body)
}

// roundTrip POSTs data and returns the response body.
func (t *HTTPTransport) roundTrip(ctx context.Context, s Session, op string, data []byte) ([]byte, error) {
	t.mu.Lock()
	client, connID := t.client, t.connID
	t.mu.Unlock()
	if client == nil {
		return nil, NewError(IoFailure, op, t.desc.Raw, ErrNotInitialized)
	}

	req, err := t.newRequest(ctx, http.MethodPost, data)
	if err != nil {
		return nil, NewError(IoFailure, op, t.desc.Raw, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		terr := t.classifyOrTimeout(ctx, op, err)
		t.errorEvent(s, connID, op, terr)
		return nil, terr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		terr := NewError(IoFailure, op, t.desc.Raw, fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status))
		t.errorEvent(s, connID, op, terr)
		return nil, terr
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.opts.MaxPacketSize)+1))
	if err != nil {
		terr := t.classifyOrTimeout(ctx, op, err)
		t.errorEvent(s, connID, op, terr)
		return nil, terr
	}
	if len(body) > int(t.opts.MaxPacketSize) {
		return nil, NewError(IoFailure, op, t.desc.Raw, ErrMessageTooLarge)
	}
	if len(body) > 0 {
		t.frameEvent(s, log.DirectionIn, body)
	}
	return body, nil
}

// classifyOrTimeout treats a deadline set from the schedule as a comms
// timeout rather than a cancellation.
func (t *HTTPTransport) classifyOrTimeout(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !t.sched.Expired(t.now()) {
		if t.sched.CommsTimedOut(t.now()) || op == "transmit" {
			return NewError(IoTimeout, op, t.desc.Raw, err)
		}
	}
	return t.classifyRequest(ctx, op, err)
}

func (t *HTTPTransport) frameEvent(s Session, dir log.Direction, data []byte) {
	t.mu.Lock()
	connID := t.connID
	t.mu.Unlock()
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
func (t *HTTPTransport) Info() Info {
	i := t.info()
	t.mu.Lock()
	defer t.mu.Unlock()
	i.Connected = t.client != nil
	i.ConnectionID = t.connID
	return i
}

var _ Transport = (*HTTPTransport)(nil)
