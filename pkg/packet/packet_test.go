package packet

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

func TestRawCodec(t *testing.T) {
	var c RawCodec

	data, err := c.Encode(Raw("hello"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("Encode = %q, want %q", data, "hello")
	}

	p, err := c.Decode([]byte("world"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(p.Payload(), []byte("world")) {
		t.Errorf("Payload = %q", p.Payload())
	}

	if _, err := c.Decode(nil); !errors.Is(err, ErrEmptyPacket) {
		t.Errorf("Decode(nil) error = %v, want ErrEmptyPacket", err)
	}
	if _, err := c.Encode(nil); !errors.Is(err, ErrNilPacket) {
		t.Errorf("Encode(nil) error = %v, want ErrNilPacket", err)
	}
}

func TestCBORCodecEnvelope(t *testing.T) {
	var c CBORCodec

	in := &Envelope{Kind: 7, RequestID: "req-1", Method: "core_ping", Body: []byte{1, 2, 3}}
	data, err := c.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	p, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	out, ok := p.(*Envelope)
	if !ok {
		t.Fatalf("Decode returned %T, want *Envelope", p)
	}
	if out.Kind != 7 || out.RequestID != "req-1" || out.Method != "core_ping" {
		t.Errorf("decoded envelope = %+v", out)
	}
	if !bytes.Equal(out.Body, in.Body) {
		t.Errorf("Body = %v, want %v", out.Body, in.Body)
	}
}

func TestCBORCodecWrapsForeignPackets(t *testing.T) {
	var c CBORCodec

	data, err := c.Encode(Raw("abc"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	p, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Type() != 0 || string(p.Payload()) != "abc" {
		t.Errorf("decoded = type %d payload %q", p.Type(), p.Payload())
	}
}

func TestCBORCodecRejectsGarbage(t *testing.T) {
	var c CBORCodec
	if _, err := c.Decode([]byte{0xff, 0x00, 0x13}); err == nil {
		t.Error("expected decode error for garbage input")
	}
	if _, err := c.Decode(nil); !errors.Is(err, ErrEmptyPacket) {
		t.Errorf("Decode(nil) error = %v, want ErrEmptyPacket", err)
	}
}

func TestOnceCompletion(t *testing.T) {
	var mu sync.Mutex
	var calls []error

	c := Once(CompletionFunc(func(err error) {
		mu.Lock()
		calls = append(calls, err)
		mu.Unlock()
	}))

	first := errors.New("first")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Complete(first)
		}()
	}
	wg.Wait()
	c.Complete(nil)

	if len(calls) != 1 {
		t.Fatalf("Complete forwarded %d times, want 1", len(calls))
	}
	if calls[0] != first {
		t.Errorf("forwarded error = %v, want %v", calls[0], first)
	}

	if Once(c) != c {
		t.Error("Once should not double-wrap")
	}
	if Once(nil) != nil {
		t.Error("Once(nil) should be nil")
	}
}

func TestResolveNil(t *testing.T) {
	// Must not panic.
	Resolve(nil, errors.New("ignored"))
}
