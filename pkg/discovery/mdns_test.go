package discovery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// scriptedBrowse answers every browse with entries, then waits for ctx.
func scriptedBrowse(calls *atomic.Int32, entries ...ServiceEntry) BrowseFunc {
	return func(ctx context.Context, service string, found chan<- ServiceEntry) error {
		calls.Add(1)
		for _, e := range entries {
			e.Service = service
			select {
			case found <- e:
			case <-ctx.Done():
				return nil
			}
		}
		<-ctx.Done()
		return nil
	}
}

func TestMDNSResolverPassThrough(t *testing.T) {
	var calls atomic.Int32
	r := NewMDNSResolver(ResolverConfig{Browse: scriptedBrowse(&calls)})

	got, err := r.Resolve(context.Background(), "controller.example.com", "443")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "controller.example.com" {
		t.Errorf("Resolve = %q", got)
	}
	if calls.Load() != 0 {
		t.Errorf("browse called for a plain host")
	}
}

func TestMDNSResolverFindsInstance(t *testing.T) {
	var calls atomic.Int32
	r := NewMDNSResolver(ResolverConfig{
		BrowseTimeout: time.Second,
		Browse: scriptedBrowse(&calls,
			ServiceEntry{Instance: "other", Addrs: []string{"10.0.0.9"}},
			ServiceEntry{Instance: "ops", Addrs: nil},
			ServiceEntry{Instance: "OPS", Port: 4444, Addrs: []string{"fe80::1", "192.168.1.20"}},
		),
	})

	got, err := r.Resolve(context.Background(), "ops._rlink._tcp.local", "4444")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "192.168.1.20" {
		t.Errorf("Resolve = %q, want 192.168.1.20", got)
	}

	t.Run("Cached", func(t *testing.T) {
		got, err := r.Resolve(context.Background(), "ops._rlink._tcp.local", "4444")
		if err != nil || got != "192.168.1.20" {
			t.Fatalf("Resolve = %q, %v", got, err)
		}
		if calls.Load() != 1 {
			t.Errorf("browse calls = %d, want 1", calls.Load())
		}
	})

	t.Run("Flush", func(t *testing.T) {
		r.Flush()
		if _, err := r.Resolve(context.Background(), "ops._rlink._tcp.local", "4444"); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("browse calls = %d, want 2", calls.Load())
		}
	})
}

func TestMDNSResolverCacheDisabled(t *testing.T) {
	var calls atomic.Int32
	r := NewMDNSResolver(ResolverConfig{
		CacheTTL: -1,
		Browse:   scriptedBrowse(&calls, ServiceEntry{Instance: "ops", Addrs: []string{"10.0.0.1"}}),
	})
	for range 2 {
		if _, err := r.Resolve(context.Background(), "ops._rlink._tcp.local", ""); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("browse calls = %d, want 2", calls.Load())
	}
}

func TestMDNSResolverNotFound(t *testing.T) {
	var calls atomic.Int32
	r := NewMDNSResolver(ResolverConfig{
		BrowseTimeout: 50 * time.Millisecond,
		Browse:        scriptedBrowse(&calls, ServiceEntry{Instance: "other", Addrs: []string{"10.0.0.1"}}),
	})

	start := time.Now()
	_, err := r.Resolve(context.Background(), "ops._rlink._tcp.local", "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Resolve took %v", elapsed)
	}
}

func TestMDNSResolverBrowseError(t *testing.T) {
	boom := errors.New("no multicast interface")
	r := NewMDNSResolver(ResolverConfig{
		Browse: func(context.Context, string, chan<- ServiceEntry) error { return boom },
	})

	_, err := r.Resolve(context.Background(), "ops._rlink._tcp.local", "")
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}

func TestMDNSResolverContextCancel(t *testing.T) {
	var calls atomic.Int32
	r := NewMDNSResolver(ResolverConfig{BrowseTimeout: 10 * time.Second, Browse: scriptedBrowse(&calls)})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := r.Resolve(ctx, "ops._rlink._tcp.local", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
