package discovery

import (
	"context"
	"testing"
)

func TestParseServiceHost(t *testing.T) {
	tests := []struct {
		host string
		want ServiceName
		ok   bool
	}{
		{"ops.controller._rlink._tcp.local", ServiceName{"ops.controller", "_rlink._tcp"}, true},
		{"ops._rlink._tcp.local.", ServiceName{"ops", "_rlink._tcp"}, true},
		{"Ops._RLINK._TCP.LOCAL", ServiceName{"Ops", "_rlink._tcp"}, true},
		{"ops._rlink._udp.local", ServiceName{"ops", "_rlink._udp"}, true},
		{"controller.local", ServiceName{}, false},
		{"controller.example.com", ServiceName{}, false},
		{"_rlink._tcp.local", ServiceName{}, false},
		{"ops._rlink._sctp.local", ServiceName{}, false},
		{"ops._rlink.local", ServiceName{}, false},
		{"ops._._tcp.local", ServiceName{}, false},
		{".local", ServiceName{}, false},
		{"127.0.0.1", ServiceName{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, ok := ParseServiceHost(tt.host)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestServiceNameString(t *testing.T) {
	n := ServiceName{Instance: "ops", Service: "_rlink._tcp"}
	if got := n.String(); got != "ops._rlink._tcp.local" {
		t.Errorf("String() = %q", got)
	}
	back, ok := ParseServiceHost(n.String())
	if !ok || back != n {
		t.Errorf("ParseServiceHost(%q) = %+v, %v", n.String(), back, ok)
	}
}

func TestPreferredAddress(t *testing.T) {
	tests := []struct {
		name  string
		addrs []string
		want  string
	}{
		{"Empty", nil, ""},
		{"IPv4First", []string{"192.168.1.10", "fe80::1"}, "192.168.1.10"},
		{"IPv4Later", []string{"fe80::1", "10.0.0.2"}, "10.0.0.2"},
		{"IPv6Only", []string{"fe80::1", "fe80::2"}, "fe80::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := preferredAddress(tt.addrs); got != tt.want {
				t.Errorf("preferredAddress(%v) = %q, want %q", tt.addrs, got, tt.want)
			}
		})
	}
}

type recordingResolver struct {
	calls []string
}

func (r *recordingResolver) Resolve(_ context.Context, host, _ string) (string, error) {
	r.calls = append(r.calls, host)
	return "next:" + host, nil
}

func TestStaticResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("Mapped", func(t *testing.T) {
		r := &StaticResolver{Hosts: map[string]string{"Controller.Example": "10.1.1.1"}}
		got, err := r.Resolve(ctx, "controller.example", "4444")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if got != "10.1.1.1" {
			t.Errorf("Resolve = %q", got)
		}
	})

	t.Run("PassThrough", func(t *testing.T) {
		r := &StaticResolver{}
		got, _ := r.Resolve(ctx, "other.example", "4444")
		if got != "other.example" {
			t.Errorf("Resolve = %q", got)
		}
	})

	t.Run("Next", func(t *testing.T) {
		next := &recordingResolver{}
		r := &StaticResolver{Hosts: map[string]string{"a": "1.1.1.1"}, Next: next}

		got, _ := r.Resolve(ctx, "a", "1")
		if got != "1.1.1.1" {
			t.Errorf("mapped Resolve = %q", got)
		}
		got, _ = r.Resolve(ctx, "b", "1")
		if got != "next:b" {
			t.Errorf("fallthrough Resolve = %q", got)
		}
		if len(next.calls) != 1 || next.calls[0] != "b" {
			t.Errorf("next calls = %v, want [b]", next.calls)
		}
	})
}
