package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rlink-protocol/rlink-go/pkg/packet"
)

// generateTestCertificate creates a self-signed certificate for testing.
func generateTestCertificate(t *testing.T) (tls.Certificate, *x509.Certificate) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "controller.test"},
		DNSNames:              []string{"controller.test"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privateKey.PublicKey, privateKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  privateKey,
		Leaf:        cert,
	}, cert
}

// fakeSession passes bytes through unencrypted and records deliveries.
type fakeSession struct {
	id        string
	codec     packet.Codec
	delivered chan packet.Packet

	mu         sync.Mutex
	deliverErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		id:        "sess-test",
		codec:     packet.RawCodec{},
		delivered: make(chan packet.Packet, 32),
	}
}

func (s *fakeSession) ID() string                       { return s.id }
func (s *fakeSession) Codec() packet.Codec              { return s.codec }
func (s *fakeSession) Encrypt(p []byte) ([]byte, error) { return p, nil }
func (s *fakeSession) Decrypt(c []byte) ([]byte, error) { return c, nil }

func (s *fakeSession) Deliver(_ context.Context, p packet.Packet) error {
	s.mu.Lock()
	err := s.deliverErr
	s.mu.Unlock()
	s.delivered <- p
	return err
}

func (s *fakeSession) next(t *testing.T) packet.Packet {
	t.Helper()
	select {
	case p := <-s.delivered:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

// testTimeouts returns short timings for tests.
func testTimeouts() Timeouts {
	return Timeouts{
		CommsTimeout: 2 * time.Second,
		RetryTotal:   time.Second,
		RetryWait:    10 * time.Millisecond,
	}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

var _ Session = (*fakeSession)(nil)
