package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	ncerr "gostream/internal/errors"
	"gostream/util"
)

const (
	alpn            = "gostream"
	certValidityDur = 365 * 24 * time.Hour
	streamLinger    = 5 * time.Second
)

// DefaultQUICConfig keeps idle peer connections alive between sessions.
func DefaultQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  60 * time.Second,
	}
}

// DefaultTLSConfig returns a TLS config with a fresh self-signed
// certificate.  Peers do not verify each other.
func DefaultTLSConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, //nolint:gosec
		NextProtos:         []string{alpn},
	}, nil
}

func generateSelfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		NotAfter:     time.Now().Add(certValidityDur),
		NotBefore:    time.Now(),
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"gostream"}},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Bytes: der, Type: "CERTIFICATE"})
	keyPEM := pem.EncodeToMemory(&pem.Block{Bytes: keyDER, Type: "EC PRIVATE KEY"})
	return tls.X509KeyPair(certPEM, keyPEM)
}

// QUICDialer multiplexes every connection to a peer over one QUIC
// connection: each Dial opens a new bidirectional stream.  The QUIC
// connection is established lazily and re-established if it dies.
type QUICDialer struct {
	TLS    *tls.Config
	Config *quic.Config
	logger *util.Logger

	mu    sync.Mutex
	conns map[string]quic.Connection
}

// NewQUICDialer creates a dialer with a self-signed TLS identity.
func NewQUICDialer(logger *util.Logger) (*QUICDialer, error) {
	tlsConf, err := DefaultTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("quic tls: %w", err)
	}
	return &QUICDialer{
		TLS:    tlsConf,
		Config: DefaultQUICConfig(),
		logger: logger,
		conns:  make(map[string]quic.Connection),
	}, nil
}

func (d *QUICDialer) connection(ctx context.Context, address string) (quic.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if qc, ok := d.conns[address]; ok {
		if qc.Context().Err() == nil {
			return qc, nil
		}
		delete(d.conns, address)
	}
	d.logger.Verbose("establishing QUIC connection to %s", address)
	qc, err := quic.DialAddr(ctx, address, d.TLS, d.Config)
	if err != nil {
		return nil, ncerr.Wrap("dial", address, err)
	}
	d.conns[address] = qc
	return qc, nil
}

// Dial opens a new stream to address.  network is ignored.
func (d *QUICDialer) Dial(ctx context.Context, _, address string) (net.Conn, error) {
	qc, err := d.connection(ctx, address)
	if err != nil {
		return nil, err
	}
	st, err := qc.OpenStreamSync(ctx)
	if err != nil {
		return nil, ncerr.Wrap("open stream", address, err)
	}
	return &StreamConn{Stream: st, conn: qc}, nil
}

// Close tears down every QUIC connection opened by the dialer.
func (d *QUICDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for addr, qc := range d.conns {
		qc.CloseWithError(0, "") //nolint:errcheck
		delete(d.conns, addr)
	}
	return nil
}

// ListenQUIC listens for peers on a UDP address.
func ListenQUIC(addr string, tlsConf *tls.Config) (*quic.Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, DefaultQUICConfig())
	if err != nil {
		return nil, ncerr.Wrap("listen", addr, err)
	}
	return ln, nil
}

// StreamConn adapts a QUIC stream to net.Conn.
type StreamConn struct {
	quic.Stream
	conn quic.Connection
}

// WrapStream returns a net.Conn over st, an accepted stream of qc.
func WrapStream(qc quic.Connection, st quic.Stream) *StreamConn {
	return &StreamConn{Stream: st, conn: qc}
}

func (s *StreamConn) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *StreamConn) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Close sends FIN and waits, at most streamLinger, for the peer to
// finish its side.  Closing the QUIC connection right after a bare
// Close could drop data the peer has not acknowledged yet.
func (s *StreamConn) Close() error {
	err := s.Stream.Close()
	s.Stream.SetReadDeadline(time.Now().Add(streamLinger)) //nolint:errcheck
	io.Copy(io.Discard, s.Stream)                          //nolint:errcheck
	s.Stream.CancelRead(0)
	return err
}
