package core

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"gostream/internal/message"
	"gostream/internal/metrics"
	"gostream/internal/transport"
	"gostream/util"
)

// ListenMode accepts stream connections and stores incoming payloads
// in OutputDir.  Every connection (control or data) is served on its
// own goroutine until the peer closes it.
type ListenMode struct {
	Address   string // ":port"
	Transport string // "tcp" or "quic"
	OutputDir string
	TLS       *tls.Config // quic only; self-signed when nil
	Grace     time.Duration
	Logger    *util.Logger
	Metrics   *metrics.Collector

	// OnMessage, when set, sees every decoded message.
	OnMessage func(remote string, m message.Message)

	// Ready, when set, receives the bound address once listening.
	Ready chan<- net.Addr

	codec *message.Codec
	wg    sync.WaitGroup
}

// Run listens until ctx is done.
func (m *ListenMode) Run(ctx context.Context) error {
	codec, err := message.NewCodec()
	if err != nil {
		return err
	}
	m.codec = codec
	if err := os.MkdirAll(m.OutputDir, 0o755); err != nil {
		return fmt.Errorf("output dir: %w", err)
	}

	if m.Transport == "quic" {
		err = m.listenQUIC(ctx)
	} else {
		err = m.listenTCP(ctx)
	}
	m.drain()
	return err
}

// drain waits up to Grace for connection handlers to finish.
func (m *ListenMode) drain() {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	grace := m.Grace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		m.Logger.Warn("receivers still running after %v, exiting", grace)
	}
}

func (m *ListenMode) ready(a net.Addr) {
	if m.Ready != nil {
		m.Ready <- a
	}
}

// ── TCP ──────────────────────────────────────────────────────────────

func (m *ListenMode) listenTCP(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.Address, err)
	}
	defer ln.Close()

	m.Logger.Verbose("listening on %s (tcp)", ln.Addr())
	m.ready(ln.Addr())

	// Shut the listener down when the context expires.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		m.serve(ctx, conn)
	}
}

// ── QUIC ─────────────────────────────────────────────────────────────

func (m *ListenMode) listenQUIC(ctx context.Context) error {
	tlsConf := m.TLS
	if tlsConf == nil {
		var err error
		if tlsConf, err = transport.DefaultTLSConfig(); err != nil {
			return err
		}
	}
	ln, err := transport.ListenQUIC(m.Address, tlsConf)
	if err != nil {
		return err
	}
	defer ln.Close()

	m.Logger.Verbose("listening on %s (quic)", ln.Addr())
	m.ready(ln.Addr())

	for {
		qc, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		m.Logger.Verbose("QUIC connection from %s", qc.RemoteAddr())
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.acceptStreams(ctx, qc)
		}()
	}
}

// acceptStreams serves every stream the peer opens on qc.
func (m *ListenMode) acceptStreams(ctx context.Context, qc quic.Connection) {
	defer qc.CloseWithError(0, "") //nolint:errcheck
	for {
		st, err := qc.AcceptStream(ctx)
		if err != nil {
			m.Logger.Debug("QUIC connection from %s ended: %v", qc.RemoteAddr(), err)
			return
		}
		m.serve(ctx, transport.WrapStream(qc, st))
	}
}

// ── Shared ───────────────────────────────────────────────────────────

func (m *ListenMode) serve(ctx context.Context, conn net.Conn) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.serveConn(ctx, conn); err != nil && !util.IsHarmless(err) {
			m.Logger.Error("connection from %s: %v", conn.RemoteAddr(), err)
			m.Metrics.RecordError(err.Error())
		}
	}()
}

func (m *ListenMode) serveConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	m.Metrics.ConnectionOpened()
	defer m.Metrics.ConnectionClosed()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()
	version, err := transport.ReadPreamble(conn)
	if err != nil {
		return err
	}
	dec, err := m.codec.NewDecoder(conn, version)
	if err != nil {
		return err
	}
	defer dec.Close()
	m.Logger.Debug("connection from %s speaks version %d", remote, version)

	for {
		msg, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if m.OnMessage != nil {
			m.OnMessage(remote, msg)
		}

		switch v := msg.(type) {
		case *message.IncomingStream:
			if err := m.store(v); err != nil {
				return err
			}
		case *message.KeepAlive:
			m.Logger.Debug("keep-alive from %s", remote)
		case *message.SessionFailed:
			m.Logger.Warn("peer %s reports %s", remote, v)
		default:
			m.Logger.Info("received %s from %s", v, remote)
		}
	}
}

// store writes an incoming payload to OutputDir.  The file appears
// under its final name only once complete.
func (m *ListenMode) store(in *message.IncomingStream) error {
	name := filepath.Base(in.Header.Name)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return fmt.Errorf("refusing stream with name %q", in.Header.Name)
	}
	tmp, err := os.CreateTemp(m.OutputDir, "."+name+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := util.CopyChunks(in.Payload, func(b []byte) error {
		_, werr := tmp.Write(b)
		return werr
	})
	m.Metrics.BytesReceived(n)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}

	dst := filepath.Join(m.OutputDir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return err
	}
	m.Logger.Info("received %s (%d bytes) -> %s", in.Header.Name, n, dst)
	return nil
}
