package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	ncerr "gostream/internal/errors"
	"gostream/internal/metrics"
	"gostream/internal/retry"
	"gostream/util"
)

// preambleTimeout caps the first write on a new connection.
const preambleTimeout = 10 * time.Second

// Template describes how to reach a peer.
type Template struct {
	Peer    string // host:port
	Network string // defaults to "tcp"
}

// ConnectionFactory creates connections to a peer.
type ConnectionFactory interface {
	CreateConnection(ctx context.Context, tmpl Template, version int) (*Connection, error)
}

// DialFactory creates connections through a Dialer.  Dials are retried
// with backoff and guarded by one circuit breaker per peer.  Every
// connection starts with the protocol preamble.
type DialFactory struct {
	dialer  Dialer
	backoff *retry.Backoff
	logger  *util.Logger
	metrics *metrics.Collector

	breakers *retry.PeerBreakers

	mu     sync.Mutex
	conns  map[*Connection]struct{}
	closed bool
}

// NewDialFactory returns a factory using the dial backoff schedule.
func NewDialFactory(d Dialer, logger *util.Logger, m *metrics.Collector) *DialFactory {
	f := &DialFactory{
		dialer:  d,
		logger:  logger,
		metrics: m,
		conns:   make(map[*Connection]struct{}),
	}
	f.breakers = retry.NewPeerBreakers(retry.BreakerConfig{
		Threshold: 3,
		Cooldown:  30 * time.Second,
		OnStateChange: func(peer string, from, to retry.State) {
			logger.Warn("peer %s circuit %s -> %s", peer, from, to)
		},
	})
	f.backoff = retry.DialBackoff()
	f.backoff.OnRetry = func(attempt int, err error, wait time.Duration) {
		m.DialRetry()
		logger.Verbose("dial attempt %d failed: %v (retrying in %v)", attempt, err, wait.Truncate(time.Millisecond))
	}
	return f
}

// SetBackoff replaces the retry schedule.  Call before first use.
func (f *DialFactory) SetBackoff(b *retry.Backoff) {
	b.OnRetry = f.backoff.OnRetry
	f.backoff = b
}

// CreateConnection dials tmpl.Peer, writes the preamble and returns the
// started connection.
func (f *DialFactory) CreateConnection(ctx context.Context, tmpl Template, version int) (*Connection, error) {
	network := tmpl.Network
	if network == "" {
		network = "tcp"
	}
	if f.isClosed() {
		return nil, ncerr.ErrConnectionClosed
	}

	var nc net.Conn
	err := f.breakers.Do(ctx, tmpl.Peer, func() error {
		return f.backoff.Do(ctx, func(int) error {
			c, err := f.dialer.Dial(ctx, network, tmpl.Peer)
			if err != nil {
				if !ncerr.IsRetryable(err) || ctx.Err() != nil {
					return retry.Permanent(err)
				}
				return err
			}
			nc = c
			return nil
		})
	})
	if err != nil {
		f.metrics.RecordError(err.Error())
		return nil, err
	}

	if err := writePreamble(ctx, nc, version); err != nil {
		nc.Close()
		return nil, ncerr.Wrap("preamble", tmpl.Peer, err)
	}

	conn := NewConnection(nc, f.logger, f.metrics)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close() //nolint:errcheck
		return nil, ncerr.ErrConnectionClosed
	}
	f.conns[conn] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-conn.Done()
		f.mu.Lock()
		delete(f.conns, conn)
		f.mu.Unlock()
	}()

	f.logger.Debug("%s connected to %s", conn.ID(), tmpl.Peer)
	return conn, nil
}

// writePreamble bounds the preamble write by ctx and preambleTimeout.
// Connections without deadline support rely on ctx closing them.
func writePreamble(ctx context.Context, nc net.Conn, version int) error {
	deadline := time.Now().Add(preambleTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	nc.SetWriteDeadline(deadline) //nolint:errcheck
	defer nc.SetWriteDeadline(time.Time{}) //nolint:errcheck

	stop := context.AfterFunc(ctx, func() { nc.Close() })
	err := WritePreamble(nc, version)
	if !stop() {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

func (f *DialFactory) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Connections returns the number of open connections made by f.
func (f *DialFactory) Connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// Close closes every connection the factory made and its dialer.
func (f *DialFactory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	conns := make([]*Connection, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	for _, c := range conns {
		c.Close() //nolint:errcheck
	}
	return f.dialer.Close()
}
