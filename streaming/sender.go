// Package streaming sends stream session messages to one peer.
//
// A Sender splits traffic in two.  Control messages (Init, Prepare,
// Complete, keep-alives, ...) go out on a single shared control
// connection without waiting.  Payload transfers run on a bounded pool
// of workers; each worker owns its own data connection and must hold a
// permit from the shared Limiter while it writes.
//
// Close is the only way to stop a Sender.  It may be called from any
// goroutine, including write callbacks and workers, and only the first
// call does anything.
package streaming

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	ncerr "gostream/internal/errors"
	"gostream/internal/message"
	"gostream/internal/metrics"
	"gostream/internal/session"
	"gostream/internal/transport"
	"gostream/util"
)

// Sender dispatches messages for one session to one peer.
type Sender struct {
	sess    session.Session
	tmpl    transport.Template
	factory transport.ConnectionFactory
	opts    Options
	logger  *util.Logger
	metrics *metrics.Collector
	preview bool

	closed  atomic.Bool
	closeMu sync.RWMutex // Close flips closed under the write lock

	ctrlMu sync.Mutex // serializes control connection setup
	ctrl   atomic.Pointer[transport.Connection]

	timersMu sync.Mutex
	timers   []*transport.Timer

	connsMu sync.Mutex
	conns   map[int]*transport.Connection // worker id -> data connection

	pool *workerPool
}

// New returns an open Sender.  No connection is made until the first
// message is sent.
func New(sess session.Session, tmpl transport.Template, factory transport.ConnectionFactory, opts Options) (*Sender, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Sender{
		sess:    sess,
		tmpl:    tmpl,
		factory: factory,
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		preview: sess.PreviewKind().IsPreview(),
		conns:   make(map[int]*transport.Connection),
		pool:    newWorkerPool("stream-out-"+tmpl.Peer, opts.Workers),
	}, nil
}

// tag prefixes every log line of this sender.
func (s *Sender) tag(conn *transport.Connection) string {
	if conn == nil {
		return fmt.Sprintf("[Stream #%s]", s.sess.PlanID())
	}
	return fmt.Sprintf("[Stream #%s channel: %s]", s.sess.PlanID(), conn.ID())
}

// Initialize sends the session's Init message.
func (s *Sender) Initialize() error {
	return s.Send(&message.Init{
		From:          s.opts.From,
		SessionIndex:  s.sess.Index(),
		PlanID:        s.sess.PlanID(),
		Operation:     s.sess.Operation(),
		PendingRepair: s.sess.PendingRepair(),
		PreviewKind:   uint8(s.sess.PreviewKind()),
	})
}

// Send routes m.  Streams are queued for a worker; control messages are
// written on the control connection.  Neither waits for the write.
func (s *Sender) Send(m message.Message) error {
	if s.closed.Load() {
		return fmt.Errorf("%w, cannot send %s", ncerr.ErrSendAfterClose, m)
	}

	if st, ok := m.(*message.OutgoingStream); ok {
		if s.preview {
			return ncerr.ErrPreviewViolation
		}
		s.logger.Debug("%s Sending %s", s.tag(nil), st)
		return s.pool.submit(func(ctx context.Context, w *worker) {
			s.transfer(ctx, w, st)
		})
	}

	if err := s.sendControl(m); err != nil {
		if s.closed.Load() || ncerr.Is(err, ncerr.ErrSendAfterClose) || ncerr.IsInterrupted(err) {
			return err
		}
		s.Close()
		s.sess.OnError(err)
		return err
	}
	return nil
}

func (s *Sender) sendControl(m message.Message) error {
	size, err := s.opts.Codec.SerializedSize(m, s.opts.Version)
	if err != nil {
		return err
	}
	if size > message.MaxControlMessageSize {
		return &ncerr.ControlMessageTooLargeError{
			Tag:   s.tag(nil),
			Type:  m.Type().String(),
			Size:  size,
			Limit: message.MaxControlMessageSize,
		}
	}

	conn, err := s.controlConnection()
	if err != nil {
		return err
	}
	buf, err := s.encodeControl(m, size)
	if err != nil {
		return err
	}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed.Load() {
		return fmt.Errorf("%w, cannot send %s", ncerr.ErrSendAfterClose, m)
	}
	s.logger.Debug("%s Sending %s", s.tag(conn), m)
	queued := conn.TryWriteAsync(buf, func(err error) {
		s.onControlComplete(conn, m, err)
	})
	if !queued {
		return &ncerr.RemoteWriteError{Peer: s.tmpl.Peer, ConnID: conn.ID(), Message: m.String(), Err: ncerr.ErrConnectionClosed}
	}
	s.metrics.ControlMessageSent()
	return nil
}

func (s *Sender) encodeControl(m message.Message, size int64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(size))
	if err := s.opts.Codec.Serialize(m, &buf, s.opts.Version); err != nil {
		return nil, fmt.Errorf("%s serializing %s: %w", s.tag(nil), m.Type(), err)
	}
	if int64(buf.Len()) != size {
		return nil, fmt.Errorf("%s serialized %s is %d bytes, expected %d", s.tag(nil), m.Type(), buf.Len(), size)
	}
	return buf.Bytes(), nil
}

// onControlComplete runs on the control connection's event goroutine.
func (s *Sender) onControlComplete(conn *transport.Connection, m message.Message, err error) {
	if err == nil {
		return
	}
	s.logger.Error("%s failed to send a stream message to peer %s: msg = %s: %v", s.tag(conn), s.tmpl.Peer, m, err)
	s.metrics.RecordError(err.Error())
	s.sess.OnError(&ncerr.RemoteWriteError{Peer: s.tmpl.Peer, ConnID: conn.ID(), Message: m.String(), Err: err})
	s.Close()
}

// controlConnection returns the control connection, creating it (and
// its keep-alive) on first use.
func (s *Sender) controlConnection() (*transport.Connection, error) {
	if c := s.ctrl.Load(); c != nil {
		return c, nil
	}
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	if c := s.ctrl.Load(); c != nil {
		return c, nil
	}
	if s.closed.Load() {
		return nil, ncerr.ErrSendAfterClose
	}

	c, err := s.factory.CreateConnection(s.pool.ctx, s.tmpl, s.opts.Version)
	if err != nil {
		if s.closed.Load() {
			return nil, fmt.Errorf("%w: %v", ncerr.ErrSendAfterClose, err)
		}
		return nil, fmt.Errorf("%s control connection to %s: %w", s.tag(nil), s.tmpl.Peer, err)
	}
	if s.closed.Load() {
		c.Close() //nolint:errcheck
		return nil, ncerr.ErrSendAfterClose
	}
	c.SetBusy(false)
	s.logger.Debug("%s created control connection to %s", s.tag(c), c.RemoteAddr())
	s.ctrl.Store(c)
	s.scheduleKeepAlive(c)
	return c, nil
}

// InjectControlConnection adopts a control connection made by the peer.
// Used on the following side of a session.
func (s *Sender) InjectControlConnection(conn *transport.Connection) {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	if old := s.ctrl.Load(); old != nil && old != conn {
		s.logger.Warn("%s replacing control connection %s", s.tag(conn), old.ID())
	}
	conn.SetBusy(false)
	s.ctrl.Store(conn)
	s.scheduleKeepAlive(conn)
}

func (s *Sender) HasControlConnection() bool { return s.ctrl.Load() != nil }

// Connected is false once the sender has closed or its control
// connection has been seen closed.
func (s *Sender) Connected() bool {
	if s.closed.Load() {
		return false
	}
	c := s.ctrl.Load()
	return c == nil || c.IsOpen()
}

// Flush waits until every control message sent so far has been written.
func (s *Sender) Flush(ctx context.Context) error {
	c := s.ctrl.Load()
	if c == nil {
		return nil
	}
	return c.Flush(ctx)
}

// Close stops the sender: keep-alives are cancelled, data connections
// closed and running transfers interrupted.  The control connection is
// left to its owner.  Only the first call has any effect.
func (s *Sender) Close() {
	s.closeMu.Lock()
	first := s.closed.CompareAndSwap(false, true)
	s.closeMu.Unlock()
	if !first {
		return
	}
	s.metrics.SenderClosed()

	s.timersMu.Lock()
	for _, t := range s.timers {
		t.Cancel()
	}
	s.timers = nil
	s.timersMu.Unlock()

	s.connsMu.Lock()
	conns := s.conns
	s.conns = make(map[int]*transport.Connection)
	s.connsMu.Unlock()
	for _, c := range conns {
		c.Close() //nolint:errcheck
	}

	if dropped := s.pool.shutdownNow(); dropped > 0 {
		s.logger.Verbose("%s dropped %d queued transfers on close", s.tag(nil), dropped)
	}
	s.logger.Debug("%s sender to %s closed", s.tag(nil), s.tmpl.Peer)
}

// IsClosed reports whether Close has been called.
func (s *Sender) IsClosed() bool { return s.closed.Load() }
