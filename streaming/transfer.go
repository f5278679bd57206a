package streaming

import (
	"context"
	"time"

	ncerr "gostream/internal/errors"
	"gostream/internal/message"
	"gostream/internal/session"
	"gostream/internal/transport"
)

type outcome int

const (
	outcomeOK outcome = iota
	outcomeInterrupted
	outcomeFailed
)

// transfer is the body of one queued OutgoingStream.
func (s *Sender) transfer(ctx context.Context, w *worker, st *message.OutgoingStream) {
	if !s.acquirePermit(ctx, st) {
		return
	}
	defer s.opts.Limiter.Release()

	res, conn, err := s.stream(ctx, w, st)
	switch res {
	case outcomeOK:
		if obs, ok := s.sess.(session.TransferObserver); ok {
			obs.OnTransferComplete(st.Name, st.Size)
		}
	case outcomeInterrupted:
		s.logger.Debug("%s streaming connection was closed due to the worker pool being shut down", s.tag(conn))
	case outcomeFailed:
		if s.sess.State().IsFinal() {
			s.logger.Debug("%s %s failed after session ended: %v", s.tag(conn), st, err)
			return
		}
		s.logger.Error("%s %s failed: %v", s.tag(conn), st, err)
		s.reportError(err)
	}
}

func (s *Sender) stream(ctx context.Context, w *worker, st *message.OutgoingStream) (outcome, *transport.Connection, error) {
	conn, err := s.connectionFor(ctx, w)
	if err != nil {
		if s.closed.Load() {
			return outcomeInterrupted, nil, err
		}
		return outcomeFailed, nil, err
	}
	if !conn.CompareAndSetBusy(false, true) {
		return outcomeFailed, conn, &ncerr.ChannelStateError{ConnID: conn.ID()}
	}
	defer conn.SetBusy(false)

	s.metrics.TransferStarted()
	err = s.opts.Codec.Serialize(st, &connWriter{ctx: ctx, conn: conn}, s.opts.Version)
	s.metrics.TransferFinished(err == nil)
	switch {
	case err == nil:
		return outcomeOK, conn, nil
	case s.closed.Load():
		return outcomeInterrupted, conn, err
	default:
		return outcomeFailed, conn, err
	}
}

// acquirePermit loops on the limiter until it gets a permit or the
// sender closes.
func (s *Sender) acquirePermit(ctx context.Context, st *message.OutgoingStream) bool {
	lastLog := time.Now()
	for {
		if s.closed.Load() || ctx.Err() != nil {
			return false
		}
		if s.opts.Limiter.Acquire(ctx, s.opts.PermitWaitSlice) {
			if s.closed.Load() {
				s.opts.Limiter.Release()
				return false
			}
			return true
		}
		s.metrics.PermitWait()
		if now := time.Now(); now.Sub(lastLog) > s.opts.PermitLogInterval {
			lastLog = now
			s.logger.Info("%s waiting to acquire a permit to begin streaming %s. This message logs every %v",
				s.tag(nil), st.Name, s.opts.PermitLogInterval)
		}
	}
}

// connectionFor returns w's data connection, dialing a new one on first
// use or when the previous one has closed.
func (s *Sender) connectionFor(ctx context.Context, w *worker) (*transport.Connection, error) {
	s.connsMu.Lock()
	c := s.conns[w.id]
	s.connsMu.Unlock()
	if c != nil {
		if c.IsOpen() {
			return c, nil
		}
		s.logger.Debug("%s worker %d connection closed, replacing it", s.tag(c), w.id)
	}

	c, err := s.factory.CreateConnection(ctx, s.tmpl, s.opts.Version)
	if err != nil {
		return nil, err
	}

	s.connsMu.Lock()
	if s.closed.Load() {
		s.connsMu.Unlock()
		c.Close() //nolint:errcheck
		return nil, ncerr.ErrSendAfterClose
	}
	s.conns[w.id] = c
	s.connsMu.Unlock()

	s.logger.Debug("%s created data connection for worker %d to %s", s.tag(c), w.id, c.RemoteAddr())
	return c, nil
}

// reportError hands err to the session and waits, at most CloseWait,
// for it to be handled.
func (s *Sender) reportError(err error) {
	s.metrics.RecordError(err.Error())
	done := s.sess.OnError(err)
	t := time.NewTimer(s.opts.CloseWait)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		s.logger.Warn("%s session did not handle %v within %v", s.tag(nil), err, s.opts.CloseWait)
	}
}

// connWriter streams payload bytes through a connection's event loop.
type connWriter struct {
	ctx  context.Context
	conn *transport.Connection
}

func (w *connWriter) Write(p []byte) (int, error) {
	if err := w.conn.Write(w.ctx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
