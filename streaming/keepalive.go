package streaming

import (
	"gostream/internal/message"
	"gostream/internal/transport"
)

// scheduleKeepAlive starts the ping timer of conn.
func (s *Sender) scheduleKeepAlive(conn *transport.Connection) {
	if s.opts.KeepAlivePeriod < 0 {
		return
	}
	s.logger.Debug("%s scheduling keep-alive task with %v period", s.tag(conn), s.opts.KeepAlivePeriod)

	t := conn.Schedule(s.opts.KeepAlivePeriod, func(t *transport.Timer) {
		s.keepAlive(conn, t)
	})

	s.timersMu.Lock()
	if s.closed.Load() {
		s.timersMu.Unlock()
		t.Cancel()
		return
	}
	s.timers = append(s.timers, t)
	s.timersMu.Unlock()
}

// keepAlive runs on conn's event goroutine.  A ping is skipped while a
// transfer owns the connection.  A failed ping only cancels the timer.
func (s *Sender) keepAlive(conn *transport.Connection, t *transport.Timer) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if !conn.IsOpen() || s.closed.Load() {
		s.logger.Debug("%s connection or sender closed, cancelling keep-alive task", s.tag(conn))
		t.Cancel()
		return
	}

	ka := &message.KeepAlive{}
	size, err := s.opts.Codec.SerializedSize(ka, s.opts.Version)
	if err == nil {
		var buf []byte
		if buf, err = s.encodeControl(ka, size); err == nil {
			if !conn.WriteAsyncIfIdle(buf, func(err error) { s.onKeepAliveComplete(conn, t, err) }) {
				s.metrics.KeepAliveSkipped()
				s.logger.Debug("%s skipping keep-alive: a transfer is in progress", s.tag(conn))
			}
			return
		}
	}
	s.logger.Error("%s could not encode keep-alive: %v", s.tag(conn), err)
	t.Cancel()
}

func (s *Sender) onKeepAliveComplete(conn *transport.Connection, t *transport.Timer, err error) {
	if err != nil {
		s.logger.Debug("%s could not send keep-alive message (perhaps stream session is finished?): %v", s.tag(conn), err)
		t.Cancel()
		return
	}
	s.metrics.KeepAliveSent()
	s.logger.Debug("%s sent keep-alive", s.tag(conn))
}
