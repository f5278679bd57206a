// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a streaming run.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one process.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	bytesIn           atomic.Int64
	bytesOut          atomic.Int64
	dialRetries       atomic.Int64

	transfersActive atomic.Int64
	transfersTotal  atomic.Int64
	transfersFailed atomic.Int64
	permitWaits     atomic.Int64

	controlMessages   atomic.Int64
	keepAlivesSent    atomic.Int64
	keepAlivesSkipped atomic.Int64
	sendersClosed     atomic.Int64

	errorsTotal atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// DialRetry records one retried dial attempt.
func (c *Collector) DialRetry() {
	if c == nil {
		return
	}
	c.dialRetries.Add(1)
}

// DialRetries returns the number of retried dials.
func (c *Collector) DialRetries() int64 {
	if c == nil {
		return 0
	}
	return c.dialRetries.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from the network.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to the network.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Transfer metrics ─────────────────────────────────────────────────

// TransferStarted marks a payload transfer as in flight.
func (c *Collector) TransferStarted() {
	if c == nil {
		return
	}
	c.transfersActive.Add(1)
	c.transfersTotal.Add(1)
}

// TransferFinished marks a payload transfer as done.
func (c *Collector) TransferFinished(ok bool) {
	if c == nil {
		return
	}
	c.transfersActive.Add(-1)
	if !ok {
		c.transfersFailed.Add(1)
	}
}

// ActiveTransfers returns the number of transfers currently writing.
func (c *Collector) ActiveTransfers() int64 {
	if c == nil {
		return 0
	}
	return c.transfersActive.Load()
}

// TotalTransfers returns the lifetime transfer count.
func (c *Collector) TotalTransfers() int64 {
	if c == nil {
		return 0
	}
	return c.transfersTotal.Load()
}

// FailedTransfers returns the number of transfers that did not finish.
func (c *Collector) FailedTransfers() int64 {
	if c == nil {
		return 0
	}
	return c.transfersFailed.Load()
}

// PermitWait records one timed-out admission wait slice.
func (c *Collector) PermitWait() {
	if c == nil {
		return
	}
	c.permitWaits.Add(1)
}

// PermitWaits returns the number of timed-out admission wait slices.
func (c *Collector) PermitWaits() int64 {
	if c == nil {
		return 0
	}
	return c.permitWaits.Load()
}

// ── Control path metrics ─────────────────────────────────────────────

func (c *Collector) ControlMessageSent() {
	if c == nil {
		return
	}
	c.controlMessages.Add(1)
}

func (c *Collector) ControlMessages() int64 {
	if c == nil {
		return 0
	}
	return c.controlMessages.Load()
}

func (c *Collector) KeepAliveSent() {
	if c == nil {
		return
	}
	c.keepAlivesSent.Add(1)
}

func (c *Collector) KeepAliveSkipped() {
	if c == nil {
		return
	}
	c.keepAlivesSkipped.Add(1)
}

func (c *Collector) KeepAlivesSent() int64 {
	if c == nil {
		return 0
	}
	return c.keepAlivesSent.Load()
}

func (c *Collector) KeepAlivesSkipped() int64 {
	if c == nil {
		return 0
	}
	return c.keepAlivesSkipped.Load()
}

// SenderClosed counts sender teardowns.  Each sender contributes at
// most one, no matter how often Close is called.
func (c *Collector) SenderClosed() {
	if c == nil {
		return
	}
	c.sendersClosed.Add(1)
}

func (c *Collector) SendersClosed() int64 {
	if c == nil {
		return 0
	}
	return c.sendersClosed.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	DialRetries       int64  `json:"dial_retries"`
	BytesIn           int64  `json:"bytes_in"`
	BytesOut          int64  `json:"bytes_out"`
	TransfersActive   int64  `json:"transfers_active"`
	TransfersTotal    int64  `json:"transfers_total"`
	TransfersFailed   int64  `json:"transfers_failed"`
	PermitWaits       int64  `json:"permit_waits"`
	ControlMessages   int64  `json:"control_messages"`
	KeepAlivesSent    int64  `json:"keep_alives_sent"`
	KeepAlivesSkipped int64  `json:"keep_alives_skipped"`
	SendersClosed     int64  `json:"senders_closed"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		DialRetries:       c.dialRetries.Load(),
		BytesIn:           c.bytesIn.Load(),
		BytesOut:          c.bytesOut.Load(),
		TransfersActive:   c.transfersActive.Load(),
		TransfersTotal:    c.transfersTotal.Load(),
		TransfersFailed:   c.transfersFailed.Load(),
		PermitWaits:       c.permitWaits.Load(),
		ControlMessages:   c.controlMessages.Load(),
		KeepAlivesSent:    c.keepAlivesSent.Load(),
		KeepAlivesSkipped: c.keepAlivesSkipped.Load(),
		SendersClosed:     c.sendersClosed.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
