// Package errors provides domain-specific error types for gostream.
//
// These types carry structured context (operation, peer, message type,
// retryability) that helps callers decide how to handle failures: which
// ones are reported to the stream session, which ones are absorbed, and
// which ones indicate a bug.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrSendAfterClose is returned by Send once the sender has closed.
	ErrSendAfterClose = errors.New("stream has been closed")

	// ErrPreviewViolation rejects payload transfers on preview sessions.
	ErrPreviewViolation = errors.New("cannot send stream data messages for preview streaming sessions")

	// ErrTransferInterrupted marks a transfer cut short by the sender's
	// own shutdown.  It is logged, never reported to the session.
	ErrTransferInterrupted = errors.New("transfer interrupted by shutdown")

	ErrConnectionClosed = errors.New("connection is closed")
	ErrNotConnected     = errors.New("not connected")
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrTimeout          = errors.New("operation timed out")
	ErrAuthFailed       = errors.New("authentication failed")
	ErrBadPreamble      = errors.New("bad stream preamble")
	ErrUnknownVersion   = errors.New("unsupported streaming protocol version")
)

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // operation: "dial", "connect", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ControlMessageTooLargeError is raised when the computed wire size of a
// control message exceeds the hard ceiling.  Control messages are small
// by construction, so this always points at a serialization bug.
type ControlMessageTooLargeError struct {
	Tag   string // log tag of the stream
	Type  string // message type
	Size  int64
	Limit int64
}

func (e *ControlMessageTooLargeError) Error() string {
	return fmt.Sprintf("%s something is seriously wrong with the calculated stream control message's size: %d bytes (limit %d), type is %s",
		e.Tag, e.Size, e.Limit, e.Type)
}

// ChannelStateError reports that a connection was already marked busy
// when a transfer tried to claim it.  Never retried.
type ChannelStateError struct {
	ConnID string
}

func (e *ChannelStateError) Error() string {
	return fmt.Sprintf("connection %s transferring state is currently set to true, refusing to start new stream", e.ConnID)
}

// RemoteWriteError is reported to the session when a write to the peer
// completes with a failure.
type RemoteWriteError struct {
	Peer    string
	ConnID  string
	Message string // description of the message that failed
	Err     error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("failed to send a stream message to peer %s on %s: msg = %s: %v",
		e.Peer, e.ConnID, e.Message, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsInterrupted reports whether err stems from a shutdown interruption.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrTransferInterrupted)
}

// classifyRetryable inspects standard library error types.  A refused
// connection is retryable: the peer may simply not be listening yet.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return true
		}
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
