// Package session holds the stream session a sender reports to.
//
// The dispatcher only reads identity fields and reports failures; the
// stream state machine itself lives here so the CLI and tests have a
// concrete session to drive.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"gostream/util"
)

// State is the coarse lifecycle of a stream session.
type State int

const (
	StateInitialized State = iota
	StatePreparing
	StateStreaming
	StateWaitComplete
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "INITIALIZED"
	case StatePreparing:
		return "PREPARING"
	case StateStreaming:
		return "STREAMING"
	case StateWaitComplete:
		return "WAIT_COMPLETE"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal reports whether the session can no longer change state.
func (s State) IsFinal() bool { return s == StateComplete || s == StateFailed }

// PreviewKind selects which data a preview session would consider.
// Preview sessions exchange control messages only.
type PreviewKind uint8

const (
	PreviewNone PreviewKind = iota
	PreviewAll
	PreviewRepaired
	PreviewUnrepaired
)

func (p PreviewKind) String() string {
	switch p {
	case PreviewNone:
		return "none"
	case PreviewAll:
		return "all"
	case PreviewRepaired:
		return "repaired"
	case PreviewUnrepaired:
		return "unrepaired"
	default:
		return fmt.Sprintf("preview(%d)", uint8(p))
	}
}

func (p PreviewKind) IsPreview() bool { return p != PreviewNone }

// ParsePreviewKind accepts the names printed by String.
func ParsePreviewKind(s string) (PreviewKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PreviewNone, nil
	case "all":
		return PreviewAll, nil
	case "repaired":
		return PreviewRepaired, nil
	case "unrepaired":
		return PreviewUnrepaired, nil
	}
	return PreviewNone, fmt.Errorf("unknown preview kind %q (want none, all, repaired or unrepaired)", s)
}

// Session is what a sender needs from its owning stream session.
type Session interface {
	// OnError records a failure and returns a channel closed once the
	// session has finished handling it.
	OnError(err error) <-chan struct{}
	State() State

	Peer() string
	PlanID() string
	Index() int
	Operation() string
	PendingRepair() string
	PreviewKind() PreviewKind
}

// TransferObserver is optionally implemented by a Session that wants to
// hear about finished payload transfers.
type TransferObserver interface {
	OnTransferComplete(name string, size int64)
}

// Config identifies a stream session.
type Config struct {
	Peer          string
	PlanID        string // generated when empty
	Index         int
	Operation     string
	PendingRepair string
	Preview       PreviewKind
}

// Stream is the session used by the gostream CLI.
type Stream struct {
	cfg    Config
	logger *util.Logger

	mu          sync.Mutex
	state       State
	errs        []error
	hooks       []func(error)
	transferred int
	bytes       int64
	changed     chan struct{} // closed and replaced on every update
}

// New returns a session in StateInitialized.
func New(cfg Config, logger *util.Logger) *Stream {
	if cfg.PlanID == "" {
		cfg.PlanID = uuid.NewString()
	}
	if cfg.Operation == "" {
		cfg.Operation = "transfer"
	}
	return &Stream{
		cfg:     cfg,
		logger:  logger,
		state:   StateInitialized,
		changed: make(chan struct{}),
	}
}

func (s *Stream) Peer() string             { return s.cfg.Peer }
func (s *Stream) PlanID() string           { return s.cfg.PlanID }
func (s *Stream) Index() int               { return s.cfg.Index }
func (s *Stream) Operation() string        { return s.cfg.Operation }
func (s *Stream) PendingRepair() string    { return s.cfg.PendingRepair }
func (s *Stream) PreviewKind() PreviewKind { return s.cfg.Preview }

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session forward.  Final states are sticky.
func (s *Stream) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsFinal() {
		return
	}
	s.logger.Debug("[Stream #%s] state %s -> %s", s.cfg.PlanID, s.state, st)
	s.state = st
	s.notifyLocked()
}

// OnFailure registers a hook run once, off the caller's goroutine,
// when the session first fails.
func (s *Stream) OnFailure(hook func(error)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

// OnError records err.  The first error moves the session to
// StateFailed and runs the failure hooks; the returned channel closes
// when they have finished.
func (s *Stream) OnError(err error) <-chan struct{} {
	done := make(chan struct{})

	s.mu.Lock()
	s.errs = append(s.errs, err)
	first := !s.state.IsFinal()
	var hooks []func(error)
	if first {
		s.state = StateFailed
		hooks = append(hooks, s.hooks...)
	}
	s.notifyLocked()
	s.mu.Unlock()

	if first {
		s.logger.Error("[Stream #%s] session failed: %v", s.cfg.PlanID, err)
	} else {
		s.logger.Debug("[Stream #%s] further error: %v", s.cfg.PlanID, err)
	}

	go func() {
		defer close(done)
		for _, h := range hooks {
			h(err)
		}
	}()
	return done
}

// Err returns the first recorded error.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	return s.errs[0]
}

// Errors returns every recorded error in arrival order.
func (s *Stream) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

// OnTransferComplete implements TransferObserver.
func (s *Stream) OnTransferComplete(name string, size int64) {
	s.mu.Lock()
	s.transferred++
	s.bytes += size
	s.notifyLocked()
	s.mu.Unlock()
	s.logger.Verbose("[Stream #%s] sent %s (%d bytes)", s.cfg.PlanID, name, size)
}

// Transferred returns the number and total size of finished transfers.
func (s *Stream) Transferred() (int, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferred, s.bytes
}

// WaitTransfers blocks until n transfers have finished, the session has
// failed, or ctx is done.
func (s *Stream) WaitTransfers(ctx context.Context, n int) error {
	for {
		s.mu.Lock()
		done, state, changed := s.transferred >= n, s.state, s.changed
		var first error
		if len(s.errs) > 0 {
			first = s.errs[0]
		}
		s.mu.Unlock()

		if state == StateFailed {
			if first == nil {
				first = fmt.Errorf("stream session %s failed", s.cfg.PlanID)
			}
			return first
		}
		if done {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Stream) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
