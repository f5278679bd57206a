package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	ncerr "gostream/internal/errors"
)

// State is the dial health of one peer.
type State int

const (
	// StateClosed is normal operation; dials pass through.
	StateClosed State = iota
	// StateOpen means the peer keeps refusing; dials fail fast.
	StateOpen
	// StateHalfOpen lets one trial dial through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures [PeerBreakers].
type BreakerConfig struct {
	// Threshold is the number of consecutive failed dials that opens a
	// peer (default 3).
	Threshold int
	// Cooldown is how long an open peer rejects dials before a trial dial is
	// allowed (default 30s).
	Cooldown time.Duration
	// Trials is the number of successful trial dials that close a
	// half-open peer (default 1).
	Trials int
	// OnStateChange runs under the registry lock on every transition.
	OnStateChange func(peer string, from, to State)
}

type peerHealth struct {
	state     State
	failures  int
	successes int
	openedAt  time.Time
	trialing  bool
}

// PeerBreakers tracks dial health per peer.  Every sender in the process
// that dials the same peer through one factory shares its entry, so a
// dead peer is detected once rather than per session.
type PeerBreakers struct {
	cfg BreakerConfig
	now func() time.Time

	mu    sync.Mutex
	peers map[string]*peerHealth
}

// NewPeerBreakers returns an empty registry.
func NewPeerBreakers(cfg BreakerConfig) *PeerBreakers {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Trials <= 0 {
		cfg.Trials = 1
	}
	return &PeerBreakers{cfg: cfg, now: time.Now, peers: make(map[string]*peerHealth)}
}

// Do runs dial unless peer is open.  A failure caused by ctx being done
// is not held against the peer.
func (b *PeerBreakers) Do(ctx context.Context, peer string, dial func() error) error {
	if err := b.allow(peer); err != nil {
		return err
	}
	err := dial()
	b.record(peer, err, ctx.Err() != nil)
	return err
}

// State returns the current state of peer.
func (b *PeerBreakers) State(peer string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.peers[peer]; ok {
		return h.state
	}
	return StateClosed
}

// Failures returns the consecutive failed dials recorded for peer.
func (b *PeerBreakers) Failures(peer string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.peers[peer]; ok {
		return h.failures
	}
	return 0
}

// Reset forgets everything known about peer.
func (b *PeerBreakers) Reset(peer string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.peers[peer]; ok {
		b.transition(peer, h, StateClosed)
		delete(b.peers, peer)
	}
}

func (b *PeerBreakers) health(peer string) *peerHealth {
	h, ok := b.peers[peer]
	if !ok {
		h = &peerHealth{}
		b.peers[peer] = h
	}
	return h
}

func (b *PeerBreakers) allow(peer string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.health(peer)
	if h.state == StateOpen {
		elapsed := b.now().Sub(h.openedAt)
		if elapsed < b.cfg.Cooldown {
			return fmt.Errorf("%w: %s: %d consecutive failures, retry in %v",
				ncerr.ErrCircuitOpen, peer, h.failures, (b.cfg.Cooldown - elapsed).Truncate(time.Second))
		}
		b.transition(peer, h, StateHalfOpen)
	}
	if h.state == StateHalfOpen {
		if h.trialing {
			return fmt.Errorf("%w: %s: trial dial in flight", ncerr.ErrCircuitOpen, peer)
		}
		h.trialing = true
	}
	return nil
}

func (b *PeerBreakers) record(peer string, err error, cancelled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.health(peer)
	h.trialing = false
	if err != nil {
		if cancelled {
			return
		}
		h.failures++
		h.successes = 0
		if h.state == StateHalfOpen || h.failures >= b.cfg.Threshold {
			h.openedAt = b.now()
			b.transition(peer, h, StateOpen)
		}
		return
	}

	h.failures = 0
	if h.state == StateHalfOpen {
		h.successes++
		if h.successes >= b.cfg.Trials {
			h.successes = 0
			b.transition(peer, h, StateClosed)
		}
	}
}

func (b *PeerBreakers) transition(peer string, h *peerHealth, to State) {
	from := h.state
	if from == to {
		return
	}
	h.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(peer, from, to)
	}
}
