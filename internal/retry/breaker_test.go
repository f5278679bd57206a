package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	ncerr "gostream/internal/errors"
)

var errRefused = errors.New("connection refused")

// fakeClock lets tests step past the cooldown without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newBreakers(cfg BreakerConfig) (*PeerBreakers, *fakeClock) {
	b := NewPeerBreakers(cfg)
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b.now = clk.now
	return b, clk
}

func fail() error { return errRefused }
func ok() error   { return nil }

func TestPeerBreakers_Defaults(t *testing.T) {
	b := NewPeerBreakers(BreakerConfig{})
	if b.cfg.Threshold != 3 || b.cfg.Cooldown != 30*time.Second || b.cfg.Trials != 1 {
		t.Errorf("defaults = %+v", b.cfg)
	}
	if got := b.State("node-a:7000"); got != StateClosed {
		t.Errorf("unknown peer state = %s, want closed", got)
	}
}

func TestPeerBreakers_OpensAfterThreshold(t *testing.T) {
	b, _ := newBreakers(BreakerConfig{Threshold: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, "node-a:7000", fail); !errors.Is(err, errRefused) {
			t.Fatalf("dial %d err = %v", i, err)
		}
	}
	if got := b.State("node-a:7000"); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	called := false
	err := b.Do(ctx, "node-a:7000", func() error { called = true; return nil })
	if !ncerr.Is(err, ncerr.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open peer should not be dialled")
	}
	if !strings.Contains(err.Error(), "node-a:7000") {
		t.Errorf("error should name the peer: %v", err)
	}
}

func TestPeerBreakers_PeersIndependent(t *testing.T) {
	b, _ := newBreakers(BreakerConfig{Threshold: 1, Cooldown: time.Minute})
	ctx := context.Background()

	b.Do(ctx, "node-a:7000", fail) //nolint:errcheck
	if err := b.Do(ctx, "node-b:7000", ok); err != nil {
		t.Fatalf("healthy peer rejected: %v", err)
	}
	if b.State("node-a:7000") != StateOpen || b.State("node-b:7000") != StateClosed {
		t.Errorf("states = %s / %s", b.State("node-a:7000"), b.State("node-b:7000"))
	}
}

func TestPeerBreakers_SuccessClearsFailures(t *testing.T) {
	b, _ := newBreakers(BreakerConfig{Threshold: 3})
	ctx := context.Background()

	b.Do(ctx, "p", fail) //nolint:errcheck
	b.Do(ctx, "p", fail) //nolint:errcheck
	b.Do(ctx, "p", ok)   //nolint:errcheck
	if got := b.Failures("p"); got != 0 {
		t.Errorf("failures = %d, want 0", got)
	}
	if got := b.State("p"); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}

func TestPeerBreakers_TrialAfterCooldown(t *testing.T) {
	var transitions []string
	b, clk := newBreakers(BreakerConfig{
		Threshold: 1,
		Cooldown:  time.Minute,
		OnStateChange: func(peer string, from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s %s->%s", peer, from, to))
		},
	})
	ctx := context.Background()

	b.Do(ctx, "p", fail) //nolint:errcheck
	clk.advance(59 * time.Second)
	if err := b.Do(ctx, "p", ok); !ncerr.Is(err, ncerr.ErrCircuitOpen) {
		t.Fatalf("before cooldown err = %v", err)
	}

	clk.advance(2 * time.Second)
	err := b.Do(ctx, "p", func() error {
		// A second dial while the trial dial is out is turned away.
		if err := b.Do(ctx, "p", ok); !ncerr.Is(err, ncerr.ErrCircuitOpen) {
			t.Errorf("concurrent trial err = %v, want ErrCircuitOpen", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("trial err = %v", err)
	}

	want := []string{"p closed->open", "p open->half-open", "p half-open->closed"}
	if strings.Join(transitions, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestPeerBreakers_FailedTrialReopens(t *testing.T) {
	b, clk := newBreakers(BreakerConfig{Threshold: 2, Cooldown: time.Second, Trials: 2})
	ctx := context.Background()

	b.Do(ctx, "p", fail) //nolint:errcheck
	b.Do(ctx, "p", fail) //nolint:errcheck
	clk.advance(time.Second)

	b.Do(ctx, "p", ok) //nolint:errcheck
	if got := b.State("p"); got != StateHalfOpen {
		t.Fatalf("after one of two trials state = %s, want half-open", got)
	}
	b.Do(ctx, "p", fail) //nolint:errcheck
	if got := b.State("p"); got != StateOpen {
		t.Errorf("after failed trial state = %s, want open", got)
	}
}

func TestPeerBreakers_CancelledDialNotCounted(t *testing.T) {
	b, _ := newBreakers(BreakerConfig{Threshold: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, "p", func() error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if got := b.State("p"); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	if got := b.Failures("p"); got != 0 {
		t.Errorf("failures = %d, want 0", got)
	}
}

func TestPeerBreakers_Reset(t *testing.T) {
	var last string
	b, _ := newBreakers(BreakerConfig{
		Threshold:     1,
		Cooldown:      time.Hour,
		OnStateChange: func(_ string, from, to State) { last = from.String() + "->" + to.String() },
	})
	ctx := context.Background()

	b.Do(ctx, "p", fail) //nolint:errcheck
	b.Reset("p")
	if last != "open->closed" {
		t.Errorf("last transition = %q", last)
	}
	if err := b.Do(ctx, "p", ok); err != nil {
		t.Errorf("dial after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
