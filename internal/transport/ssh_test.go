package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
)

// fakeTunnel hands out pipes and can be killed.
type fakeTunnel struct {
	mu       sync.Mutex
	alive    bool
	connects int
	closes   int
	failErr  error
}

func (f *fakeTunnel) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.failErr != nil {
		return f.failErr
	}
	f.alive = true
	return nil
}

func (f *fakeTunnel) Dial(context.Context, string, string) (net.Conn, error) {
	a, b := net.Pipe()
	b.Close()
	return a, nil
}

func (f *fakeTunnel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.alive = false
	return nil
}

func (f *fakeTunnel) IsAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTunnel) kill() {
	f.mu.Lock()
	f.alive = false
	f.mu.Unlock()
}

func TestSSHDialer_LazyConnectAndReconnect(t *testing.T) {
	ft := &fakeTunnel{}
	d := NewTunnelDialer(ft, "stream@gw:22", quietLogger())
	ctx := context.Background()

	if ft.connects != 0 {
		t.Fatal("tunnel connected before first Dial")
	}
	for i := 0; i < 3; i++ {
		c, err := d.Dial(ctx, "tcp", "10.0.0.2:7000")
		if err != nil {
			t.Fatalf("Dial %d: %v", i, err)
		}
		c.Close()
	}
	if ft.connects != 1 {
		t.Errorf("connects = %d, want 1", ft.connects)
	}

	ft.kill()
	c, err := d.Dial(ctx, "tcp", "10.0.0.2:7000")
	if err != nil {
		t.Fatalf("Dial after tunnel loss: %v", err)
	}
	c.Close()
	if ft.connects != 2 || ft.closes != 1 {
		t.Errorf("connects = %d closes = %d, want 2 and 1", ft.connects, ft.closes)
	}

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if ft.IsAlive() {
		t.Error("tunnel alive after Close")
	}
}

func TestSSHDialer_ConnectError(t *testing.T) {
	boom := errors.New("handshake failed")
	d := NewTunnelDialer(&fakeTunnel{failErr: boom}, "gw", quietLogger())
	if _, err := d.Dial(context.Background(), "tcp", "10.0.0.2:7000"); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped handshake error", err)
	}
}
