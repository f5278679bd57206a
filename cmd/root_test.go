package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gostream/util"
)

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	// Execute with --version should not return an error (it prints and exits).
	err := Execute(context.Background(), []string{"--version"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestExecute_Help verifies --help (and no args) returns without error.
func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {}} {
		name := "no-args"
		if len(args) > 0 {
			name = args[0]
		}
		t.Run(name, func(t *testing.T) {
			err := Execute(context.Background(), args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// TestExecute_DryRun verifies --dry-run validates and exits cleanly.
func TestExecute_DryRun(t *testing.T) {
	for _, args := range [][]string{
		{"-l", "-p", "7000", "--dry-run"},
		{"10.0.0.2:7000", "a.db", "--dry-run"},
		{"-j", "4", "-z", "--transport", "quic", "--keep-alive", "5s", "peer:7000", "a.db", "--dry-run"},
		{"-T", "ops@bastion", "db-internal:7000", "a.db", "--dry-run"},
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			if err := Execute(context.Background(), args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// TestExecute_DryRunInvalid verifies --dry-run still catches bad configs.
func TestExecute_DryRunInvalid(t *testing.T) {
	for _, args := range [][]string{
		{"-l", "--dry-run"},                                  // listen without -p
		{"10.0.0.2:7000", "--dry-run"},                       // nothing to send
		{"10.0.0.2", "a.db", "--dry-run"},                    // no port
		{"--preview", "some", "peer:1", "a.db", "--dry-run"}, // bad preview
		{"-l", "-p", "7000", "extra", "--dry-run"},           // stray argument
	} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			if err := Execute(context.Background(), args); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	err := Execute(context.Background(), []string{"--nonexistent-flag"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

// TestExecute_EnvOverlay verifies GOSTREAM_* variables reach the
// config and lose against explicit flags.
func TestExecute_EnvOverlay(t *testing.T) {
	t.Setenv("GOSTREAM_TRANSPORT", "sctp")
	err := Execute(context.Background(), []string{"peer:7000", "a.db", "--dry-run"})
	if err == nil || !strings.Contains(err.Error(), "sctp") {
		t.Fatalf("env transport not applied: %v", err)
	}

	err = Execute(context.Background(), []string{"--transport", "tcp", "peer:7000", "a.db", "--dry-run"})
	if err != nil {
		t.Fatalf("flag should override env: %v", err)
	}
}

// TestExecute_SendAndReceive runs both modes against each other over
// local TCP.
func TestExecute_SendAndReceive(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	src, out := t.TempDir(), t.TempDir()

	files := map[string]string{
		"a.db": strings.Repeat("alpha", 10000),
		"b.db": "beta",
	}
	var paths []string
	for name, body := range files {
		p := filepath.Join(src, name)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- Execute(ctx, []string{"-l", "-p", fmt.Sprint(port), "-o", out})
	}()

	args := append([]string{"-z", "-j", "2", fmt.Sprintf("127.0.0.1:%d", port)}, paths...)
	if err := Execute(context.Background(), args); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for name, want := range files {
		for {
			got, err := os.ReadFile(filepath.Join(out, name))
			if err == nil && string(got) == want {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("%s not received (err=%v, %d bytes)", name, err, len(got))
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	cancel()
	select {
	case err := <-listenErr:
		if err != nil {
			t.Errorf("listen: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("listener did not stop")
	}
}
