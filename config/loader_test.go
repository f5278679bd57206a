package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// noFile points the loader at an empty directory so no stray
// gostream.yaml is picked up.
func noFile(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) }) //nolint:errcheck
	t.Setenv("HOME", t.TempDir())
}

func TestLoad_NoSources(t *testing.T) {
	noFile(t)
	cfg := Default()
	if err := Load(cfg, "", nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("config changed without sources: %+v", cfg)
	}
}

func TestLoad_Env(t *testing.T) {
	noFile(t)
	t.Setenv("GOSTREAM_TRANSPORT", "quic")
	t.Setenv("GOSTREAM_PORT", "7001")
	t.Setenv("GOSTREAM_KEEP_ALIVE", "5s")
	t.Setenv("GOSTREAM_CLOSE_WAIT", "1m")
	t.Setenv("GOSTREAM_PARALLEL", "3")
	t.Setenv("GOSTREAM_COMPRESS", "true")
	t.Setenv("GOSTREAM_PREVIEW", "all")
	t.Setenv("GOSTREAM_SSH_AGENT", "1")
	t.Setenv("GOSTREAM_VERBOSE", "2")

	cfg := Default()
	if err := Load(cfg, "", nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != "quic" {
		t.Errorf("Transport = %q", cfg.Transport)
	}
	if cfg.LocalPort != 7001 {
		t.Errorf("LocalPort = %d", cfg.LocalPort)
	}
	if cfg.KeepAlivePeriod != 5*time.Second || cfg.CloseWait != time.Minute {
		t.Errorf("KeepAlivePeriod = %v, CloseWait = %v", cfg.KeepAlivePeriod, cfg.CloseWait)
	}
	if cfg.MaxParallelTransfers != 3 || !cfg.Compress || cfg.Preview != "all" || !cfg.UseSSHAgent || cfg.Verbose != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	noFile(t)
	path := filepath.Join(t.TempDir(), "gs.yaml")
	body := "transport: quic\nparallel: 8\nkeep-alive: 10s\noutput: /var/lib/streams\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := Load(cfg, path, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != "quic" || cfg.MaxParallelTransfers != 8 ||
		cfg.KeepAlivePeriod != 10*time.Second || cfg.OutputDir != "/var/lib/streams" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ConfigFile != path {
		t.Errorf("ConfigFile = %q, want %q", cfg.ConfigFile, path)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	noFile(t)
	path := filepath.Join(t.TempDir(), "gs.yaml")
	if err := os.WriteFile(path, []byte("parallel: 8\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOSTREAM_PARALLEL", "2")

	cfg := Default()
	if err := Load(cfg, path, nil); err != nil {
		t.Fatal(err)
	}
	if cfg.MaxParallelTransfers != 2 {
		t.Errorf("MaxParallelTransfers = %d, want 2", cfg.MaxParallelTransfers)
	}
}

func TestLoad_ExplicitFlagsWin(t *testing.T) {
	noFile(t)
	t.Setenv("GOSTREAM_TRANSPORT", "quic")
	t.Setenv("GOSTREAM_PARALLEL", "2")

	cfg := Default()
	cfg.Transport = "tcp"
	explicit := func(key string) bool { return key == KeyTransport }
	if err := Load(cfg, "", explicit); err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != "tcp" {
		t.Errorf("Transport = %q, flag should win", cfg.Transport)
	}
	if cfg.MaxParallelTransfers != 2 {
		t.Errorf("MaxParallelTransfers = %d, want 2", cfg.MaxParallelTransfers)
	}
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	noFile(t)
	path := filepath.Join(t.TempDir(), "env.yaml")
	if err := os.WriteFile(path, []byte("operation: repair\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOSTREAM_CONFIG", path)

	cfg := Default()
	if err := Load(cfg, "", nil); err != nil {
		t.Fatal(err)
	}
	if cfg.Operation != "repair" {
		t.Errorf("Operation = %q", cfg.Operation)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	noFile(t)
	err := Load(Default(), filepath.Join(t.TempDir(), "nope.yaml"), nil)
	if err == nil {
		t.Fatal("expected error for a missing --config file")
	}
}
