package config

import (
	"errors"
	"strings"
	"testing"

	ncerr "gostream/internal/errors"
)

// TestValidate_ErrorMessages verifies that Validate returns actionable
// error messages with hints.
func TestValidate_ErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantSub string // substring expected in error
	}{
		{
			name:    "listen no port has hint",
			cfg:     Config{Listen: true, Transport: TransportTCP},
			wantSub: "hint:",
		},
		{
			name:    "missing peer has hint",
			cfg:     Config{Transport: TransportTCP},
			wantSub: "hint:",
		},
		{
			name:    "unknown transport names it",
			cfg:     Config{Transport: "sctp"},
			wantSub: "--transport=sctp",
		},
		{
			name:    "ssh transport needs tunnel",
			cfg:     Config{Transport: TransportSSH, Host: "h", Port: 1, Files: []string{"f"}},
			wantSub: "-T user@bastion",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantSub)
			}
			var ce *ncerr.ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("error %T is not a ConfigError", err)
			}
		})
	}
}

// TestParsePeer_Fuzz covers edge-case peer specs.
func TestParsePeer_Fuzz(t *testing.T) {
	edgeCases := []string{
		"", ":", "::", "a:1", "a:65535", "a:65536", "[]:1", "[::1]:", "a:-1", "a:1:2",
	}
	for _, spec := range edgeCases {
		t.Run(spec, func(t *testing.T) {
			// Must not panic.
			host, port, err := ParsePeer(spec)
			if err == nil && (host == "" || port < 1 || port > 65535) {
				t.Errorf("accepted %q as (%q, %d)", spec, host, port)
			}
		})
	}
}
