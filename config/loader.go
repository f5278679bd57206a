package config

// loader.go - configuration loading from a config file and environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (GOSTREAM_*)
//   3. Config file  (--config, GOSTREAM_CONFIG, or ./gostream.yaml)
//   4. Defaults   (defaults.go)

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	ncerr "gostream/internal/errors"
)

// Keys match the long CLI flag names.  Environment variables use the
// GOSTREAM_ prefix with '-' replaced by '_', e.g. GOSTREAM_KEEP_ALIVE.
const (
	KeyTransport       = "transport"
	KeyPort            = "port"
	KeyTimeout         = "timeout"
	KeyTunnel          = "tunnel"
	KeySSHKey          = "ssh-key"
	KeySSHPassword     = "ssh-password"
	KeySSHAgent        = "ssh-agent"
	KeyStrictHostKey   = "strict-hostkey"
	KeyKnownHosts      = "known-hosts"
	KeyOutput          = "output"
	KeyOperation       = "operation"
	KeyParallel        = "parallel"
	KeyKeepAlive       = "keep-alive"
	KeyCloseWait       = "close-wait"
	KeyPreview         = "preview"
	KeyCompress        = "compress"
	KeyProtocolVersion = "protocol-version"
	KeyVerbose         = "verbose"
	KeyLogFile         = "log-file"
)

// Load overlays the config file at path (searched for when empty) and
// GOSTREAM_* environment variables onto cfg.  Keys for which explicit
// reports true are left alone so that CLI flags win; explicit may be
// nil.  A missing config file is not an error unless path names one.
func Load(cfg *Config, path string, explicit func(key string) bool) error {
	v := viper.New()
	v.SetEnvPrefix("GOSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("GOSTREAM_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gostream")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "gostream"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return &ncerr.ConfigError{Field: "config", Value: path, Message: err.Error()}
		}
	} else {
		cfg.ConfigFile = v.ConfigFileUsed()
	}

	if explicit == nil {
		explicit = func(string) bool { return false }
	}
	set := func(key string, apply func()) {
		if !explicit(key) && v.IsSet(key) {
			apply()
		}
	}

	set(KeyTransport, func() { cfg.Transport = v.GetString(KeyTransport) })
	set(KeyPort, func() { cfg.LocalPort = v.GetInt(KeyPort) })
	set(KeyTimeout, func() { cfg.Timeout = v.GetDuration(KeyTimeout) })

	set(KeyTunnel, func() { cfg.TunnelSpec = v.GetString(KeyTunnel) })
	set(KeySSHKey, func() { cfg.SSHKeyPath = v.GetString(KeySSHKey) })
	set(KeySSHPassword, func() { cfg.SSHPassword = v.GetBool(KeySSHPassword) })
	set(KeySSHAgent, func() { cfg.UseSSHAgent = v.GetBool(KeySSHAgent) })
	set(KeyStrictHostKey, func() { cfg.StrictHostKey = v.GetBool(KeyStrictHostKey) })
	set(KeyKnownHosts, func() { cfg.KnownHostsPath = v.GetString(KeyKnownHosts) })

	set(KeyOutput, func() { cfg.OutputDir = v.GetString(KeyOutput) })
	set(KeyOperation, func() { cfg.Operation = v.GetString(KeyOperation) })
	set(KeyParallel, func() { cfg.MaxParallelTransfers = v.GetInt(KeyParallel) })
	set(KeyKeepAlive, func() { cfg.KeepAlivePeriod = v.GetDuration(KeyKeepAlive) })
	set(KeyCloseWait, func() { cfg.CloseWait = v.GetDuration(KeyCloseWait) })
	set(KeyPreview, func() { cfg.Preview = v.GetString(KeyPreview) })
	set(KeyCompress, func() { cfg.Compress = v.GetBool(KeyCompress) })
	set(KeyProtocolVersion, func() { cfg.ProtocolVersion = v.GetInt(KeyProtocolVersion) })

	set(KeyVerbose, func() { cfg.Verbose = v.GetInt(KeyVerbose) })
	set(KeyLogFile, func() { cfg.LogFile = v.GetString(KeyLogFile) })

	if cfg.Timeout < 0 {
		return &ncerr.ConfigError{Field: KeyTimeout, Value: cfg.Timeout, Message: "must not be negative"}
	}
	return nil
}
