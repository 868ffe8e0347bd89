// Package config resolves the server's runtime configuration from
// command-line flags and environment variables via viper: a flag set
// explicitly on the command line wins, otherwise a KURPOD_-prefixed
// environment variable overrides the matching flag's default value.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"kurpod/internal/log"
)

// Config is the fully resolved set of values the server needs to
// start: which blob(s) it serves, where it listens, and how it logs.
type Config struct {
	Port int

	// BlobDir and BlobFile are mutually exclusive: exactly one selects
	// the registry's mode.
	BlobDir  string
	BlobFile string

	AllowedOrigins []string
	LogLevel       log.Level

	SessionIdleTimeout     time.Duration
	SessionAbsoluteTimeout time.Duration
}

const envPrefix = "KURPOD"

// Load binds flags and KURPOD_-prefixed environment variables (an
// environment variable replaces a flag's default but not a value set
// explicitly on the command line), and validates the result. flags is the command's own flag set
// (populated by cobra before Load runs).
func Load(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	v.SetDefault("port", 8080)
	v.SetDefault("log-level", "info")
	v.SetDefault("session-idle-timeout", 15*time.Minute)
	v.SetDefault("session-absolute-timeout", 2*time.Hour)

	cfg := Config{
		Port:                   v.GetInt("port"),
		BlobDir:                v.GetString("blob-dir"),
		BlobFile:               v.GetString("blob-file"),
		AllowedOrigins:         v.GetStringSlice("allowed-origins"),
		SessionIdleTimeout:     v.GetDuration("session-idle-timeout"),
		SessionAbsoluteTimeout: v.GetDuration("session-absolute-timeout"),
	}

	level, err := parseLevel(v.GetString("log-level"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BlobDir == "" && c.BlobFile == "" {
		return fmt.Errorf("exactly one of --blob-dir or --blob-file is required")
	}
	if c.BlobDir != "" && c.BlobFile != "" {
		return fmt.Errorf("--blob-dir and --blob-file are mutually exclusive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

func parseLevel(s string) (log.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error":
		return log.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
