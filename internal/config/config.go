// Package config builds the relay's Config from its fixed positional CLI
// argv and layers ambient (non-business) overrides on top via viper's
// environment binding.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is spec.md §6's fixed positional CLI, already parsed, plus the
// ambient knobs SPEC_FULL.md §A.2 layers on top of it.
type Config struct {
	// Business args, positional, per spec.md §6.
	TrustedHost string
	TrustedPort string
	MempoolPort string
	Sponsor     string
	Whitelist   []string

	ListenAddr string

	// Ambient, RELAYD_-prefixed env overrides only, never settable from
	// argv, since spec.md's CLI has no flags.
	LogLevel      string
	LogFormat     string
	LogFile       string
	MetricsListen string
	MetricsPath   string
	SweepInterval time.Duration
}

// minArgs is trusted_host, trusted_port, mempool_port, sponsor, the
// whitelist prefixes are optional and variadic (spec.md §6).
const minArgs = 4

// FromArgs parses spec.md §6's positional CLI:
//
//	relayd trusted_host trusted_port mempool_port "Sponsor String" [whitelist_prefix ...]
//
// and applies ambient defaults, then RELAYD_-prefixed environment overrides.
// An argv count below minArgs is the documented exit-code-(-1) condition,
// reported here as a plain error for the caller to act on.
func FromArgs(args []string) (*Config, error) {
	if len(args) < minArgs {
		return nil, fmt.Errorf("config: expected at least %d arguments (trusted_host trusted_port mempool_port sponsor [whitelist_prefix ...]), got %d", minArgs, len(args))
	}

	cfg := &Config{
		TrustedHost: args[0],
		TrustedPort: args[1],
		MempoolPort: args[2],
		Sponsor:     args[3],
		Whitelist:   append([]string{}, args[4:]...),
		ListenAddr:  ":8336",

		LogLevel:      "info",
		LogFormat:     "text",
		MetricsListen: ":9090",
		MetricsPath:   "/metrics",
		SweepInterval: 30 * time.Second,
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides reads the ambient knobs (never the positional business
// args) from RELAYD_-prefixed environment variables via viper.AutomaticEnv,
// per SPEC_FULL.md §A.2.
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("RELAYD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{"log_level", "log_format", "log_file", "metrics_listen", "metrics_path", "listen_addr", "sweep_interval"} {
		_ = v.BindEnv(key)
	}

	if s := v.GetString("log_level"); s != "" {
		cfg.LogLevel = s
	}
	if s := v.GetString("log_format"); s != "" {
		cfg.LogFormat = s
	}
	if s := v.GetString("log_file"); s != "" {
		cfg.LogFile = s
	}
	if s := v.GetString("metrics_listen"); s != "" {
		cfg.MetricsListen = s
	}
	if s := v.GetString("metrics_path"); s != "" {
		cfg.MetricsPath = s
	}
	if s := v.GetString("listen_addr"); s != "" {
		cfg.ListenAddr = s
	}
	if d := v.GetDuration("sweep_interval"); d > 0 {
		cfg.SweepInterval = d
	}
}
