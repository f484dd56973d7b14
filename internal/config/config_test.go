package config

import (
	"testing"
	"time"
)

func TestFromArgsRequiresMinimumArgs(t *testing.T) {
	_, err := FromArgs([]string{"host", "8333"})
	if err == nil {
		t.Fatal("expected error for too few args")
	}
}

func TestFromArgsParsesPositionalFields(t *testing.T) {
	cfg, err := FromArgs([]string{"relay.example.com", "8333", "8334", "thanks for relaying", "10.0.0.", "192.168."})
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}
	if cfg.TrustedHost != "relay.example.com" || cfg.TrustedPort != "8333" || cfg.MempoolPort != "8334" {
		t.Fatalf("unexpected positional fields: %+v", cfg)
	}
	if cfg.Sponsor != "thanks for relaying" {
		t.Fatalf("unexpected sponsor: %q", cfg.Sponsor)
	}
	if len(cfg.Whitelist) != 2 || cfg.Whitelist[0] != "10.0.0." || cfg.Whitelist[1] != "192.168." {
		t.Fatalf("unexpected whitelist: %+v", cfg.Whitelist)
	}
}

func TestFromArgsAllowsEmptyWhitelist(t *testing.T) {
	cfg, err := FromArgs([]string{"relay.example.com", "8333", "8334", ""})
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}
	if len(cfg.Whitelist) != 0 {
		t.Fatalf("expected no whitelist entries, got %+v", cfg.Whitelist)
	}
}

func TestFromArgsDefaults(t *testing.T) {
	cfg, err := FromArgs([]string{"relay.example.com", "8333", "8334", ""})
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("unexpected log defaults: %+v", cfg)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("unexpected sweep interval default: %v", cfg.SweepInterval)
	}
	if cfg.ListenAddr != ":8336" {
		t.Fatalf("unexpected listen addr default: %v", cfg.ListenAddr)
	}
}

func TestFromArgsEnvOverride(t *testing.T) {
	t.Setenv("RELAYD_LOG_LEVEL", "debug")
	t.Setenv("RELAYD_LOG_FORMAT", "json")
	t.Setenv("RELAYD_METRICS_LISTEN", ":9999")

	cfg, err := FromArgs([]string{"relay.example.com", "8333", "8334", ""})
	if err != nil {
		t.Fatalf("FromArgs: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.MetricsListen != ":9999" {
		t.Fatalf("env overrides did not apply: %+v", cfg)
	}
}
