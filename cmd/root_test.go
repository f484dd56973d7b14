package cmd

import (
	"errors"
	"testing"
)

func TestRootCmdArgsRejectsTooFewArgs(t *testing.T) {
	if err := rootCmd.Args(rootCmd, []string{"host", "8333", "8334"}); err == nil {
		t.Fatal("expected error for fewer than 4 args")
	}
}

func TestRootCmdArgsAcceptsMinimumArgs(t *testing.T) {
	if err := rootCmd.Args(rootCmd, []string{"host", "8333", "8334", ""}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRootCmdArgsAcceptsWhitelistPrefixes(t *testing.T) {
	if err := rootCmd.Args(rootCmd, []string{"host", "8333", "8334", "sponsor", "10.0.0.", "192.168."}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIsExitError(t *testing.T) {
	if !IsExitError(exitError{errors.New("boom")}) {
		t.Fatal("expected exitError to be recognized")
	}
	if IsExitError(errors.New("plain error")) {
		t.Fatal("plain error should not be recognized as exitError")
	}
}
