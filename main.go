// Package main is the entry point for the relayd block/transaction relay.
package main

import (
	"fmt"
	"os"

	"relaynet.dev/relayd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if cmd.IsExitError(err) {
			os.Exit(255) // spec.md §6 "exit code -1", as an unsigned process exit status
		}
		os.Exit(1)
	}
}
