// Command bitchat is an operator CLI for the engine: generating identity
// keys and running small end-to-end demos over the in-process and
// WebSocket transports. It is not a production client (external
// collaborator territory, per the engine's own scope notes).
//
// SPDX-License-Identifier: LGPL-3.0-or-later
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bitchat-mesh/bitchat/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "bitchat",
	Short: "bitchat operator CLI",
	Long: `bitchat is an operator CLI around the BitChat engine: generating
Noise static identity keys and running small demos that drive the engine
over its in-process loopback and local WebSocket transports.`,
}

var logLevel string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "runtime log level: debug, info, warn, error")

	// Subcommands register themselves in their own files:
	// - identity.go: identityCmd, identityGenerateCmd
	// - demo_run.go: demoCmd, demoRunCmd
	// - demo_ws.go: demoWSCmd
	// - invite.go: inviteCmd, inviteCreateCmd, inviteAcceptCmd
}

// newLogger builds a runtime.Builder logger from the --log-level flag,
// writing structured JSON to stderr so stdout stays clean for demo output.
func newLogger() *logger.StructuredLogger {
	level := logger.InfoLevel
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		level = logger.DebugLevel
	case "WARN":
		level = logger.WarnLevel
	case "ERROR":
		level = logger.ErrorLevel
	}
	return logger.New(os.Stderr, level)
}
