// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fitzgen/wasm-bindgen/internal/daemon"
)

var (
	daemonPort  string
	daemonToken string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Serve rewrites over JSON-RPC",
	Long: `Run a local JSON-RPC server exposing the rewrite pass, so watch tasks and
editor integrations avoid re-spawning the CLI for every build.

The rewriter.Rewrite method takes {"wasm_base64": ...} and returns the
rewritten module, the glue JS and the run statistics.

Examples:
  wasm-bindgen daemon --port 7878
  wasm-bindgen daemon --port 7878 --auth-token secret`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		srv := daemon.NewServer(daemon.Config{Port: daemonPort, AuthToken: daemonToken})
		return srv.ListenAndServe(ctx, daemonPort)
	},
}

func init() {
	daemonCmd.Flags().StringVar(&daemonPort, "port", "7878", "Port to listen on")
	daemonCmd.Flags().StringVar(&daemonToken, "auth-token", "", "Require this bearer token on /rpc")
	rootCmd.AddCommand(daemonCmd)
}
