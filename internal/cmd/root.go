// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/fitzgen/wasm-bindgen/internal/config"
	"github.com/fitzgen/wasm-bindgen/internal/logger"
	"github.com/fitzgen/wasm-bindgen/internal/updater"
)

// Version is injected at build time via -ldflags.
var Version = "0.1.0"

var verboseFlag bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wasm-bindgen",
	Short: "Post-link rewriter for wasm modules with host-language closures",
	Long: `wasm-bindgen rewrites a compiled wasm module so that closures created on
the wasm side become callable JS functions on the host side.

The rewriter locates every call to the describe-closure placeholder import,
recovers the closure's type by executing its descriptor subprogram under an
abstract interpreter, generates a JS factory shim per call site, and retargets
the calls at fresh imports backed by those shims. Function table entries that
only served descriptor evaluation are cleared; a later dead-code elimination
pass removes the code they referenced.

Examples:
  wasm-bindgen rewrite app.wasm -o app.post.wasm --js app.glue.js
  wasm-bindgen rewrite app.wasm --cache
  wasm-bindgen daemon --port 7878
  wasm-bindgen cache status`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			cfg = config.DefaultConfig()
		}
		level := parseLevel(cfg.LogLevel)
		if verboseFlag {
			level = slog.LevelDebug
		}
		logger.Init(level, os.Stderr)

		if cfg.UpdateCheck {
			go updater.NewChecker(Version).CheckForUpdates()
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
}
