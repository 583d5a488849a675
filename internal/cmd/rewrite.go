// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fitzgen/wasm-bindgen/internal/bindgen"
	"github.com/fitzgen/wasm-bindgen/internal/cache"
	"github.com/fitzgen/wasm-bindgen/internal/config"
	"github.com/fitzgen/wasm-bindgen/internal/telemetry"
)

var (
	rewriteOutput   string
	rewriteJSOutput string
	rewriteUseCache bool
	rewriteTrace    bool
)

// defaultTraceEndpoint is where --trace sends spans when no collector is
// configured.
const defaultTraceEndpoint = "localhost:4318"

var rewriteCmd = &cobra.Command{
	Use:   "rewrite <wasm-file>",
	Short: "Rewrite closure call sites in a compiled WASM binary",
	Long: `Run the closure rewrite pass over a compiled module and emit the rewritten
binary together with the generated JS glue fragment.

A module that never creates closures passes through byte-identical.

Without -o, the rewritten module is not written and only statistics are
printed; --js still writes the glue JS.

Examples:
  wasm-bindgen rewrite app.wasm -o app.post.wasm --js app.glue.js
  wasm-bindgen rewrite app.wasm --cache --trace
  wasm-bindgen rewrite app.wasm`,
	Args: cobra.ExactArgs(1),
	RunE: rewriteExec,
}

func rewriteExec(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	applyTraceFlag(cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry,
		ExporterURL: cfg.TelemetryURL,
		ServiceName: "wasm-bindgen",
		Version:     Version,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer shutdown()

	module, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading WASM file: %w", err)
	}

	ctx, span := telemetry.StartSpan(ctx, "rewrite")
	defer span.End()
	span.SetAttributes(attribute.Int("wasm.input_bytes", len(module)))

	res, fromCache, err := processMaybeCached(ctx, cfg, module)
	if err != nil {
		return err
	}

	printStats(module, res, fromCache)

	if rewriteOutput != "" {
		if err := os.WriteFile(rewriteOutput, res.Wasm, 0o644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
	}
	if rewriteJSOutput != "" {
		if err := os.WriteFile(rewriteJSOutput, []byte(res.Glue), 0o644); err != nil {
			return fmt.Errorf("writing glue: %w", err)
		}
	}
	return nil
}

// applyTraceFlag switches telemetry on for this run when --trace is set,
// falling back to the default collector endpoint if none is configured.
func applyTraceFlag(cfg *config.Config) {
	if !rewriteTrace {
		return
	}
	cfg.Telemetry = true
	if cfg.TelemetryURL == "" {
		cfg.TelemetryURL = defaultTraceEndpoint
	}
}

func processMaybeCached(ctx context.Context, cfg *config.Config, module []byte) (*bindgen.Result, bool, error) {
	if !rewriteUseCache {
		res, err := bindgen.Process(ctx, module)
		return res, false, err
	}

	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		return nil, false, err
	}
	defer store.Close()

	key := cache.Key(module, Version)
	if entry, ok, err := store.Get(key); err == nil && ok {
		_, span := telemetry.StartSpan(ctx, "cache.hit")
		span.End()
		return &bindgen.Result{Wasm: entry.Wasm, Glue: entry.Glue}, true, nil
	}

	res, err := bindgen.Process(ctx, module)
	if err != nil {
		return nil, false, err
	}
	if err := store.Put(key, &cache.Entry{Wasm: res.Wasm, Glue: res.Glue}); err != nil {
		return nil, false, err
	}
	if err := store.Trim(cache.DefaultMaxBytes); err != nil {
		return nil, false, err
	}
	return res, false, nil
}

func printStats(module []byte, res *bindgen.Result, fromCache bool) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	fmt.Printf("%s %d\n", bold("Closures rewritten:"), res.Stats.Rewritten)
	fmt.Printf("%s %d\n", bold("Table slots cleared:"), res.Stats.SlotsCleared)
	fmt.Printf("%s %d bytes in, %d bytes out\n", bold("Module size:"), len(module), len(res.Wasm))
	if glueLines := strings.Count(res.Glue, "\n"); glueLines > 0 {
		fmt.Printf("%s %d lines\n", bold("Glue JS:"), glueLines)
	}
	if fromCache {
		fmt.Println(green("Served from cache"))
	}
}

func init() {
	rewriteCmd.Flags().StringVarP(&rewriteOutput, "output", "o", "", "Output file path (omit for dry run)")
	rewriteCmd.Flags().StringVar(&rewriteJSOutput, "js", "", "Glue JS output file path")
	rewriteCmd.Flags().BoolVar(&rewriteUseCache, "cache", false, "Use the artifact cache")
	rewriteCmd.Flags().BoolVar(&rewriteTrace, "trace", false,
		"Export OpenTelemetry spans for this run (collector from config, default "+defaultTraceEndpoint+")")
	rootCmd.AddCommand(rewriteCmd)
}
