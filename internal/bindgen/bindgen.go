// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

// Package bindgen runs the post-link pipeline over a compiled module: decode,
// closure rewrite, re-encode, plus the generated JS glue fragment.
package bindgen

import (
	"context"

	"github.com/fitzgen/wasm-bindgen/internal/closures"
	"github.com/fitzgen/wasm-bindgen/internal/glue"
	"github.com/fitzgen/wasm-bindgen/internal/wasm"
)

// Result is the output of one Process run.
type Result struct {
	Wasm  []byte
	Glue  string
	Stats closures.Stats
}

// Process rewrites the closure call sites of module and returns the new
// binary together with the glue JS. A module that never creates closures
// round-trips unchanged with empty glue.
func Process(ctx context.Context, module []byte) (*Result, error) {
	mod, err := wasm.Decode(module)
	if err != nil {
		return nil, err
	}
	out := glue.NewOutput()
	stats, err := closures.Rewrite(ctx, mod, out)
	if err != nil {
		return nil, err
	}
	encoded, err := mod.Encode()
	if err != nil {
		return nil, err
	}
	return &Result{Wasm: encoded, Glue: out.String(), Stats: stats}, nil
}
