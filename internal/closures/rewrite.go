// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

// Package closures rewrites modules that create host-language closures
// through the describe-closure placeholder import. Every call to the
// placeholder is located, the descriptor subprogram reachable from it is
// executed under an abstract interpreter, and the call is retargeted at a
// freshly generated JS factory shim matching the decoded descriptor. Table
// slots consumed during interpretation are cleared last.
package closures

import (
	"context"
	"sort"

	"github.com/fitzgen/wasm-bindgen/internal/descriptor"
	"github.com/fitzgen/wasm-bindgen/internal/errors"
	"github.com/fitzgen/wasm-bindgen/internal/glue"
	"github.com/fitzgen/wasm-bindgen/internal/logger"
	"github.com/fitzgen/wasm-bindgen/internal/wasm"
)

// Well-known placeholder import names emitted by the front-end.
const (
	PlaceholderModule   = "__wbindgen_placeholder__"
	DescribeClosureName = "__wbindgen_describe_closure"
	DescribeName        = "__wbindgen_describe"
)

// ClosureCall is one discovered describe-closure call site.
type ClosureCall struct {
	// Func is the enclosing local function.
	Func wasm.FuncID
	// Call is the expression identifier of the describe-closure call.
	Call int
	// Descriptor is filled in by interpretation.
	Descriptor *descriptor.Closure
}

// Stats summarizes a rewrite.
type Stats struct {
	Rewritten    int
	SlotsCleared int
	ImportsAdded int
}

// rewriteContext threads the cross-cutting state between the scanner,
// interpreter and splicer. Nothing lives in package state.
type rewriteContext struct {
	mod     *wasm.Module
	out     *glue.Output
	removal map[uint32]struct{}
}

// Rewrite transforms mod in place and appends the generated factory shims to
// out. A module without the describe-closure import is returned untouched.
// Any failure is fatal and may leave the module partially mutated; callers
// must discard it.
func Rewrite(ctx context.Context, mod *wasm.Module, out *glue.Output) (Stats, error) {
	describeClosure, ok := mod.ImportedFuncID(PlaceholderModule, DescribeClosureName)
	if !ok {
		return Stats{}, nil
	}

	hits, err := scan(ctx, mod, describeClosure)
	if err != nil {
		return Stats{}, err
	}
	if len(hits) == 0 {
		return Stats{}, nil
	}
	if !mod.HasFunctionTable() {
		return Stats{}, errors.WrapCollaborator("module creates closures but has no function table")
	}
	logger.Logger.Debug("found describe-closure calls", "count", len(hits))

	rc := &rewriteContext{mod: mod, out: out, removal: make(map[uint32]struct{})}
	for _, hit := range hits {
		words, err := interpretDescriptor(ctx, mod, hit.Func, describeClosure, rc.removal)
		if err != nil {
			return Stats{}, err
		}
		c, err := descriptor.Decode(words)
		if err != nil {
			return Stats{}, err
		}
		hit.Descriptor = c
	}

	if err := spliceAll(ctx, rc, hits); err != nil {
		return Stats{}, err
	}

	// All splicing is done; only now is it safe to free the table slots the
	// interpreter consumed.
	slots := make([]uint32, 0, len(rc.removal))
	for idx := range rc.removal {
		slots = append(slots, idx)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	for _, idx := range slots {
		if err := mod.ClearTableSlot(idx); err != nil {
			return Stats{}, err
		}
	}

	return Stats{
		Rewritten:    len(hits),
		SlotsCleared: len(slots),
		ImportsAdded: len(hits),
	}, nil
}
