// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package closures

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fitzgen/wasm-bindgen/internal/errors"
	"github.com/fitzgen/wasm-bindgen/internal/telemetry"
	"github.com/fitzgen/wasm-bindgen/internal/wasm"
)

// scan walks every local function body and records the expression identifier
// of its describe-closure call, if any. At most one such call may appear per
// function; the front-end guarantees it and we treat a violation as fatal.
//
// The scanner neither interprets nor mutates anything.
func scan(ctx context.Context, mod *wasm.Module, describeClosure wasm.FuncID) ([]*ClosureCall, error) {
	_, span := telemetry.StartSpan(ctx, "closures.scan")
	defer span.End()

	var hits []*ClosureCall
	for _, f := range mod.LocalFuncs() {
		v := &findDescribeClosure{describeClosure: describeClosure, call: -1}
		if err := v.visit(f); err != nil {
			return nil, err
		}
		if v.call >= 0 {
			hits = append(hits, &ClosureCall{Func: f.ID, Call: v.call})
		}
	}
	span.SetAttributes(attribute.Int("closures.hits", len(hits)))
	return hits, nil
}

// findDescribeClosure is a structural visitor over one function body. cur is
// the cursor: it always names the expression being visited, so the recorded
// identifier is exactly the matching call and never a parent construct.
type findDescribeClosure struct {
	describeClosure wasm.FuncID
	cur             int
	call            int
}

func (v *findDescribeClosure) visit(f *wasm.Function) error {
	for i := range f.Body {
		prev := v.cur
		v.cur = i
		in := &f.Body[i]
		if in.IsCall() && wasm.FuncID(in.Index) == v.describeClosure {
			if v.call >= 0 {
				return errors.WrapMultipleDescribeCalls(uint32(f.ID))
			}
			v.call = v.cur
		}
		v.cur = prev
	}
	return nil
}
