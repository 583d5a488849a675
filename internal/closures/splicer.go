// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package closures

import (
	"context"
	"fmt"

	"github.com/fitzgen/wasm-bindgen/internal/descriptor"
	"github.com/fitzgen/wasm-bindgen/internal/errors"
	"github.com/fitzgen/wasm-bindgen/internal/glue"
	"github.com/fitzgen/wasm-bindgen/internal/logger"
	"github.com/fitzgen/wasm-bindgen/internal/telemetry"
)

// spliceAll injects one factory-shim import per hit and retargets the
// original describe-closure calls at it. Table slots are not touched here;
// clearing happens after every splice is in place.
func spliceAll(ctx context.Context, rc *rewriteContext, hits []*ClosureCall) error {
	_, span := telemetry.StartSpan(ctx, "closures.splice")
	defer span.End()

	describeClosure, ok := rc.mod.ImportedFuncID(PlaceholderModule, DescribeClosureName)
	if !ok {
		return errors.WrapCollaborator("describe-closure import vanished mid-pass")
	}
	// New imports share the placeholder's type, (i32, i32, i32) -> i32.
	typeIdx, err := rc.mod.TypeIdxOfFunc(describeClosure)
	if err != nil {
		return err
	}

	for _, hit := range hits {
		if err := splice(rc, hit, typeIdx); err != nil {
			return err
		}
	}
	return nil
}

func splice(rc *rewriteContext, hit *ClosureCall, typeIdx uint32) error {
	c := hit.Descriptor
	importName := fmt.Sprintf("__wbindgen_closure_wrapper%d", hit.Func)

	builder := glue.NewJs2Rust(rc.out)
	builder.
		Prelude("this.cnt++;\n").
		Prelude("const a = this.a;\n").
		RustArgument("a").
		RustArgument("b")
	if c.Flavor == descriptor.FnMut || c.Flavor == descriptor.FnOnce {
		// The function is not re-entrant, so zero out `a`.
		builder.Prelude("this.a = 0;\n")
	}
	switch c.Flavor {
	case descriptor.Fn:
		builder.Finally("if (this.cnt-- == 1) d(a, b);\n")
	case descriptor.FnMut:
		// Dropped mid-call means no further calls, so destruction and
		// restoring `a` are mutually exclusive.
		builder.Finally("if (this.cnt-- == 1) {\n    d(a, b);\n} else {\n    this.a = a;\n}\n")
	}
	if _, err := builder.Process(c.Func); err != nil {
		return err
	}
	js, ts, err := builder.Finish("function", "f")
	if err != nil {
		return err
	}

	rc.out.ExposeAddHeapObject()
	rc.out.FunctionTableNeeded = true
	body := fmt.Sprintf(`function(a, b, _ignored) {
    const f = wasm.__wbg_function_table.get(%d);
    const d = wasm.__wbg_function_table.get(%d);
    const cb = %s;
    cb.a = a;
    cb.cnt = 1;
    let real = cb.bind(cb);
    real.original = cb;
    return addHeapObject(real);
}`, c.Shim, c.Dtor, js)
	if err := rc.out.Export(importName, body, ts); err != nil {
		return err
	}

	id := rc.mod.AddImportFunc(PlaceholderModule, importName, typeIdx)
	if err := rc.mod.RetargetCall(hit.Func, hit.Call, id); err != nil {
		return err
	}
	logger.Logger.Debug("spliced closure factory",
		"func", uint32(hit.Func), "import", importName, "flavor", c.Flavor.String())
	return nil
}
