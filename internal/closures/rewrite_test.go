// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package closures

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fitzgen/wasm-bindgen/internal/descriptor"
	"github.com/fitzgen/wasm-bindgen/internal/errors"
	"github.com/fitzgen/wasm-bindgen/internal/glue"
	"github.com/fitzgen/wasm-bindgen/internal/wasm"
	wt "github.com/fitzgen/wasm-bindgen/internal/wasm/wasmtest"
)

// descriptorBody emits one i32.const + describe call per word. Words must
// stay below 64 to keep the SLEB128 encoding single-byte.
func descriptorBody(words ...uint32) []byte {
	var instrs []byte
	for _, w := range words {
		if w >= 64 {
			panic("descriptor word too large for test builder")
		}
		instrs = append(instrs, 0x41, byte(w), 0x10, 0x00)
	}
	instrs = append(instrs, 0x0b)
	return wt.Body(instrs...)
}

// buildClosureModule assembles a module with one enclosing function and one
// descriptor subprogram per word stream.
//
//	types:   0 = ()->(), 1 = (i32)->(), 2 = (i32,i32,i32)->i32, 3 = (i32,i32)->i32
//	imports: 0 = describe, 1 = describe_closure
//	defined: per site i: enclosing (2+2i), descriptor (3+2i);
//	         then invoker and dtor stubs
//	table:   slot 1 = invoker, slot 2 = dtor, slot 3+i = descriptor i
func buildClosureModule(siteWords ...[]uint32) []byte {
	n := uint32(len(siteWords))
	invoker := 2 + 2*n
	dtor := invoker + 1

	var funcTypes, bodies [][]byte
	elems := []uint32{invoker, dtor}
	for i, words := range siteWords {
		funcTypes = append(funcTypes, wt.U32(3), wt.U32(0))
		bodies = append(bodies,
			wt.Body(0x20, 0x00, 0x20, 0x01, 0x41, byte(3+i), 0x10, 0x01, 0x0b),
			descriptorBody(words...),
		)
		elems = append(elems, 3+2*uint32(i))
	}
	funcTypes = append(funcTypes, wt.U32(3), wt.U32(0))
	bodies = append(bodies,
		wt.Body(0x41, 0x00, 0x0b), // invoker stub
		wt.Body(0x0b),             // dtor stub
	)

	return wt.Module(
		wt.Section(1, wt.Vec(
			wt.FuncType(nil, nil),
			wt.FuncType([]byte{wt.I32}, nil),
			wt.FuncType([]byte{wt.I32, wt.I32, wt.I32}, []byte{wt.I32}),
			wt.FuncType([]byte{wt.I32, wt.I32}, []byte{wt.I32}),
		)),
		wt.Section(2, wt.Vec(
			wt.ImportFunc(PlaceholderModule, DescribeName, 1),
			wt.ImportFunc(PlaceholderModule, DescribeClosureName, 2),
		)),
		wt.Section(3, wt.Vec(funcTypes...)),
		wt.TableSection(3+n),
		wt.Section(7, wt.Vec(wt.ExportFunc("main", 2))),
		wt.Section(9, wt.Vec(wt.ElemActive(1, elems...))),
		wt.Section(10, wt.Vec(bodies...)),
	)
}

func fnWords(flavor uint32, args []uint32, ret uint32) []uint32 {
	words := []uint32{descriptor.TagClosure, 1, 2, flavor, descriptor.TagFunction, 1, uint32(len(args))}
	words = append(words, args...)
	return append(words, ret)
}

func runRewrite(t *testing.T, raw []byte) (*wasm.Module, *glue.Output, Stats) {
	t.Helper()
	mod, err := wasm.Decode(raw)
	require.NoError(t, err)
	out := glue.NewOutput()
	stats, err := Rewrite(context.Background(), mod, out)
	require.NoError(t, err)
	return mod, out, stats
}

func TestRewriteNoPlaceholderIsNoOp(t *testing.T) {
	raw := wt.Module(
		wt.Section(1, wt.Vec(wt.FuncType(nil, nil))),
		wt.Section(3, wt.Vec(wt.U32(0))),
		wt.Section(10, wt.Vec(wt.Body(0x0b))),
	)
	mod, out, stats := runRewrite(t, raw)
	require.Zero(t, stats.Rewritten)
	require.Empty(t, out.Exports())

	encoded, err := mod.Encode()
	require.NoError(t, err)
	require.True(t, bytes.Equal(raw, encoded), "no-op rewrite must be byte-identical")
}

func TestRewriteSingleFnClosure(t *testing.T) {
	raw := buildClosureModule(fnWords(descriptor.TagFn, nil, descriptor.TagI32))
	mod, out, stats := runRewrite(t, raw)

	require.Equal(t, 1, stats.Rewritten)
	require.Equal(t, 1, stats.SlotsCleared)
	require.Equal(t, []string{"__wbindgen_closure_wrapper2"}, out.Exports())
	require.True(t, out.FunctionTableNeeded)

	encoded, err := mod.Encode()
	require.NoError(t, err)
	m2, err := wasm.Decode(encoded)
	require.NoError(t, err)

	// One new import, typed like the placeholder, under its namespace.
	newID, ok := m2.ImportedFuncID(PlaceholderModule, "__wbindgen_closure_wrapper2")
	require.True(t, ok, "new import missing")
	placeholderID, ok := m2.ImportedFuncID(PlaceholderModule, DescribeClosureName)
	require.True(t, ok, "placeholder import must survive the pass")
	newType, err := m2.TypeIdxOfFunc(newID)
	require.NoError(t, err)
	placeholderType, err := m2.TypeIdxOfFunc(placeholderID)
	require.NoError(t, err)
	require.Equal(t, placeholderType, newType)

	// The function count is unchanged and the call site still sits at the
	// same expression id, now targeting the new import.
	require.Len(t, m2.LocalFuncs(), 4)
	enclosing := m2.LocalFuncs()[0]
	call := enclosing.Body[3]
	require.True(t, call.IsCall())
	require.Equal(t, uint32(newID), call.Index)

	// Invoker and dtor slots survive; the descriptor slot is cleared.
	_, ok = m2.TableSlot(1)
	require.True(t, ok, "invoker slot must be retained")
	_, ok = m2.TableSlot(2)
	require.True(t, ok, "dtor slot must be retained")
	_, ok = m2.TableSlot(3)
	require.False(t, ok, "descriptor slot must be cleared")
}

func TestRewriteIsIdempotent(t *testing.T) {
	raw := buildClosureModule(fnWords(descriptor.TagFn, nil, descriptor.TagI32))
	mod, _, _ := runRewrite(t, raw)
	encoded, err := mod.Encode()
	require.NoError(t, err)

	mod2, out2, stats2 := runRewrite(t, encoded)
	require.Zero(t, stats2.Rewritten)
	require.Empty(t, out2.Exports())
	again, err := mod2.Encode()
	require.NoError(t, err)
	require.True(t, bytes.Equal(encoded, again), "second rewrite must be a no-op")
}

func TestRewriteTwoClosures(t *testing.T) {
	raw := buildClosureModule(
		fnWords(descriptor.TagFn, nil, descriptor.TagI32),
		fnWords(descriptor.TagFnMut, []uint32{descriptor.TagI32}, descriptor.TagUnit),
	)
	mod, out, stats := runRewrite(t, raw)

	require.Equal(t, 2, stats.Rewritten)
	require.Equal(t, 2, stats.SlotsCleared)
	require.Equal(t,
		[]string{"__wbindgen_closure_wrapper2", "__wbindgen_closure_wrapper4"},
		out.Exports())

	encoded, err := mod.Encode()
	require.NoError(t, err)
	m2, err := wasm.Decode(encoded)
	require.NoError(t, err)

	for i, name := range out.Exports() {
		id, ok := m2.ImportedFuncID(PlaceholderModule, name)
		require.True(t, ok, "import %s missing", name)
		enclosing := m2.LocalFuncs()[2*i]
		require.Equal(t, uint32(id), enclosing.Body[3].Index, "call site %d", i)
	}
	for _, slot := range []uint32{3, 4} {
		_, ok := m2.TableSlot(slot)
		require.False(t, ok, "descriptor slot %d must be cleared", slot)
	}
}

func TestRewriteUnknownLeadingTag(t *testing.T) {
	raw := buildClosureModule([]uint32{42})
	mod, err := wasm.Decode(raw)
	require.NoError(t, err)
	_, err = Rewrite(context.Background(), mod, glue.NewOutput())
	require.ErrorIs(t, err, errors.ErrDescriptorDecode)
}

func TestRewriteTruncatedDescriptor(t *testing.T) {
	raw := buildClosureModule([]uint32{descriptor.TagClosure, 1})
	mod, err := wasm.Decode(raw)
	require.NoError(t, err)
	_, err = Rewrite(context.Background(), mod, glue.NewOutput())
	require.ErrorIs(t, err, errors.ErrDescriptorDecode)
}

func TestScannerRejectsTwoDescribeCalls(t *testing.T) {
	raw := wt.Module(
		wt.Section(1, wt.Vec(
			wt.FuncType([]byte{wt.I32}, nil),
			wt.FuncType([]byte{wt.I32, wt.I32, wt.I32}, []byte{wt.I32}),
		)),
		wt.Section(2, wt.Vec(
			wt.ImportFunc(PlaceholderModule, DescribeName, 0),
			wt.ImportFunc(PlaceholderModule, DescribeClosureName, 1),
		)),
		wt.Section(3, wt.Vec(wt.U32(1))),
		wt.Section(10, wt.Vec(wt.Body(
			0x41, 0x00, 0x41, 0x00, 0x41, 0x00, 0x10, 0x01, 0x1a,
			0x41, 0x00, 0x41, 0x00, 0x41, 0x00, 0x10, 0x01,
			0x0b,
		))),
	)
	mod, err := wasm.Decode(raw)
	require.NoError(t, err)
	_, err = Rewrite(context.Background(), mod, glue.NewOutput())
	require.ErrorIs(t, err, errors.ErrMultipleDescribeCalls)
}

func TestInterpreterRejectsNonConstantIndex(t *testing.T) {
	// The enclosing function passes one of its own opaque parameters as the
	// descriptor index.
	raw := wt.Module(
		wt.Section(1, wt.Vec(
			wt.FuncType([]byte{wt.I32}, nil),
			wt.FuncType([]byte{wt.I32, wt.I32, wt.I32}, []byte{wt.I32}),
			wt.FuncType([]byte{wt.I32, wt.I32}, []byte{wt.I32}),
		)),
		wt.Section(2, wt.Vec(
			wt.ImportFunc(PlaceholderModule, DescribeName, 0),
			wt.ImportFunc(PlaceholderModule, DescribeClosureName, 1),
		)),
		wt.Section(3, wt.Vec(wt.U32(2))),
		wt.TableSection(1),
		wt.Section(10, wt.Vec(wt.Body(
			0x20, 0x00, 0x20, 0x01, 0x20, 0x00, 0x10, 0x01, 0x0b,
		))),
	)
	mod, err := wasm.Decode(raw)
	require.NoError(t, err)
	_, err = Rewrite(context.Background(), mod, glue.NewOutput())
	require.ErrorIs(t, err, errors.ErrInterpretation)
}

func TestRewriteRequiresFunctionTable(t *testing.T) {
	raw := wt.Module(
		wt.Section(1, wt.Vec(
			wt.FuncType([]byte{wt.I32}, nil),
			wt.FuncType([]byte{wt.I32, wt.I32, wt.I32}, []byte{wt.I32}),
		)),
		wt.Section(2, wt.Vec(
			wt.ImportFunc(PlaceholderModule, DescribeName, 0),
			wt.ImportFunc(PlaceholderModule, DescribeClosureName, 1),
		)),
		wt.Section(3, wt.Vec(wt.U32(1))),
		wt.Section(10, wt.Vec(wt.Body(
			0x41, 0x00, 0x41, 0x00, 0x41, 0x03, 0x10, 0x01, 0x0b,
		))),
	)
	mod, err := wasm.Decode(raw)
	require.NoError(t, err)
	_, err = Rewrite(context.Background(), mod, glue.NewOutput())
	require.ErrorIs(t, err, errors.ErrCollaborator)
}

func TestInterpreterRejectsUncoveredTableSlot(t *testing.T) {
	// The descriptor index names a table slot no element segment fills.
	words := fnWords(descriptor.TagFn, nil, descriptor.TagI32)
	raw := buildClosureModule(words)
	mod, err := wasm.Decode(raw)
	require.NoError(t, err)
	enclosing := mod.LocalFuncs()[0]
	enclosing.Body[2].I32 = 60 // far past the last occupied slot
	_, err = Rewrite(context.Background(), mod, glue.NewOutput())
	require.ErrorIs(t, err, errors.ErrInterpretation)
}

func TestInterpreterRejectsUnsupportedOpcode(t *testing.T) {
	// i32.add is outside the evaluator's deliberately narrow opcode set.
	mod, err := wasm.Decode(buildBadOpcodeModule())
	require.NoError(t, err)
	_, err = Rewrite(context.Background(), mod, glue.NewOutput())
	require.ErrorIs(t, err, errors.ErrInterpretation)
}

func buildBadOpcodeModule() []byte {
	return wt.Module(
		wt.Section(1, wt.Vec(
			wt.FuncType([]byte{wt.I32}, nil),
			wt.FuncType([]byte{wt.I32, wt.I32, wt.I32}, []byte{wt.I32}),
		)),
		wt.Section(2, wt.Vec(
			wt.ImportFunc(PlaceholderModule, DescribeName, 0),
			wt.ImportFunc(PlaceholderModule, DescribeClosureName, 1),
		)),
		wt.Section(3, wt.Vec(wt.U32(1))),
		wt.TableSection(1),
		wt.Section(10, wt.Vec(wt.Body(
			0x41, 0x01, 0x41, 0x02, 0x6a, // i32.add
			0x41, 0x03, 0x10, 0x01, 0x0b,
		))),
	)
}

func TestInterpreterFollowsLocalsAndHelpers(t *testing.T) {
	// The descriptor index takes a detour through a local, and the
	// descriptor subprogram delegates its tail to a helper function.
	words := fnWords(descriptor.TagFn, []uint32{descriptor.TagF64}, descriptor.TagUnit)
	head, tail := words[:4], words[4:]

	var headInstrs []byte
	for _, w := range head {
		headInstrs = append(headInstrs, 0x41, byte(w), 0x10, 0x00)
	}
	headInstrs = append(headInstrs, 0x10, 0x04, 0x0b) // call helper
	var tailInstrs []byte
	for _, w := range tail {
		tailInstrs = append(tailInstrs, 0x41, byte(w), 0x10, 0x00)
	}
	tailInstrs = append(tailInstrs, 0x0b)

	raw := wt.Module(
		wt.Section(1, wt.Vec(
			wt.FuncType(nil, nil),
			wt.FuncType([]byte{wt.I32}, nil),
			wt.FuncType([]byte{wt.I32, wt.I32, wt.I32}, []byte{wt.I32}),
			wt.FuncType([]byte{wt.I32, wt.I32}, []byte{wt.I32}),
		)),
		wt.Section(2, wt.Vec(
			wt.ImportFunc(PlaceholderModule, DescribeName, 1),
			wt.ImportFunc(PlaceholderModule, DescribeClosureName, 2),
		)),
		wt.Section(3, wt.Vec(wt.U32(3), wt.U32(0), wt.U32(0))),
		wt.TableSection(2),
		wt.Section(9, wt.Vec(wt.ElemActive(1, 3))),
		wt.Section(10, wt.Vec(
			// enclosing: stash the index in a local first
			wt.BodyWithLocals(1, wt.I32,
				0x41, 0x01, 0x21, 0x02,
				0x20, 0x00, 0x20, 0x01, 0x20, 0x02, 0x10, 0x01, 0x0b),
			wt.Body(headInstrs...),
			wt.Body(tailInstrs...),
		)),
	)

	mod, out, stats := runRewrite(t, raw)
	require.Equal(t, 1, stats.Rewritten)
	require.Equal(t, []string{"__wbindgen_closure_wrapper2"}, out.Exports())

	src, ok := out.Source("__wbindgen_closure_wrapper2")
	require.True(t, ok)
	require.Contains(t, src, "function(arg0)")

	_, err := mod.Encode()
	require.NoError(t, err)
}
