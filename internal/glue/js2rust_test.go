// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package glue

import (
	"testing"

	"github.com/gkampitakis/go-snaps/snaps"
	"github.com/stretchr/testify/require"

	"github.com/fitzgen/wasm-bindgen/internal/descriptor"
	"github.com/fitzgen/wasm-bindgen/internal/errors"
)

func TestProcessMarshalsArguments(t *testing.T) {
	tests := []struct {
		name     string
		args     []descriptor.VType
		ret      descriptor.VType
		wantCall string
		wantTS   string
	}{
		{
			name:     "numbers pass through",
			args:     []descriptor.VType{descriptor.I32, descriptor.F64},
			ret:      descriptor.Unit,
			wantCall: "f(arg0, arg1);",
			wantTS:   "(arg0: number, arg1: number) => void",
		},
		{
			name:     "boolean coerces",
			args:     []descriptor.VType{descriptor.Boolean},
			ret:      descriptor.Boolean,
			wantCall: "return f(arg0 ? 1 : 0) !== 0;",
			wantTS:   "(arg0: boolean) => boolean",
		},
		{
			name:     "char via code point",
			args:     []descriptor.VType{descriptor.Char},
			ret:      descriptor.Char,
			wantCall: "return String.fromCodePoint(f(arg0.codePointAt(0)));",
			wantTS:   "(arg0: string) => string",
		},
		{
			name:     "anyref through the heap",
			args:     []descriptor.VType{descriptor.Anyref},
			ret:      descriptor.I32,
			wantCall: "return f(addHeapObject(arg0));",
			wantTS:   "(arg0: any) => number",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewOutput()
			b := NewJs2Rust(out)
			_, err := b.Process(descriptor.Function{Args: tt.args, Ret: tt.ret})
			require.NoError(t, err)
			js, ts, err := b.Finish("function", "f")
			require.NoError(t, err)
			require.Contains(t, js, tt.wantCall)
			require.Equal(t, tt.wantTS, ts)
		})
	}
}

func TestFinishWrapsFinallyInTry(t *testing.T) {
	b := NewJs2Rust(NewOutput())
	b.Prelude("this.cnt++;\n").Finally("cleanup();\n")
	_, err := b.Process(descriptor.Function{Ret: descriptor.Unit})
	require.NoError(t, err)
	js, _, err := b.Finish("function", "f")
	require.NoError(t, err)
	require.Contains(t, js, "try {")
	require.Contains(t, js, "} finally {")
	require.Contains(t, js, "cleanup();")

	b2 := NewJs2Rust(NewOutput())
	_, err = b2.Process(descriptor.Function{Ret: descriptor.Unit})
	require.NoError(t, err)
	js2, _, err := b2.Finish("function", "f")
	require.NoError(t, err)
	require.NotContains(t, js2, "try {")
}

func TestOutputRejectsDuplicateExports(t *testing.T) {
	out := NewOutput()
	require.NoError(t, out.Export("shim1", "function() {}", ""))
	err := out.Export("shim1", "function() {}", "")
	require.ErrorIs(t, err, errors.ErrCollaborator)
}

func TestOutputRendersDeterministically(t *testing.T) {
	out := NewOutput()
	out.ExposeAddHeapObject()
	out.FunctionTableNeeded = true
	b := NewJs2Rust(out)
	b.Prelude("this.cnt++;\n").
		Prelude("const a = this.a;\n").
		RustArgument("a").
		RustArgument("b").
		Finally("if (this.cnt-- == 1) d(a, b);\n")
	_, err := b.Process(descriptor.Function{
		Args: []descriptor.VType{descriptor.I32},
		Ret:  descriptor.Unit,
	})
	require.NoError(t, err)
	js, ts, err := b.Finish("function", "f")
	require.NoError(t, err)
	require.NoError(t, out.Export("__wbindgen_closure_wrapper1", js, ts))

	snaps.MatchSnapshot(t, out.String())
}

func TestUnsupportedTypesFail(t *testing.T) {
	b := NewJs2Rust(NewOutput())
	_, err := b.Process(descriptor.Function{Args: []descriptor.VType{descriptor.VType(42)}})
	require.ErrorIs(t, err, errors.ErrDescriptorDecode)

	b2 := NewJs2Rust(NewOutput())
	_, err = b2.Process(descriptor.Function{Ret: descriptor.Anyref})
	require.NoError(t, err)
	_, _, err = b2.Finish("function", "f")
	require.ErrorIs(t, err, errors.ErrDescriptorDecode)
}
