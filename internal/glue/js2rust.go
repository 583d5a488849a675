// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package glue

import (
	"fmt"
	"strings"

	"github.com/fitzgen/wasm-bindgen/internal/descriptor"
	"github.com/fitzgen/wasm-bindgen/internal/errors"
)

// Js2Rust builds the JS side of a JS-to-wasm call: it marshals JS arguments
// into wasm ABI values, invokes the target, and converts the result back.
// The closure splicer drives it with flavor-specific prelude and finally
// fragments.
type Js2Rust struct {
	out      *Output
	prelude  strings.Builder
	finally  strings.Builder
	jsArgs   []string
	rustArgs []string
	tsArgs   []string
	ret      descriptor.VType
}

// NewJs2Rust returns a builder writing exposure requests to out.
func NewJs2Rust(out *Output) *Js2Rust {
	return &Js2Rust{out: out, ret: descriptor.Unit}
}

// Prelude appends statements run before the wasm call.
func (j *Js2Rust) Prelude(s string) *Js2Rust {
	j.prelude.WriteString(s)
	return j
}

// Finally appends statements run after the wasm call, even on unwind.
func (j *Js2Rust) Finally(s string) *Js2Rust {
	j.finally.WriteString(s)
	return j
}

// RustArgument passes a raw expression as a leading wasm argument, before
// any marshalled JS arguments.
func (j *Js2Rust) RustArgument(expr string) *Js2Rust {
	j.rustArgs = append(j.rustArgs, expr)
	return j
}

// Process marshals the arguments and return of sig.
func (j *Js2Rust) Process(sig descriptor.Function) (*Js2Rust, error) {
	for i, t := range sig.Args {
		name := fmt.Sprintf("arg%d", i)
		j.jsArgs = append(j.jsArgs, name)
		switch {
		case t.IsNumber():
			j.rustArgs = append(j.rustArgs, name)
			j.tsArgs = append(j.tsArgs, name+": number")
		case t == descriptor.Boolean:
			j.rustArgs = append(j.rustArgs, name+" ? 1 : 0")
			j.tsArgs = append(j.tsArgs, name+": boolean")
		case t == descriptor.Char:
			j.rustArgs = append(j.rustArgs, name+".codePointAt(0)")
			j.tsArgs = append(j.tsArgs, name+": string")
		case t == descriptor.Anyref:
			j.out.ExposeAddHeapObject()
			j.rustArgs = append(j.rustArgs, "addHeapObject("+name+")")
			j.tsArgs = append(j.tsArgs, name+": any")
		default:
			return nil, errors.WrapDescriptorDecode(
				fmt.Sprintf("unsupported closure argument type %d", t))
		}
	}
	j.ret = sig.Ret
	return j, nil
}

// Finish renders the callable. kind is the leading keyword ("function") and
// invoc the expression invoked with the collected arguments.
func (j *Js2Rust) Finish(kind, invoc string) (js, ts string, err error) {
	call := fmt.Sprintf("%s(%s)", invoc, strings.Join(j.rustArgs, ", "))

	var body, tsRet string
	switch {
	case j.ret == descriptor.Unit:
		body = call + ";"
		tsRet = "void"
	case j.ret.IsNumber():
		body = "return " + call + ";"
		tsRet = "number"
	case j.ret == descriptor.Boolean:
		body = "return " + call + " !== 0;"
		tsRet = "boolean"
	case j.ret == descriptor.Char:
		body = "return String.fromCodePoint(" + call + ");"
		tsRet = "string"
	default:
		return "", "", errors.WrapDescriptorDecode(
			fmt.Sprintf("unsupported closure return type %d", j.ret))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s) {\n", kind, strings.Join(j.jsArgs, ", "))
	writeIndented(&b, j.prelude.String(), 1)
	if j.finally.Len() > 0 {
		b.WriteString("    try {\n")
		writeIndented(&b, body+"\n", 2)
		b.WriteString("    } finally {\n")
		writeIndented(&b, j.finally.String(), 2)
		b.WriteString("    }\n")
	} else {
		writeIndented(&b, body+"\n", 1)
	}
	b.WriteString("}")

	ts = fmt.Sprintf("(%s) => %s", strings.Join(j.tsArgs, ", "), tsRet)
	return b.String(), ts, nil
}

func writeIndented(b *strings.Builder, s string, depth int) {
	if s == "" {
		return
	}
	pad := strings.Repeat("    ", depth)
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if line == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString(pad)
		b.WriteString(line)
		b.WriteString("\n")
	}
}
