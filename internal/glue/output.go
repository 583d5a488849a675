// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

// Package glue accumulates the JS runtime shims the rewriter emits and
// renders them as a single deterministic fragment appended to the generated
// bindings.
package glue

import (
	"fmt"
	"strings"

	"github.com/fitzgen/wasm-bindgen/internal/errors"
)

type exportEntry struct {
	name string
	src  string
	ts   string
}

// Output collects exported shims and runtime helper requirements.
type Output struct {
	exports []exportEntry
	names   map[string]bool

	addHeapObject bool

	// FunctionTableNeeded asks the glue to expose the module's function
	// table as wasm.__wbg_function_table.
	FunctionTableNeeded bool
}

// NewOutput returns an empty glue output.
func NewOutput() *Output {
	return &Output{names: make(map[string]bool)}
}

// Export registers a new named JS shim. Names must be unique; tsSig may be
// empty.
func (o *Output) Export(name, src, tsSig string) error {
	if o.names[name] {
		return errors.WrapCollaborator(fmt.Sprintf("duplicate glue export %q", name))
	}
	o.names[name] = true
	o.exports = append(o.exports, exportEntry{name: name, src: src, ts: tsSig})
	return nil
}

// ExposeAddHeapObject makes the addHeapObject runtime helper reachable from
// exported shims.
func (o *Output) ExposeAddHeapObject() {
	o.addHeapObject = true
}

// Exports returns the registered shim names in registration order.
func (o *Output) Exports() []string {
	out := make([]string, len(o.exports))
	for i, e := range o.exports {
		out[i] = e.name
	}
	return out
}

// Source returns the source text of a registered shim.
func (o *Output) Source(name string) (string, bool) {
	for _, e := range o.exports {
		if e.name == name {
			return e.src, true
		}
	}
	return "", false
}

// String renders the glue fragment.
func (o *Output) String() string {
	var b strings.Builder
	if o.addHeapObject {
		b.WriteString(`const heap = new Array(32).fill(undefined);
heap.push(undefined, null, true, false);
let heap_next = heap.length;

function addHeapObject(obj) {
    if (heap_next === heap.length) heap.push(heap.length + 1);
    const idx = heap_next;
    heap_next = heap[idx];
    heap[idx] = obj;
    return idx;
}

`)
	}
	for _, e := range o.exports {
		if e.ts != "" {
			fmt.Fprintf(&b, "// %s: %s\n", e.name, e.ts)
		}
		fmt.Fprintf(&b, "__exports.%s = %s;\n\n", e.name, e.src)
	}
	return b.String()
}
