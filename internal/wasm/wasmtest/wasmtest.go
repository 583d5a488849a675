// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

// Package wasmtest builds tiny wasm binaries by hand for tests. Every index
// and count must stay below 128 so its LEB128 encoding is the byte itself.
package wasmtest

import "fmt"

// Value type bytes.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
	F32 byte = 0x7d
	F64 byte = 0x7c
)

// U32 encodes a small integer.
func U32(v uint32) []byte {
	if v >= 128 {
		panic(fmt.Sprintf("wasmtest: %d needs multi-byte LEB128", v))
	}
	return []byte{byte(v)}
}

func cat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// Vec prefixes the concatenated items with their count.
func Vec(items ...[]byte) []byte {
	return cat(append([][]byte{U32(uint32(len(items)))}, items...)...)
}

// Section wraps contents in a section header.
func Section(id byte, contents ...[]byte) []byte {
	payload := cat(contents...)
	if len(payload) >= 128 {
		panic("wasmtest: section payload needs multi-byte LEB128")
	}
	return cat([]byte{id}, U32(uint32(len(payload))), payload)
}

// Module joins the magic header with the given sections.
func Module(sections ...[]byte) []byte {
	return cat(append([][]byte{{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}}, sections...)...)
}

// Name encodes a length-prefixed UTF-8 name.
func Name(s string) []byte {
	return cat(U32(uint32(len(s))), []byte(s))
}

// FuncType encodes a function type.
func FuncType(params, results []byte) []byte {
	return cat([]byte{0x60}, U32(uint32(len(params))), params, U32(uint32(len(results))), results)
}

// ImportFunc encodes a function import entry.
func ImportFunc(module, name string, typeIdx uint32) []byte {
	return cat(Name(module), Name(name), []byte{0x00}, U32(typeIdx))
}

// ExportFunc encodes a function export entry.
func ExportFunc(name string, funcIdx uint32) []byte {
	return cat(Name(name), []byte{0x00}, U32(funcIdx))
}

// Body encodes one code entry with no locals; instrs must include the final
// 0x0b end opcode.
func Body(instrs ...byte) []byte {
	body := cat(U32(0), instrs)
	return cat(U32(uint32(len(body))), body)
}

// BodyWithLocals encodes one code entry with a single run of count locals of
// the given type.
func BodyWithLocals(count uint32, typ byte, instrs ...byte) []byte {
	body := cat(U32(1), U32(count), []byte{typ}, instrs)
	return cat(U32(uint32(len(body))), body)
}

// ElemActive encodes an active MVP element segment at the given offset.
func ElemActive(offset uint32, funcIdxs ...uint32) []byte {
	entries := make([][]byte, len(funcIdxs))
	for i, f := range funcIdxs {
		entries[i] = U32(f)
	}
	return cat(U32(0), []byte{0x41}, U32(offset), []byte{0x0b}, Vec(entries...))
}

// TableSection encodes a single funcref table with the given minimum size.
func TableSection(min uint32) []byte {
	return Section(4, Vec(cat([]byte{0x70, 0x00}, U32(min))))
}
