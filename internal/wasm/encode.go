// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package wasm

import (
	"bytes"

	"github.com/fitzgen/wasm-bindgen/internal/errors"
)

// Encode serializes the module back to binary. An untouched module returns
// its original bytes. When imports were added every function reference in the
// module is renumbered: new imports slot in after the existing ones, so
// defined functions shift up by the number of additions.
func (m *Module) Encode() ([]byte, error) {
	if len(m.added) == 0 && !m.codeDirty && !m.elemDirty {
		return append([]byte(nil), m.raw...), nil
	}

	k := uint32(len(m.added))
	n0 := m.NumImportedFuncs()
	nOrig := m.numOriginalFuncs()
	remap := func(id FuncID) uint32 {
		switch {
		case uint32(id) < n0:
			return uint32(id)
		case uint32(id) < nOrig:
			return uint32(id) + k
		default:
			return n0 + (uint32(id) - nOrig)
		}
	}

	replacements := make(map[byte][]byte)
	if m.hasSection(SectionCode) {
		replacements[SectionCode] = m.encodeCodeSection(remap)
	}
	if m.hasSection(SectionElement) {
		replacements[SectionElement] = m.encodeElemSection(remap)
	}
	if k > 0 {
		if !m.hasSection(SectionImport) {
			return nil, errors.WrapCollaborator("cannot add imports: module has no import section")
		}
		replacements[SectionImport] = m.encodeImportSection()
		if m.hasSection(SectionExport) {
			replacements[SectionExport] = m.encodeExportSection(remap)
		}
		if m.Start != nil {
			replacements[SectionStart] = encodeU32(remap(FuncID(*m.Start)))
		}
		for i := range m.Elems {
			if m.Elems[i].raw != nil {
				return nil, errors.WrapCollaborator(
					"cannot renumber functions: module has unsupported element segments")
			}
		}
	}

	var out bytes.Buffer
	out.Write(wasmMagic)
	replaced := make(map[byte]bool)
	for _, s := range m.sections {
		payload := s.payload
		if s.id != SectionCustom && !replaced[s.id] {
			if repl, ok := replacements[s.id]; ok {
				payload = repl
			}
			replaced[s.id] = true
		}
		writeSection(&out, s.id, payload)
	}
	return out.Bytes(), nil
}

func (m *Module) hasSection(id byte) bool {
	_, ok := m.findSection(id)
	return ok
}

func writeSection(out *bytes.Buffer, id byte, payload []byte) {
	out.WriteByte(id)
	out.Write(encodeU32(uint32(len(payload))))
	out.Write(payload)
}

func (m *Module) encodeImportSection() []byte {
	var b bytes.Buffer
	b.Write(encodeU32(uint32(len(m.Imports) + len(m.added))))
	for _, imp := range m.Imports {
		writeImport(&b, imp)
	}
	for _, imp := range m.added {
		writeImport(&b, imp)
	}
	return b.Bytes()
}

func writeImport(b *bytes.Buffer, imp Import) {
	writeName(b, imp.Module)
	writeName(b, imp.Name)
	b.WriteByte(imp.Kind)
	if imp.Kind == ExternFunc {
		b.Write(encodeU32(imp.TypeIdx))
	} else {
		b.Write(imp.raw)
	}
}

func (m *Module) encodeExportSection(remap func(FuncID) uint32) []byte {
	var b bytes.Buffer
	b.Write(encodeU32(uint32(len(m.Exports))))
	for _, e := range m.Exports {
		writeName(&b, e.Name)
		b.WriteByte(e.Kind)
		idx := e.Idx
		if e.Kind == ExternFunc {
			idx = remap(FuncID(e.Idx))
		}
		b.Write(encodeU32(idx))
	}
	return b.Bytes()
}

func (m *Module) encodeCodeSection(remap func(FuncID) uint32) []byte {
	var b bytes.Buffer
	b.Write(encodeU32(uint32(len(m.Funcs))))
	for _, f := range m.Funcs {
		body := encodeInstructions(f.Body, remap)
		b.Write(encodeU32(uint32(len(f.locals) + len(body))))
		b.Write(f.locals)
		b.Write(body)
	}
	return b.Bytes()
}

// encodeElemSection rebuilds the element section, splitting any segment with
// cleared slots into runs of occupied entries so that indices after a hole
// keep their positions.
func (m *Module) encodeElemSection(remap func(FuncID) uint32) []byte {
	type run struct {
		offset  uint32
		entries []uint32
	}
	var runs []run
	var raws [][]byte
	for i := range m.Elems {
		seg := &m.Elems[i]
		if seg.Entries == nil {
			raws = append(raws, seg.raw)
			continue
		}
		var cur *run
		for j, e := range seg.Entries {
			if e < 0 {
				cur = nil
				continue
			}
			if cur == nil {
				runs = append(runs, run{offset: seg.Offset + uint32(j)})
				cur = &runs[len(runs)-1]
			}
			cur.entries = append(cur.entries, remap(FuncID(e)))
		}
	}

	var b bytes.Buffer
	b.Write(encodeU32(uint32(len(runs) + len(raws))))
	for _, r := range runs {
		b.Write(encodeU32(0)) // active, table 0
		b.WriteByte(OpI32Const)
		b.Write(encodeS32(int32(r.offset)))
		b.WriteByte(OpEnd)
		b.Write(encodeU32(uint32(len(r.entries))))
		for _, e := range r.entries {
			b.Write(encodeU32(e))
		}
	}
	for _, raw := range raws {
		b.Write(raw)
	}
	return b.Bytes()
}

func writeName(b *bytes.Buffer, s string) {
	b.Write(encodeU32(uint32(len(s))))
	b.WriteString(s)
}
