// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

// Package wasm holds the in-memory module representation the rewriter works
// on. The decoder keeps every section's raw payload so that an untouched
// module re-encodes byte for byte; only sections affected by a mutation are
// rebuilt on encode.
package wasm

import (
	"bytes"
	"fmt"

	"github.com/fitzgen/wasm-bindgen/internal/errors"
)

// Section IDs.
const (
	SectionCustom   byte = 0
	SectionType     byte = 1
	SectionImport   byte = 2
	SectionFunction byte = 3
	SectionTable    byte = 4
	SectionMemory   byte = 5
	SectionGlobal   byte = 6
	SectionExport   byte = 7
	SectionStart    byte = 8
	SectionElement  byte = 9
	SectionCode     byte = 10
	SectionData     byte = 11
)

// Import/export kinds.
const (
	ExternFunc   byte = 0x00
	ExternTable  byte = 0x01
	ExternMemory byte = 0x02
	ExternGlobal byte = 0x03
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// FuncID identifies a function within a module. IDs are stable across
// mutation: original functions keep the index they were decoded with, and
// imports added by the splicer are assigned IDs past the original index
// space. Binary indices are recomputed only at encode time.
type FuncID uint32

// ValType is a wasm value type byte.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
	F32 ValType = 0x7d
	F64 ValType = 0x7c
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import is one entry of the import section.
type Import struct {
	Module string
	Name   string
	Kind   byte
	// TypeIdx is the function type index when Kind is ExternFunc.
	TypeIdx uint32
	// raw holds the post-kind immediate bytes for non-function imports.
	raw []byte
}

// Export is one entry of the export section.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Function is a local (defined) function.
type Function struct {
	ID      FuncID
	TypeIdx uint32
	// locals is the raw local-declaration prefix of the code body.
	locals []byte
	Body   []Instr
}

// ElemSegment is one element segment. Only active MVP segments (flags 0,
// i32.const offset, funcidx vector) participate in the table view; anything
// else is carried raw.
type ElemSegment struct {
	Offset uint32
	// Entries holds function IDs; -1 marks a slot cleared by the rewriter.
	Entries []int64
	raw     []byte
}

type section struct {
	id      byte
	payload []byte
}

// Module is the decoded module.
type Module struct {
	raw      []byte
	sections []section

	Types   []FuncType
	Imports []Import
	Funcs   []*Function
	Exports []Export
	Start   *uint32
	Elems   []ElemSegment

	// importedFuncs indexes Imports entries of kind func, in import order.
	importedFuncs []int
	hasTable      bool

	added []Import

	codeDirty bool
	elemDirty bool
}

// Decode parses a wasm binary into a Module.
func Decode(raw []byte) (*Module, error) {
	if len(raw) < len(wasmMagic) || !bytes.Equal(raw[:len(wasmMagic)], wasmMagic) {
		return nil, errors.WrapWasmInvalid("bad magic or version")
	}
	m := &Module{raw: raw}
	pos := len(wasmMagic)
	for pos < len(raw) {
		id := raw[pos]
		pos++
		size, n, err := readU32(raw, pos)
		if err != nil {
			return nil, errors.WrapWasmInvalid(fmt.Sprintf("bad section length at offset %d", pos))
		}
		pos += n
		if pos+int(size) > len(raw) {
			return nil, errors.WrapWasmInvalid("section extends past end of file")
		}
		m.sections = append(m.sections, section{id: id, payload: raw[pos : pos+int(size)]})
		pos += int(size)
	}

	for _, s := range m.sections {
		var err error
		switch s.id {
		case SectionType:
			err = m.decodeTypes(s.payload)
		case SectionImport:
			err = m.decodeImports(s.payload)
		case SectionTable:
			m.hasTable = true
		case SectionExport:
			err = m.decodeExports(s.payload)
		case SectionStart:
			err = m.decodeStart(s.payload)
		case SectionElement:
			err = m.decodeElems(s.payload)
		}
		if err != nil {
			return nil, err
		}
	}

	var typeIdxs []uint32
	if p, ok := m.findSection(SectionFunction); ok {
		ti, err := parseFunctionIdxs(p)
		if err != nil {
			return nil, err
		}
		typeIdxs = ti
	}
	var bodies [][]byte
	if p, ok := m.findSection(SectionCode); ok {
		bs, err := parseCodeSection(p)
		if err != nil {
			return nil, err
		}
		bodies = bs
	}
	if len(typeIdxs) != len(bodies) {
		return nil, errors.WrapWasmInvalid(
			fmt.Sprintf("function/code section length mismatch: %d vs %d", len(typeIdxs), len(bodies)))
	}
	n0 := uint32(len(m.importedFuncs))
	for i := range bodies {
		locals, instrs, err := decodeBody(bodies[i])
		if err != nil {
			return nil, errors.WrapWasmInvalid(fmt.Sprintf("code body %d: %v", i, err))
		}
		m.Funcs = append(m.Funcs, &Function{
			ID:      FuncID(n0 + uint32(i)),
			TypeIdx: typeIdxs[i],
			locals:  locals,
			Body:    instrs,
		})
	}
	for _, imp := range m.Imports {
		if imp.Kind == ExternTable {
			m.hasTable = true
		}
	}
	return m, nil
}

func (m *Module) findSection(id byte) ([]byte, bool) {
	for _, s := range m.sections {
		if s.id == id {
			return s.payload, true
		}
	}
	return nil, false
}

func (m *Module) decodeTypes(payload []byte) error {
	pos := 0
	count, n, err := readU32(payload, pos)
	if err != nil {
		return errors.WrapWasmInvalid("type section count")
	}
	pos += n
	for i := uint32(0); i < count; i++ {
		if pos >= len(payload) || payload[pos] != 0x60 {
			return errors.WrapWasmInvalid("type section: expected func type")
		}
		pos++
		var ft FuncType
		for _, dst := range []*[]ValType{&ft.Params, &ft.Results} {
			c, n, err := readU32(payload, pos)
			if err != nil {
				return errors.WrapWasmInvalid("type section truncated")
			}
			pos += n
			if pos+int(c) > len(payload) {
				return errors.WrapWasmInvalid("type section truncated")
			}
			for j := uint32(0); j < c; j++ {
				*dst = append(*dst, ValType(payload[pos]))
				pos++
			}
		}
		m.Types = append(m.Types, ft)
	}
	return nil
}

func (m *Module) decodeImports(payload []byte) error {
	pos := 0
	count, n, err := readU32(payload, pos)
	if err != nil {
		return errors.WrapWasmInvalid("import section count")
	}
	pos += n
	for i := uint32(0); i < count; i++ {
		mod, np, err := readName(payload, pos)
		if err != nil {
			return err
		}
		pos = np
		name, np, err := readName(payload, pos)
		if err != nil {
			return err
		}
		pos = np
		if pos >= len(payload) {
			return errors.WrapWasmInvalid("import entry truncated")
		}
		kind := payload[pos]
		pos++
		imp := Import{Module: mod, Name: name, Kind: kind}
		switch kind {
		case ExternFunc:
			idx, n, err := readU32(payload, pos)
			if err != nil {
				return errors.WrapWasmInvalid("import func type index")
			}
			pos += n
			imp.TypeIdx = idx
			m.importedFuncs = append(m.importedFuncs, len(m.Imports))
		case ExternTable, ExternMemory, ExternGlobal:
			start := pos
			np, err := skipImportDesc(payload, pos, kind)
			if err != nil {
				return err
			}
			pos = np
			imp.raw = payload[start:pos]
		default:
			return errors.WrapWasmInvalid(fmt.Sprintf("unsupported import kind %d", kind))
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func (m *Module) decodeExports(payload []byte) error {
	pos := 0
	count, n, err := readU32(payload, pos)
	if err != nil {
		return errors.WrapWasmInvalid("export section count")
	}
	pos += n
	for i := uint32(0); i < count; i++ {
		name, np, err := readName(payload, pos)
		if err != nil {
			return err
		}
		pos = np
		if pos >= len(payload) {
			return errors.WrapWasmInvalid("export entry truncated")
		}
		kind := payload[pos]
		pos++
		idx, n, err := readU32(payload, pos)
		if err != nil {
			return errors.WrapWasmInvalid("export index")
		}
		pos += n
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Idx: idx})
	}
	return nil
}

func (m *Module) decodeStart(payload []byte) error {
	idx, n, err := readU32(payload, 0)
	if err != nil || n != len(payload) {
		return errors.WrapWasmInvalid("start section")
	}
	m.Start = &idx
	return nil
}

func (m *Module) decodeElems(payload []byte) error {
	pos := 0
	count, n, err := readU32(payload, pos)
	if err != nil {
		return errors.WrapWasmInvalid("element section count")
	}
	pos += n
	for i := uint32(0); i < count; i++ {
		segStart := pos
		flags, n, err := readU32(payload, pos)
		if err != nil {
			return errors.WrapWasmInvalid("element segment flags")
		}
		pos += n
		if flags != 0 {
			np, err := skipElemSegment(payload, pos, flags)
			if err != nil {
				return err
			}
			pos = np
			m.Elems = append(m.Elems, ElemSegment{raw: payload[segStart:pos]})
			continue
		}
		// Active MVP segment: i32.const offset, end, funcidx vector.
		if pos >= len(payload) || payload[pos] != OpI32Const {
			return errors.WrapCollaborator("element segment offset is not i32.const")
		}
		pos++
		off, n, err := readSLEB32(payload, pos)
		if err != nil {
			return errors.WrapWasmInvalid("element segment offset")
		}
		pos += n
		if pos >= len(payload) || payload[pos] != OpEnd {
			return errors.WrapCollaborator("element segment offset expression too complex")
		}
		pos++
		c, n, err := readU32(payload, pos)
		if err != nil {
			return errors.WrapWasmInvalid("element segment length")
		}
		pos += n
		seg := ElemSegment{Offset: uint32(off), Entries: make([]int64, 0, c)}
		for j := uint32(0); j < c; j++ {
			idx, n, err := readU32(payload, pos)
			if err != nil {
				return errors.WrapWasmInvalid("element segment entry")
			}
			pos += n
			seg.Entries = append(seg.Entries, int64(idx))
		}
		m.Elems = append(m.Elems, seg)
	}
	return nil
}

// NumImportedFuncs returns the count of originally imported functions.
func (m *Module) NumImportedFuncs() uint32 {
	return uint32(len(m.importedFuncs))
}

// numOriginalFuncs is the original function index space size.
func (m *Module) numOriginalFuncs() uint32 {
	return m.NumImportedFuncs() + uint32(len(m.Funcs))
}

// ImportedFuncID looks up an imported function by its name pair.
func (m *Module) ImportedFuncID(module, name string) (FuncID, bool) {
	for i, impIdx := range m.importedFuncs {
		imp := m.Imports[impIdx]
		if imp.Module == module && imp.Name == name {
			return FuncID(i), true
		}
	}
	return 0, false
}

// IsLocal reports whether id names a defined (non-imported) function.
func (m *Module) IsLocal(id FuncID) bool {
	n0 := m.NumImportedFuncs()
	return uint32(id) >= n0 && uint32(id) < m.numOriginalFuncs()
}

// LocalFunc returns the defined function with the given ID.
func (m *Module) LocalFunc(id FuncID) (*Function, error) {
	if !m.IsLocal(id) {
		return nil, errors.WrapCollaborator(fmt.Sprintf("function %d is not local", id))
	}
	return m.Funcs[uint32(id)-m.NumImportedFuncs()], nil
}

// LocalFuncs yields every defined function in index order.
func (m *Module) LocalFuncs() []*Function {
	return m.Funcs
}

// TypeIdxOfFunc returns the type index of any function, imported, defined or
// added.
func (m *Module) TypeIdxOfFunc(id FuncID) (uint32, error) {
	n0 := m.NumImportedFuncs()
	switch {
	case uint32(id) < n0:
		return m.Imports[m.importedFuncs[id]].TypeIdx, nil
	case m.IsLocal(id):
		return m.Funcs[uint32(id)-n0].TypeIdx, nil
	case uint32(id) < m.numOriginalFuncs()+uint32(len(m.added)):
		return m.added[uint32(id)-m.numOriginalFuncs()].TypeIdx, nil
	}
	return 0, errors.WrapCollaborator(fmt.Sprintf("unknown function id %d", id))
}

// Type returns the function type for a type index.
func (m *Module) Type(typeIdx uint32) (FuncType, error) {
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, errors.WrapCollaborator(fmt.Sprintf("type index %d out of range", typeIdx))
	}
	return m.Types[typeIdx], nil
}

// AddImportFunc appends a new imported function and returns its ID. Existing
// IDs remain valid; binary indices shift only at encode time.
func (m *Module) AddImportFunc(module, name string, typeIdx uint32) FuncID {
	id := FuncID(m.numOriginalFuncs() + uint32(len(m.added)))
	m.added = append(m.added, Import{Module: module, Name: name, Kind: ExternFunc, TypeIdx: typeIdx})
	return id
}

// RetargetCall points the call instruction at (fn, exprID) at a new callee.
// The instruction must be a direct call.
func (m *Module) RetargetCall(fn FuncID, exprID int, callee FuncID) error {
	f, err := m.LocalFunc(fn)
	if err != nil {
		return err
	}
	if exprID < 0 || exprID >= len(f.Body) {
		return errors.WrapCollaborator(fmt.Sprintf("expression %d out of range in function %d", exprID, fn))
	}
	in := &f.Body[exprID]
	if !in.IsCall() {
		return errors.WrapCollaborator(fmt.Sprintf("expression %d in function %d is not a call", exprID, fn))
	}
	in.Index = uint32(callee)
	m.codeDirty = true
	return nil
}

func decodeBody(body []byte) (locals []byte, instrs []Instr, err error) {
	pos := 0
	declCount, n, err := readU32(body, pos)
	if err != nil {
		return nil, nil, err
	}
	pos += n
	for i := uint32(0); i < declCount; i++ {
		_, n, err := readU32(body, pos)
		if err != nil {
			return nil, nil, err
		}
		pos += n
		if pos >= len(body) {
			return nil, nil, fmt.Errorf("local decl truncated")
		}
		pos++
	}
	instrs, err = decodeInstructions(body[pos:])
	if err != nil {
		return nil, nil, err
	}
	return body[:pos], instrs, nil
}

// numLocalDecls decodes the count of declared (non-parameter) locals.
func (f *Function) numLocalDecls() (uint32, error) {
	pos := 0
	declCount, n, err := readU32(f.locals, pos)
	if err != nil {
		return 0, err
	}
	pos += n
	var total uint32
	for i := uint32(0); i < declCount; i++ {
		c, n, err := readU32(f.locals, pos)
		if err != nil {
			return 0, err
		}
		pos += n + 1
		total += c
	}
	return total, nil
}

// NumLocals returns the count of declared locals, excluding parameters.
func (f *Function) NumLocals() (uint32, error) {
	return f.numLocalDecls()
}

func parseFunctionIdxs(payload []byte) ([]uint32, error) {
	pos := 0
	count, n, err := readU32(payload, pos)
	if err != nil {
		return nil, errors.WrapWasmInvalid("function section count")
	}
	pos += n
	out := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		v, n, err := readU32(payload, pos)
		if err != nil {
			return nil, errors.WrapWasmInvalid("function section entry")
		}
		pos += n
		out = append(out, v)
	}
	return out, nil
}

func parseCodeSection(payload []byte) ([][]byte, error) {
	pos := 0
	count, n, err := readU32(payload, pos)
	if err != nil {
		return nil, errors.WrapWasmInvalid("code section count")
	}
	pos += n
	out := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		sz, n, err := readU32(payload, pos)
		if err != nil {
			return nil, errors.WrapWasmInvalid("code body size")
		}
		pos += n
		if pos+int(sz) > len(payload) {
			return nil, errors.WrapWasmInvalid(fmt.Sprintf("code body %d out of bounds", i))
		}
		out = append(out, payload[pos:pos+int(sz)])
		pos += int(sz)
	}
	return out, nil
}

func readName(data []byte, pos int) (string, int, error) {
	l, n, err := readU32(data, pos)
	if err != nil {
		return "", 0, errors.WrapWasmInvalid("name length")
	}
	pos += n
	if pos+int(l) > len(data) {
		return "", 0, errors.WrapWasmInvalid("name out of bounds")
	}
	return string(data[pos : pos+int(l)]), pos + int(l), nil
}

func skipImportDesc(data []byte, pos int, kind byte) (int, error) {
	switch kind {
	case ExternTable:
		if pos >= len(data) {
			return 0, errors.WrapWasmInvalid("table type truncated")
		}
		pos++
		return skipLimits(data, pos)
	case ExternMemory:
		return skipLimits(data, pos)
	case ExternGlobal:
		if pos+2 > len(data) {
			return 0, errors.WrapWasmInvalid("global import truncated")
		}
		return pos + 2, nil
	}
	return 0, errors.WrapWasmInvalid("bad import kind")
}

func skipLimits(data []byte, pos int) (int, error) {
	flags, n, err := readU32(data, pos)
	if err != nil {
		return 0, errors.WrapWasmInvalid("limits flags")
	}
	pos += n
	_, n, err = readU32(data, pos)
	if err != nil {
		return 0, errors.WrapWasmInvalid("limits min")
	}
	pos += n
	if flags&0x01 != 0 {
		_, n, err = readU32(data, pos)
		if err != nil {
			return 0, errors.WrapWasmInvalid("limits max")
		}
		pos += n
	}
	return pos, nil
}

func skipElemSegment(data []byte, pos int, flags uint32) (int, error) {
	skipExpr := func(pos int) (int, error) {
		for pos < len(data) {
			if data[pos] == OpEnd {
				return pos + 1, nil
			}
			pos++
		}
		return 0, errors.WrapWasmInvalid("unterminated const expr")
	}
	skipVec := func(pos int, exprs bool) (int, error) {
		c, n, err := readU32(data, pos)
		if err != nil {
			return 0, errors.WrapWasmInvalid("element vector length")
		}
		pos += n
		for i := uint32(0); i < c; i++ {
			if exprs {
				pos, err = skipExpr(pos)
			} else {
				_, n, err = readU32(data, pos)
				pos += n
			}
			if err != nil {
				return 0, err
			}
		}
		return pos, nil
	}
	var err error
	switch flags {
	case 1:
		pos++ // elemkind
		return skipVec(pos, false)
	case 2:
		if _, n, err := readU32(data, pos); err == nil {
			pos += n
		} else {
			return 0, errors.WrapWasmInvalid("element table index")
		}
		if pos, err = skipExpr(pos); err != nil {
			return 0, err
		}
		pos++ // elemkind
		return skipVec(pos, false)
	case 3:
		pos++ // elemkind
		return skipVec(pos, false)
	case 4:
		if pos, err = skipExpr(pos); err != nil {
			return 0, err
		}
		return skipVec(pos, true)
	case 5, 7:
		pos++ // reftype
		return skipVec(pos, true)
	case 6:
		if _, n, err := readU32(data, pos); err == nil {
			pos += n
		} else {
			return 0, errors.WrapWasmInvalid("element table index")
		}
		if pos, err = skipExpr(pos); err != nil {
			return 0, err
		}
		pos++ // reftype
		return skipVec(pos, true)
	}
	return 0, errors.WrapWasmInvalid(fmt.Sprintf("unsupported element flags %d", flags))
}
