// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package wasm

import (
	"github.com/fitzgen/wasm-bindgen/internal/errors"
)

// HasFunctionTable reports whether the module carries a default function
// table, defined or imported.
func (m *Module) HasFunctionTable() bool {
	return m.hasTable
}

// TableSlot resolves index idx of the default function table through the
// active element segments. The second result is false when no segment covers
// the index or the slot was cleared.
func (m *Module) TableSlot(idx uint32) (FuncID, bool) {
	for i := range m.Elems {
		seg := &m.Elems[i]
		if seg.Entries == nil {
			continue
		}
		if idx < seg.Offset || idx >= seg.Offset+uint32(len(seg.Entries)) {
			continue
		}
		e := seg.Entries[idx-seg.Offset]
		if e < 0 {
			return 0, false
		}
		return FuncID(e), true
	}
	return 0, false
}

// ClearTableSlot empties the slot at idx. The slot must currently be
// occupied; clearing never renumbers the slots after it. At encode time the
// segment is split around the hole.
func (m *Module) ClearTableSlot(idx uint32) error {
	for i := range m.Elems {
		seg := &m.Elems[i]
		if seg.Entries == nil {
			continue
		}
		if idx < seg.Offset || idx >= seg.Offset+uint32(len(seg.Entries)) {
			continue
		}
		if seg.Entries[idx-seg.Offset] < 0 {
			return errors.WrapMissingTableSlot(idx)
		}
		seg.Entries[idx-seg.Offset] = -1
		m.elemDirty = true
		return nil
	}
	return errors.WrapMissingTableSlot(idx)
}
