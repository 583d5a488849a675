// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

// Package descriptor decodes the word streams produced by executing closure
// descriptor subprograms. A descriptor is a prefix-typed tree: the leading
// word names the shape and every integer field is a single word.
package descriptor

import (
	"fmt"

	"github.com/fitzgen/wasm-bindgen/internal/errors"
)

// Descriptor word tags.
const (
	TagI8       uint32 = 0
	TagU8       uint32 = 1
	TagI16      uint32 = 2
	TagU16      uint32 = 3
	TagI32      uint32 = 4
	TagU32      uint32 = 5
	TagI64      uint32 = 6
	TagU64      uint32 = 7
	TagF32      uint32 = 8
	TagF64      uint32 = 9
	TagBoolean  uint32 = 10
	TagFunction uint32 = 11
	TagClosure  uint32 = 12
	TagChar     uint32 = 13
	TagAnyref   uint32 = 14
	TagUnit     uint32 = 15
	TagFn       uint32 = 16
	TagFnMut    uint32 = 17
	TagFnOnce   uint32 = 18
)

// Flavor is the calling discipline a closure obeys.
type Flavor int

const (
	// Fn closures are reentrant over an immutable environment.
	Fn Flavor = iota
	// FnMut closures are non-reentrant but re-callable.
	FnMut
	// FnOnce closures are one-shot; the invoker consumes the environment.
	FnOnce
)

func (f Flavor) String() string {
	switch f {
	case Fn:
		return "Fn"
	case FnMut:
		return "FnMut"
	case FnOnce:
		return "FnOnce"
	}
	return fmt.Sprintf("Flavor(%d)", int(f))
}

// VType is one wasm-representable semantic type in a closure signature.
type VType uint32

const (
	I8      = VType(TagI8)
	U8      = VType(TagU8)
	I16     = VType(TagI16)
	U16     = VType(TagU16)
	I32     = VType(TagI32)
	U32     = VType(TagU32)
	I64     = VType(TagI64)
	U64     = VType(TagU64)
	F32     = VType(TagF32)
	F64     = VType(TagF64)
	Boolean = VType(TagBoolean)
	Char    = VType(TagChar)
	Anyref  = VType(TagAnyref)
	Unit    = VType(TagUnit)
)

// IsNumber reports whether the type marshals as a plain JS number.
func (t VType) IsNumber() bool {
	return t <= F64
}

// Function is a closure's call signature.
type Function struct {
	// Invoke is the function table index of the monomorphized invoker.
	Invoke uint32
	Args   []VType
	Ret    VType
}

// Closure is the decoded form of a CLOSURE descriptor.
type Closure struct {
	// Shim and Dtor are function table indices of the invoker and
	// destructor shims.
	Shim   uint32
	Dtor   uint32
	Flavor Flavor
	Func   Function
}

type reader struct {
	words []uint32
	pos   int
}

func (r *reader) next() (uint32, error) {
	if r.pos >= len(r.words) {
		return 0, errors.WrapDescriptorDecode("truncated descriptor stream")
	}
	w := r.words[r.pos]
	r.pos++
	return w, nil
}

// Decode parses a descriptor word stream. Only the CLOSURE shape is accepted
// here; anything else the rewriter has no business seeing.
func Decode(words []uint32) (*Closure, error) {
	r := &reader{words: words}
	tag, err := r.next()
	if err != nil {
		return nil, err
	}
	if tag != TagClosure {
		return nil, errors.WrapDescriptorDecode(fmt.Sprintf("expected CLOSURE, got tag %d", tag))
	}
	c := &Closure{}
	if c.Shim, err = r.next(); err != nil {
		return nil, err
	}
	if c.Dtor, err = r.next(); err != nil {
		return nil, err
	}
	flavor, err := r.next()
	if err != nil {
		return nil, err
	}
	switch flavor {
	case TagFn:
		c.Flavor = Fn
	case TagFnMut:
		c.Flavor = FnMut
	case TagFnOnce:
		c.Flavor = FnOnce
	default:
		return nil, errors.WrapDescriptorDecode(fmt.Sprintf("unknown closure flavor tag %d", flavor))
	}
	fn, err := decodeFunction(r)
	if err != nil {
		return nil, err
	}
	c.Func = *fn
	if r.pos != len(r.words) {
		return nil, errors.WrapDescriptorDecode(
			fmt.Sprintf("%d trailing descriptor words", len(r.words)-r.pos))
	}
	return c, nil
}

func decodeFunction(r *reader) (*Function, error) {
	tag, err := r.next()
	if err != nil {
		return nil, err
	}
	if tag != TagFunction {
		return nil, errors.WrapDescriptorDecode(fmt.Sprintf("expected FUNCTION, got tag %d", tag))
	}
	fn := &Function{}
	if fn.Invoke, err = r.next(); err != nil {
		return nil, err
	}
	argc, err := r.next()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < argc; i++ {
		t, err := decodeVType(r)
		if err != nil {
			return nil, err
		}
		fn.Args = append(fn.Args, t)
	}
	if fn.Ret, err = decodeVType(r); err != nil {
		return nil, err
	}
	return fn, nil
}

func decodeVType(r *reader) (VType, error) {
	tag, err := r.next()
	if err != nil {
		return 0, err
	}
	switch tag {
	case TagI8, TagU8, TagI16, TagU16, TagI32, TagU32, TagI64, TagU64,
		TagF32, TagF64, TagBoolean, TagChar, TagAnyref, TagUnit:
		return VType(tag), nil
	}
	return 0, errors.WrapDescriptorDecode(fmt.Sprintf("unknown type tag %d", tag))
}
