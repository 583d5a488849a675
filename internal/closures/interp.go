// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package closures

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fitzgen/wasm-bindgen/internal/errors"
	"github.com/fitzgen/wasm-bindgen/internal/telemetry"
	"github.com/fitzgen/wasm-bindgen/internal/wasm"
)

// maxCallDepth bounds descriptor recursion. Descriptor subprograms are
// straight-line chains of monomorphized describe helpers; anything deeper is
// a malformed module.
const maxCallDepth = 128

// value is one abstract stack slot. Constants are known; function parameters
// of the enclosing function and results of the describe-closure placeholder
// are opaque.
type value struct {
	v     uint32
	known bool
}

// interpreter is a deliberately narrow abstract evaluator over function
// bodies: integer constants, local get/set and calls, plus the structural
// opcodes around them. Anything else the front-end never emits near a
// describe call, so it fails the rewrite.
type interpreter struct {
	mod             *wasm.Module
	describe        wasm.FuncID
	hasDescribe     bool
	describeClosure wasm.FuncID

	out          []uint32
	descriptorFn *uint32
	depth        int
}

// interpretDescriptor executes the enclosing function to recover the
// function-table index of the descriptor subprogram, then executes that
// subprogram and collects the words it feeds to the describe placeholder.
// Every table slot visited is added to removal.
func interpretDescriptor(
	ctx context.Context,
	mod *wasm.Module,
	enclosing wasm.FuncID,
	describeClosure wasm.FuncID,
	removal map[uint32]struct{},
) ([]uint32, error) {
	_, span := telemetry.StartSpan(ctx, "closures.interpret")
	defer span.End()
	span.SetAttributes(attribute.Int("closures.enclosing_func", int(enclosing)))

	it := &interpreter{mod: mod, describeClosure: describeClosure}
	if id, ok := mod.ImportedFuncID(PlaceholderModule, DescribeName); ok {
		it.describe = id
		it.hasDescribe = true
	}

	f, err := mod.LocalFunc(enclosing)
	if err != nil {
		return nil, errors.WrapInterpretation(uint32(enclosing), err.Error())
	}
	typeIdx, err := mod.TypeIdxOfFunc(enclosing)
	if err != nil {
		return nil, errors.WrapInterpretation(uint32(enclosing), err.Error())
	}
	ft, err := mod.Type(typeIdx)
	if err != nil {
		return nil, errors.WrapInterpretation(uint32(enclosing), err.Error())
	}
	// The environment words the enclosing function receives are opaque.
	args := make([]value, len(ft.Params))
	if _, err := it.eval(f, args); err != nil {
		return nil, errors.WrapInterpretation(uint32(enclosing), err.Error())
	}
	if it.descriptorFn == nil {
		return nil, errors.WrapInterpretation(uint32(enclosing), "describe-closure call never executed")
	}

	slot := *it.descriptorFn
	target, ok := mod.TableSlot(slot)
	if !ok {
		return nil, errors.WrapInterpretation(uint32(enclosing),
			fmt.Sprintf("table slot %d does not hold a function", slot))
	}
	removal[slot] = struct{}{}

	df, err := mod.LocalFunc(target)
	if err != nil {
		return nil, errors.WrapInterpretation(uint32(enclosing), err.Error())
	}
	if _, err := it.eval(df, nil); err != nil {
		return nil, errors.WrapInterpretation(uint32(enclosing), err.Error())
	}
	return it.out, nil
}

// eval runs one function body. Results are whatever remains on the stack.
func (it *interpreter) eval(f *wasm.Function, args []value) ([]value, error) {
	if it.depth >= maxCallDepth {
		return nil, fmt.Errorf("descriptor call depth exceeds %d", maxCallDepth)
	}
	it.depth++
	defer func() { it.depth-- }()

	nLocals, err := f.NumLocals()
	if err != nil {
		return nil, err
	}
	locals := make([]value, uint32(len(args))+nLocals)
	copy(locals, args)
	for i := len(args); i < len(locals); i++ {
		locals[i] = value{v: 0, known: true}
	}

	var stack []value
	pop := func() (value, error) {
		if len(stack) == 0 {
			return value{}, fmt.Errorf("evaluation stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}

	for pc := 0; pc < len(f.Body); pc++ {
		in := &f.Body[pc]
		switch in.Opcode {
		case wasm.OpNop:
		case wasm.OpEnd:
			if pc != len(f.Body)-1 {
				return nil, fmt.Errorf("unsupported opcode 0x%02x: block structure", in.Opcode)
			}
		case wasm.OpReturn:
			return stack, nil
		case wasm.OpDrop:
			if _, err := pop(); err != nil {
				return nil, err
			}
		case wasm.OpI32Const:
			stack = append(stack, value{v: uint32(in.I32), known: true})
		case wasm.OpLocalGet:
			if int(in.Index) >= len(locals) {
				return nil, fmt.Errorf("local %d out of range", in.Index)
			}
			stack = append(stack, locals[in.Index])
		case wasm.OpLocalSet, wasm.OpLocalTee:
			if int(in.Index) >= len(locals) {
				return nil, fmt.Errorf("local %d out of range", in.Index)
			}
			v, err := pop()
			if err != nil {
				return nil, err
			}
			locals[in.Index] = v
			if in.Opcode == wasm.OpLocalTee {
				stack = append(stack, v)
			}
		case wasm.OpCall:
			res, err := it.call(wasm.FuncID(in.Index), pop)
			if err != nil {
				return nil, err
			}
			stack = append(stack, res...)
		default:
			return nil, fmt.Errorf("unsupported opcode 0x%02x during interpretation", in.Opcode)
		}
	}
	return stack, nil
}

func (it *interpreter) call(callee wasm.FuncID, pop func() (value, error)) ([]value, error) {
	// The describe-closure placeholder: arguments are (a, b, descriptor
	// table index), pushed in that order, so the index is on top.
	if callee == it.describeClosure {
		idx, err := pop()
		if err != nil {
			return nil, err
		}
		if _, err := pop(); err != nil {
			return nil, err
		}
		if _, err := pop(); err != nil {
			return nil, err
		}
		if !idx.known {
			return nil, fmt.Errorf("descriptor table index is not a constant")
		}
		if it.descriptorFn != nil {
			return nil, fmt.Errorf("describe-closure executed more than once")
		}
		v := idx.v
		it.descriptorFn = &v
		return []value{{}}, nil
	}

	// The describe placeholder records one constant word.
	if it.hasDescribe && callee == it.describe {
		w, err := pop()
		if err != nil {
			return nil, err
		}
		if !w.known {
			return nil, fmt.Errorf("describe argument is not a constant")
		}
		it.out = append(it.out, w.v)
		return nil, nil
	}

	if !it.mod.IsLocal(callee) {
		return nil, fmt.Errorf("call to unsupported import (function %d)", callee)
	}
	f, err := it.mod.LocalFunc(callee)
	if err != nil {
		return nil, err
	}
	typeIdx, err := it.mod.TypeIdxOfFunc(callee)
	if err != nil {
		return nil, err
	}
	ft, err := it.mod.Type(typeIdx)
	if err != nil {
		return nil, err
	}
	args := make([]value, len(ft.Params))
	for i := len(args) - 1; i >= 0; i-- {
		v, err := pop()
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	res, err := it.eval(f, args)
	if err != nil {
		return nil, err
	}
	if len(res) != len(ft.Results) {
		return nil, fmt.Errorf("function %d left %d values for %d results", callee, len(res), len(ft.Results))
	}
	return res, nil
}
