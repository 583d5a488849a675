// Copyright 2025 The wasm-bindgen Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is
var (
	ErrMultipleDescribeCalls = errors.New("multiple describe-closure calls in one function")
	ErrInterpretation        = errors.New("descriptor interpretation failed")
	ErrDescriptorDecode      = errors.New("descriptor decode failed")
	ErrMissingTableSlot      = errors.New("function table slot already empty")
	ErrCollaborator          = errors.New("module collaborator invariant violated")
	ErrWasmInvalid           = errors.New("invalid wasm binary")
	ErrCacheUnavailable      = errors.New("artifact cache unavailable")
)

// Wrap functions for consistent error wrapping
func WrapMultipleDescribeCalls(funcID uint32) error {
	return fmt.Errorf("%w: function %d", ErrMultipleDescribeCalls, funcID)
}

func WrapInterpretation(funcID uint32, msg string) error {
	return fmt.Errorf("%w: function %d: %s", ErrInterpretation, funcID, msg)
}

func WrapDescriptorDecode(msg string) error {
	return fmt.Errorf("%w: %s", ErrDescriptorDecode, msg)
}

func WrapMissingTableSlot(idx uint32) error {
	return fmt.Errorf("%w: slot %d", ErrMissingTableSlot, idx)
}

func WrapCollaborator(msg string) error {
	return fmt.Errorf("%w: %s", ErrCollaborator, msg)
}

func WrapWasmInvalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrWasmInvalid, msg)
}

func WrapCacheUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
}
