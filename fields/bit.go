// Copyright 2020-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fields

import (
	"fmt"

	"github.com/ralphje/destructify"
	"github.com/ralphje/destructify/internal/stream"
)

// BitOption configures a [BitField].
type BitOption struct{ apply func(*BitField) }

// WithBitSigned marks the field as two's-complement signed over its bit
// width. Unsigned is the default.
func WithBitSigned(signed bool) BitOption {
	return BitOption{func(f *BitField) { f.signed = signed }}
}

// WithRealign forces the shared bit cursor to discard its buffered
// partial byte (read) or zero-pad and flush it (write) and advance to the
// next byte boundary immediately after this field, per the design
// document's realign BitField parameter (§4.5, §4.6). Without this, the
// engine only realigns when the next field in the structure is not itself
// a BitField; WithRealign(true) forces the realignment even when another
// BitField immediately follows.
func WithRealign(realign bool) BitOption {
	return BitOption{func(f *BitField) { f.realign = realign }}
}

// BitField reads/writes length bits (1-64) through the structure's shared
// bit cursor, per the design document's bit-level composition rules
// (§4.6): consecutive BitFields pack into the same run of bytes,
// MSB-first, and the engine realigns to the next byte boundary whenever
// a non-bit field follows, or whenever this field was built with
// WithRealign(true). Structure alignment is not applied to a BitField that
// starts inside a byte a previous BitField partially consumed; one that
// starts on a byte boundary is aligned like any other field.
//
// BitField does not support laziness: its value only exists as a
// fragment of a shared byte, so it cannot be skipped independently of
// the fields around it. Offset and Skip are honored, but only make
// sense when the cursor is already byte-aligned.
type BitField struct {
	base *destructify.Base

	length  int
	signed  bool
	realign bool
}

// NewBit creates a BitField spanning length bits (1-64).
func NewBit(length int, opts ...BitOption) *BitField {
	f := &BitField{base: &destructify.Base{}, length: length}
	for _, o := range opts {
		o.apply(f)
	}
	return f
}

func (f *BitField) Base() *destructify.Base { return f.base }
func (f *BitField) IsBit() bool             { return true }
func (f *BitField) IntrinsicDefault() any   { return int64(0) }

// Realigns reports whether this field was declared with WithRealign(true),
// per the structure engine's bitRealigner hook.
func (f *BitField) Realigns() bool { return f.realign }

// Len reports the field's width in bits, not bytes.
func (f *BitField) Len(*destructify.Context) (int64, bool) { return int64(f.length), true }

// SeekEnd always fails: a bit field cannot be skipped past without
// consuming it from the shared cursor, so it is never eligible for
// laziness.
func (f *BitField) SeekEnd(ctx *destructify.Context, s stream.Stream, start int64) (int64, error) {
	return 0, destructify.ErrImpossibleToCalculateLength
}

func (f *BitField) FromStream(ctx *destructify.Context, s stream.Stream) (any, int64, error) {
	u, err := ctx.Bits().ReadBits(f.length)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", destructify.ErrStreamExhausted, err)
	}
	if !f.signed {
		return int64(u), int64(f.length), nil
	}
	return signExtendBits(u, f.length), int64(f.length), nil
}

func (f *BitField) ToStream(ctx *destructify.Context, s stream.Stream, value any) (int64, error) {
	iv, err := destructify.ToInt64(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", destructify.ErrWriteError, err)
	}
	if err := checkBitRange(iv, f.length, f.signed); err != nil {
		return 0, err
	}
	if err := ctx.Bits().WriteBits(uint64(iv), f.length); err != nil {
		return 0, err
	}
	return int64(f.length), nil
}

func checkBitRange(v int64, length int, signed bool) error {
	if length >= 64 {
		return nil
	}
	bits := uint(length)
	if signed {
		max := int64(1)<<(bits-1) - 1
		min := -(int64(1) << (bits - 1))
		if v > max || v < min {
			return fmt.Errorf("%w: value %d does not fit in signed %d-bit field", destructify.ErrOverflow, v, length)
		}
		return nil
	}
	if v < 0 {
		return fmt.Errorf("%w: negative value %d in unsigned field", destructify.ErrOverflow, v)
	}
	max := int64(1)<<bits - 1
	if v > max {
		return fmt.Errorf("%w: value %d does not fit in unsigned %d-bit field", destructify.ErrOverflow, v, length)
	}
	return nil
}

func signExtendBits(u uint64, length int) int64 {
	bits := uint(length)
	if bits >= 64 {
		return int64(u)
	}
	signBit := uint64(1) << (bits - 1)
	if u&signBit != 0 {
		return int64(u - (1 << bits))
	}
	return int64(u)
}
