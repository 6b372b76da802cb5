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
	"math"
	"unicode"

	"github.com/ralphje/destructify"
	"github.com/ralphje/destructify/internal/stream"
)

// structOpKind classifies how a single format letter's bytes are
// interpreted.
type structOpKind int

const (
	kindUint structOpKind = iota
	kindInt
	kindBool
	kindFloat
)

type structOp struct {
	letter byte
	size   int
	kind   structOpKind
}

// structLetters maps every supported format letter (a subset of the
// classic packed-struct grammar) to its size in bytes and value kind.
var structLetters = map[byte]structOp{
	'c': {'c', 1, kindUint},
	'b': {'b', 1, kindInt},
	'B': {'B', 1, kindUint},
	'?': {'?', 1, kindBool},
	'h': {'h', 2, kindInt},
	'H': {'H', 2, kindUint},
	'i': {'i', 4, kindInt},
	'I': {'I', 4, kindUint},
	'l': {'l', 4, kindInt},
	'L': {'L', 4, kindUint},
	'q': {'q', 8, kindInt},
	'Q': {'Q', 8, kindUint},
	'n': {'n', 8, kindInt},
	'N': {'N', 8, kindUint},
	'e': {'e', 2, kindFloat},
	'f': {'f', 4, kindFloat},
	'd': {'d', 8, kindFloat},
}

// parseStructFormat parses format into its ops and an optional explicit
// byte order prefix ('<' little; '>'/'!' big; '='/'@' structure default).
// A numeric prefix before a letter repeats it, e.g. "4B" is four
// unsigned bytes.
func parseStructFormat(format string) ([]structOp, *destructify.ByteOrder, error) {
	var bo *destructify.ByteOrder
	i := 0
	if len(format) > 0 {
		switch format[0] {
		case '<':
			v := destructify.LittleEndian
			bo = &v
			i++
		case '>', '!':
			v := destructify.BigEndian
			bo = &v
			i++
		case '=', '@':
			i++
		}
	}
	var ops []structOp
	for i < len(format) {
		count := 0
		hasCount := false
		for i < len(format) && unicode.IsDigit(rune(format[i])) {
			count = count*10 + int(format[i]-'0')
			hasCount = true
			i++
		}
		if i >= len(format) {
			return nil, nil, fmt.Errorf("%w: StructField format %q ends with a count but no letter", destructify.ErrParseError, format)
		}
		op, ok := structLetters[format[i]]
		if !ok {
			return nil, nil, fmt.Errorf("%w: StructField format %q has unsupported letter %q", destructify.ErrParseError, format, format[i])
		}
		i++
		if !hasCount {
			count = 1
		}
		for n := 0; n < count; n++ {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return nil, nil, fmt.Errorf("%w: StructField format %q has no value letters", destructify.ErrParseError, format)
	}
	return ops, bo, nil
}

// StructField interprets a fixed sequence of packed-struct format letters
// (a subset: c,b,B,?,h,H,i,I,l,L,q,Q,n,N,e,f,d), per the design document's
// StructField contract. With multibyte set, the format's bytes are
// instead glued together into a single multi-byte integer (e.g. "4B"
// read as one 32-bit value) rather than one value per letter.
type StructField struct {
	base *destructify.Base

	format    string
	ops       []structOp
	formatBO  *destructify.ByteOrder
	byteOrder *destructify.ByteOrder
	multibyte bool
}

// StructOption configures a [StructField].
type StructOption struct{ apply func(*StructField) }

// WithStructByteOrder overrides both the structure's default byte order
// and any byte-order prefix baked into the format string.
func WithStructByteOrder(bo destructify.ByteOrder) StructOption {
	return StructOption{func(f *StructField) { f.byteOrder = &bo }}
}

// WithMultibyte glues the format's bytes into a single multi-byte
// integer instead of producing one value per format letter.
func WithMultibyte(multibyte bool) StructOption {
	return StructOption{func(f *StructField) { f.multibyte = multibyte }}
}

// NewStruct creates a StructField from a format string.
func NewStruct(format string, opts ...StructOption) (*StructField, error) {
	ops, bo, err := parseStructFormat(format)
	if err != nil {
		return nil, err
	}
	f := &StructField{base: &destructify.Base{}, format: format, ops: ops, formatBO: bo}
	for _, o := range opts {
		o.apply(f)
	}
	return f, nil
}

func (f *StructField) Base() *destructify.Base { return f.base }
func (f *StructField) IsBit() bool             { return false }

func (f *StructField) IntrinsicDefault() any {
	if f.multibyte || len(f.ops) == 1 {
		return f.zeroFor(f.ops[0])
	}
	out := make([]any, len(f.ops))
	for i, op := range f.ops {
		out[i] = f.zeroFor(op)
	}
	return out
}

func (f *StructField) zeroFor(op structOp) any {
	switch op.kind {
	case kindBool:
		return false
	case kindFloat:
		return float64(0)
	default:
		return int64(0)
	}
}

func (f *StructField) totalSize() int64 {
	var n int64
	for _, op := range f.ops {
		n += int64(op.size)
	}
	return n
}

func (f *StructField) Len(*destructify.Context) (int64, bool) { return f.totalSize(), true }

func (f *StructField) SeekEnd(ctx *destructify.Context, s stream.Stream, start int64) (int64, error) {
	return destructify.DefaultSeekEnd(f, ctx, s, start)
}

func (f *StructField) resolveByteOrder(ctx *destructify.Context) destructify.ByteOrder {
	if f.byteOrder != nil {
		return *f.byteOrder
	}
	if f.formatBO != nil {
		return *f.formatBO
	}
	return ctx.ByteOrder()
}

func (f *StructField) FromStream(ctx *destructify.Context, s stream.Stream) (any, int64, error) {
	bo := f.resolveByteOrder(ctx)
	total := f.totalSize()

	if f.multibyte {
		buf, err := s.Read(int(total))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", destructify.ErrStreamExhausted, err)
		}
		return int64(decodeUint(buf, bo)), int64(len(buf)), nil
	}

	values := make([]any, len(f.ops))
	var consumed int64
	for i, op := range f.ops {
		buf, err := s.Read(op.size)
		if err != nil {
			return nil, consumed, fmt.Errorf("%w: %w", destructify.ErrStreamExhausted, err)
		}
		consumed += int64(len(buf))
		v, err := decodeStructOp(op, buf, bo)
		if err != nil {
			return nil, consumed, err
		}
		values[i] = v
	}
	if len(values) == 1 {
		return values[0], consumed, nil
	}
	return values, consumed, nil
}

func (f *StructField) ToStream(ctx *destructify.Context, s stream.Stream, value any) (int64, error) {
	bo := f.resolveByteOrder(ctx)

	if f.multibyte {
		iv, err := destructify.ToInt64(value)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", destructify.ErrWriteError, err)
		}
		buf := encodeUint(uint64(iv), int(f.totalSize()), bo)
		n, err := s.Write(buf)
		return int64(n), err
	}

	var values []any
	if len(f.ops) == 1 {
		values = []any{value}
	} else {
		vs, ok := value.([]any)
		if !ok || len(vs) != len(f.ops) {
			return 0, fmt.Errorf("%w: StructField %q requires %d values, got %T", destructify.ErrWriteError, f.format, len(f.ops), value)
		}
		values = vs
	}

	var written int64
	for i, op := range f.ops {
		buf, err := encodeStructOp(op, values[i], bo)
		if err != nil {
			return written, err
		}
		n, err := s.Write(buf)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func decodeStructOp(op structOp, buf []byte, bo destructify.ByteOrder) (any, error) {
	switch op.kind {
	case kindBool:
		return buf[0] != 0, nil
	case kindFloat:
		u := decodeUint(buf, bo)
		switch op.size {
		case 2:
			return halfToFloat64(uint16(u)), nil
		case 4:
			return float64(math.Float32frombits(uint32(u))), nil
		default:
			return math.Float64frombits(u), nil
		}
	case kindInt:
		return signExtend(decodeUint(buf, bo), op.size), nil
	default:
		return int64(decodeUint(buf, bo)), nil
	}
}

func encodeStructOp(op structOp, value any, bo destructify.ByteOrder) ([]byte, error) {
	switch op.kind {
	case kindBool:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: StructField letter %q requires a bool, got %T", destructify.ErrWriteError, op.letter, value)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case kindFloat:
		var f64 float64
		switch v := value.(type) {
		case float64:
			f64 = v
		case float32:
			f64 = float64(v)
		default:
			iv, err := destructify.ToInt64(value)
			if err != nil {
				return nil, fmt.Errorf("%w: StructField letter %q requires a float, got %T", destructify.ErrWriteError, op.letter, value)
			}
			f64 = float64(iv)
		}
		switch op.size {
		case 2:
			return encodeUint(uint64(float64ToHalf(f64)), 2, bo), nil
		case 4:
			return encodeUint(uint64(math.Float32bits(float32(f64))), 4, bo), nil
		default:
			return encodeUint(math.Float64bits(f64), 8, bo), nil
		}
	default:
		iv, err := destructify.ToInt64(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", destructify.ErrWriteError, err)
		}
		if err := checkRangeForOp(op, iv); err != nil {
			return nil, err
		}
		return encodeUint(uint64(iv), op.size, bo), nil
	}
}

func checkRangeForOp(op structOp, v int64) error {
	bits := uint(op.size * 8)
	if bits >= 64 {
		return nil
	}
	if op.kind == kindInt {
		max := int64(1)<<(bits-1) - 1
		min := -(int64(1) << (bits - 1))
		if v > max || v < min {
			return fmt.Errorf("%w: value %d does not fit in signed %q", destructify.ErrOverflow, v, op.letter)
		}
		return nil
	}
	if v < 0 || v > int64(1)<<bits-1 {
		return fmt.Errorf("%w: value %d does not fit in unsigned %q", destructify.ErrOverflow, v, op.letter)
	}
	return nil
}

// halfToFloat64 converts an IEEE 754 binary16 value to float64.
func halfToFloat64(h uint16) float64 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff

	var f32 uint32
	switch exp {
	case 0:
		if frac == 0 {
			f32 = sign << 31
		} else {
			// subnormal half -> normalize into a float32
			for frac&0x400 == 0 {
				frac <<= 1
				exp--
			}
			exp++
			frac &= 0x3ff
			f32 = sign<<31 | (exp+112)<<23 | frac<<13
		}
	case 0x1f:
		f32 = sign<<31 | 0xff<<23 | frac<<13
	default:
		f32 = sign<<31 | (exp+112)<<23 | frac<<13
	}
	return float64(math.Float32frombits(f32))
}

// float64ToHalf converts a float64 to IEEE 754 binary16 by truncating the
// mantissa (round toward zero). Values too small for a normal half become
// signed zero (no subnormals are produced), values too large become
// infinity, and NaN becomes a quiet NaN without its payload.
func float64ToHalf(v float64) uint16 {
	f32 := math.Float32bits(float32(v))
	sign := uint16(f32>>16) & 0x8000
	exp := int32(f32>>23)&0xff - 127 + 15
	frac := f32 & 0x7fffff

	if f32&0x7fffffff > 0x7f800000 {
		return sign | 0x7e00
	}
	switch {
	case exp <= 0:
		return sign
	case exp >= 0x1f:
		return sign | 0x7c00
	default:
		return sign | uint16(exp)<<10 | uint16(frac>>13)
	}
}

// CharField reads a single raw byte as its numeric value (0-255).
func CharField() (*StructField, error) { return NewStruct("c") }

// UnsignedByteField reads a single unsigned byte.
func UnsignedByteField() (*StructField, error) { return NewStruct("B") }

// SignedByteField reads a single signed byte.
func SignedByteField() (*StructField, error) { return NewStruct("b") }

// BoolField reads a single byte as a boolean.
func BoolField() (*StructField, error) { return NewStruct("?") }

// ShortField reads a signed 16-bit integer.
func ShortField() (*StructField, error) { return NewStruct("h") }

// UnsignedShortField reads an unsigned 16-bit integer.
func UnsignedShortField() (*StructField, error) { return NewStruct("H") }

// IntField reads a signed 32-bit integer.
func IntField() (*StructField, error) { return NewStruct("i") }

// UnsignedIntField reads an unsigned 32-bit integer.
func UnsignedIntField() (*StructField, error) { return NewStruct("I") }

// LongLongField reads a signed 64-bit integer.
func LongLongField() (*StructField, error) { return NewStruct("q") }

// UnsignedLongLongField reads an unsigned 64-bit integer.
func UnsignedLongLongField() (*StructField, error) { return NewStruct("Q") }

// HalfFloatField reads an IEEE 754 binary16 value.
func HalfFloatField() (*StructField, error) { return NewStruct("e") }

// FloatField reads an IEEE 754 binary32 value.
func FloatField() (*StructField, error) { return NewStruct("f") }

// DoubleField reads an IEEE 754 binary64 value.
func DoubleField() (*StructField, error) { return NewStruct("d") }
