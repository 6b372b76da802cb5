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

// IntegerOption configures an [IntegerField].
type IntegerOption struct{ apply func(*IntegerField) }

// WithIntegerByteOrder overrides the owning structure's default byte
// order for this field.
func WithIntegerByteOrder(bo destructify.ByteOrder) IntegerOption {
	return IntegerOption{func(f *IntegerField) { f.byteOrder = &bo }}
}

// WithSigned marks the field as two's-complement signed. Unsigned is the
// default.
func WithSigned(signed bool) IntegerOption {
	return IntegerOption{func(f *IntegerField) { f.signed = signed }}
}

// IntegerField reads/writes a fixed-width two's-complement integer, per
// the design document's IntegerField contract.
type IntegerField struct {
	base *destructify.Base

	length    int
	byteOrder *destructify.ByteOrder
	signed    bool
}

// NewInteger creates a fixed-width IntegerField of length bytes
// (length >= 1).
func NewInteger(length int, opts ...IntegerOption) *IntegerField {
	f := &IntegerField{base: &destructify.Base{}, length: length}
	for _, o := range opts {
		o.apply(f)
	}
	return f
}

func (f *IntegerField) Base() *destructify.Base { return f.base }
func (f *IntegerField) IsBit() bool             { return false }
func (f *IntegerField) IntrinsicDefault() any    { return int64(0) }

func (f *IntegerField) Len(*destructify.Context) (int64, bool) { return int64(f.length), true }

func (f *IntegerField) SeekEnd(ctx *destructify.Context, s stream.Stream, start int64) (int64, error) {
	return destructify.DefaultSeekEnd(f, ctx, s, start)
}

func (f *IntegerField) resolveByteOrder(ctx *destructify.Context) destructify.ByteOrder {
	if f.byteOrder != nil {
		return *f.byteOrder
	}
	return ctx.ByteOrder()
}

func (f *IntegerField) FromStream(ctx *destructify.Context, s stream.Stream) (any, int64, error) {
	buf, err := s.Read(f.length)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", destructify.ErrStreamExhausted, err)
	}
	u := decodeUint(buf, f.resolveByteOrder(ctx))
	if !f.signed {
		return int64(u), int64(len(buf)), nil
	}
	return signExtend(u, f.length), int64(len(buf)), nil
}

func (f *IntegerField) ToStream(ctx *destructify.Context, s stream.Stream, value any) (int64, error) {
	iv, err := destructify.ToInt64(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", destructify.ErrWriteError, err)
	}
	if err := f.checkRange(iv); err != nil {
		return 0, err
	}
	buf := encodeUint(uint64(iv), f.length, f.resolveByteOrder(ctx))
	n, err := s.Write(buf)
	return int64(n), err
}

func (f *IntegerField) checkRange(v int64) error {
	if f.length >= 8 {
		return nil
	}
	bits := uint(f.length * 8)
	if f.signed {
		max := int64(1)<<(bits-1) - 1
		min := -(int64(1) << (bits - 1))
		if v > max || v < min {
			return fmt.Errorf("%w: value %d does not fit in signed %d-byte field", destructify.ErrOverflow, v, f.length)
		}
		return nil
	}
	if v < 0 {
		return fmt.Errorf("%w: negative value %d in unsigned field", destructify.ErrOverflow, v)
	}
	max := int64(1)<<bits - 1
	if v > max {
		return fmt.Errorf("%w: value %d does not fit in unsigned %d-byte field", destructify.ErrOverflow, v, f.length)
	}
	return nil
}

func decodeUint(buf []byte, bo destructify.ByteOrder) uint64 {
	var v uint64
	if bo == destructify.LittleEndian {
		for i := len(buf) - 1; i >= 0; i-- {
			v = v<<8 | uint64(buf[i])
		}
		return v
	}
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v
}

func encodeUint(u uint64, length int, bo destructify.ByteOrder) []byte {
	buf := make([]byte, length)
	if bo == destructify.LittleEndian {
		for i := 0; i < length; i++ {
			buf[i] = byte(u)
			u >>= 8
		}
		return buf
	}
	for i := length - 1; i >= 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
	return buf
}

func signExtend(u uint64, length int) int64 {
	bits := uint(length * 8)
	if bits >= 64 {
		return int64(u)
	}
	signBit := uint64(1) << (bits - 1)
	if u&signBit != 0 {
		return int64(u - (1 << bits))
	}
	return int64(u)
}
