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
	"io"

	"github.com/ralphje/destructify"
	"github.com/ralphje/destructify/internal/stream"
)

// VariableLengthIntegerField reads/writes a non-negative integer as
// base-128 groups of 7 bits, MSB-first, with the high bit of every byte
// but the last set to signal continuation. This is the same
// continuation-bit idea as HPACK's variable-length integers, but with
// the opposite group order (most-significant group first) and no prefix
// bits stolen from the first byte.
type VariableLengthIntegerField struct {
	base *destructify.Base
}

// NewVariableLengthInteger creates a VariableLengthIntegerField.
func NewVariableLengthInteger() *VariableLengthIntegerField {
	return &VariableLengthIntegerField{base: &destructify.Base{}}
}

func (f *VariableLengthIntegerField) Base() *destructify.Base { return f.base }
func (f *VariableLengthIntegerField) IsBit() bool              { return false }
func (f *VariableLengthIntegerField) IntrinsicDefault() any    { return int64(0) }

// Len is never statically known: the whole point of this encoding is
// that its length depends on the value.
func (f *VariableLengthIntegerField) Len(*destructify.Context) (int64, bool) { return 0, false }

func (f *VariableLengthIntegerField) SeekEnd(ctx *destructify.Context, s stream.Stream, start int64) (int64, error) {
	for {
		b, err := s.Read(1)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", destructify.ErrStreamExhausted, err)
		}
		if len(b) == 0 {
			return 0, destructify.ErrStreamExhausted
		}
		if b[0]&0x80 == 0 {
			break
		}
	}
	return s.Tell()
}

func (f *VariableLengthIntegerField) FromStream(ctx *destructify.Context, s stream.Stream) (any, int64, error) {
	v, n, err := decodeVarint(s)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", destructify.ErrStreamExhausted, err)
	}
	return int64(v), n, nil
}

func (f *VariableLengthIntegerField) ToStream(ctx *destructify.Context, s stream.Stream, value any) (int64, error) {
	iv, err := destructify.ToInt64(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", destructify.ErrWriteError, err)
	}
	if iv < 0 {
		return 0, fmt.Errorf("%w: variable-length integer must be non-negative, got %d", destructify.ErrWriteError, iv)
	}
	buf := encodeVarint(uint64(iv))
	n, err := s.Write(buf)
	return int64(n), err
}

func decodeVarint(s stream.Stream) (uint64, int64, error) {
	var result uint64
	var n int64
	for {
		b, err := s.Read(1)
		if err != nil {
			return 0, 0, err
		}
		if len(b) == 0 {
			return 0, 0, io.ErrUnexpectedEOF
		}
		n++
		result = result<<7 | uint64(b[0]&0x7f)
		if b[0]&0x80 == 0 {
			break
		}
	}
	return result, n, nil
}

// encodeVarint emits the minimal-length MSB-first base-128 encoding of
// v: 7-bit groups are collected least-significant-first, then reversed
// so the most significant group is written first, with the continuation
// bit set on every byte but the last.
func encodeVarint(v uint64) []byte {
	groups := []byte{byte(v & 0x7f)}
	v >>= 7
	for v > 0 {
		groups = append(groups, byte(v&0x7f))
		v >>= 7
	}
	out := make([]byte, len(groups))
	for i, g := range groups {
		out[len(groups)-1-i] = g
	}
	for i := 0; i < len(out)-1; i++ {
		out[i] |= 0x80
	}
	return out
}
