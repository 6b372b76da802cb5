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
	"bytes"
	"fmt"
	"reflect"

	"github.com/ralphje/destructify"
	"github.com/ralphje/destructify/internal/stream"
)

// ConstantField wraps baseField and requires its parsed/emitted value to
// equal value exactly, failing with a check error otherwise. It is the
// usual way to pin a magic number or fixed tag in a structure.
type ConstantField struct {
	base *destructify.Base

	value     any
	baseField destructify.Field
}

// NewConstant creates a ConstantField. If baseField is nil and value is a
// []byte, it defaults to a FixedLengthField sized to len(value).
func NewConstant(value any, baseField destructify.Field) *ConstantField {
	if baseField == nil {
		if b, ok := value.([]byte); ok {
			baseField = NewFixedLength(destructify.Const(int64(len(b))))
		}
	}
	f := &ConstantField{base: &destructify.Base{}, value: value, baseField: baseField}
	f.base.Default = destructify.Const(value)
	return f
}

func (f *ConstantField) Base() *destructify.Base { return f.base }
func (f *ConstantField) IsBit() bool             { return f.baseField.IsBit() }
func (f *ConstantField) IntrinsicDefault() any   { return f.value }

func (f *ConstantField) Len(ctx *destructify.Context) (int64, bool) { return f.baseField.Len(ctx) }

func (f *ConstantField) SeekEnd(ctx *destructify.Context, s stream.Stream, start int64) (int64, error) {
	return f.baseField.SeekEnd(ctx, s, start)
}

func (f *ConstantField) FromStream(ctx *destructify.Context, s stream.Stream) (any, int64, error) {
	raw, n, err := f.baseField.FromStream(ctx, s)
	if err != nil {
		return nil, n, err
	}
	v, err := baseDecode(f.baseField.Base(), raw)
	if err != nil {
		return nil, n, err
	}
	if !constantEqual(v, f.value) {
		return nil, n, fmt.Errorf("%w: got %v, want constant %v", destructify.ErrCheckError, v, f.value)
	}
	return v, n, nil
}

func (f *ConstantField) ToStream(ctx *destructify.Context, s stream.Stream, value any) (int64, error) {
	if !constantEqual(value, f.value) {
		return 0, fmt.Errorf("%w: got %v, want constant %v", destructify.ErrCheckError, value, f.value)
	}
	encoded, err := baseEncode(f.baseField.Base(), value)
	if err != nil {
		return 0, err
	}
	return f.baseField.ToStream(ctx, s, encoded)
}

// baseDecode/baseEncode mirror the engine's own decode/encode step (see
// decode/encode in field.go, unexported to this package), applied to a
// field nested inside another field variant (ConstantField's base_field,
// ArrayField's element field, SwitchField/ConditionalField's delegate)
// whose own Decoder/Encoder the engine never sees directly.
func baseDecode(b *destructify.Base, raw any) (any, error) {
	if b.Decoder == nil {
		return raw, nil
	}
	return b.Decoder(raw)
}

func baseEncode(b *destructify.Base, value any) (any, error) {
	if b.Encoder == nil {
		return value, nil
	}
	return b.Encoder(value)
}

func constantEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		if bb, ok := b.([]byte); ok {
			return bytes.Equal(ab, bb)
		}
	}
	return reflect.DeepEqual(a, b)
}
