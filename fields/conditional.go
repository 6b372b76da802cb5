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
	"github.com/ralphje/destructify"
	"github.com/ralphje/destructify/internal/stream"
)

// ConditionalField delegates to baseField when condition resolves truthy;
// otherwise it yields fallback and consumes zero bytes, per the design
// document's ConditionalField contract.
type ConditionalField struct {
	base *destructify.Base

	baseField destructify.Field
	condition destructify.Spec
	fallback  any
}

// ConditionalFieldOption configures a [ConditionalField].
type ConditionalFieldOption struct{ apply func(*ConditionalField) }

// WithFallback sets the value yielded (with zero bytes consumed) when the
// condition is not truthy. Defaults to nil.
func WithFallback(v any) ConditionalFieldOption {
	return ConditionalFieldOption{func(f *ConditionalField) { f.fallback = v }}
}

// NewConditional creates a ConditionalField that delegates to baseField
// only when condition resolves truthy.
func NewConditional(baseField destructify.Field, condition destructify.Spec, opts ...ConditionalFieldOption) *ConditionalField {
	f := &ConditionalField{base: &destructify.Base{}, baseField: baseField, condition: condition}
	for _, o := range opts {
		o.apply(f)
	}
	return f
}

func (f *ConditionalField) Base() *destructify.Base { return f.base }
func (f *ConditionalField) IsBit() bool             { return false }
func (f *ConditionalField) IntrinsicDefault() any   { return f.fallback }

func (f *ConditionalField) truthy(ctx *destructify.Context) (bool, error) {
	return destructify.Truthy(f.condition, ctx.Facade())
}

func (f *ConditionalField) Len(ctx *destructify.Context) (int64, bool) {
	ok, err := f.truthy(ctx)
	if err != nil {
		return 0, false
	}
	if !ok {
		return 0, true
	}
	return f.baseField.Len(ctx)
}

func (f *ConditionalField) SeekEnd(ctx *destructify.Context, s stream.Stream, start int64) (int64, error) {
	ok, err := f.truthy(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return start, nil
	}
	return f.baseField.SeekEnd(ctx, s, start)
}

func (f *ConditionalField) FromStream(ctx *destructify.Context, s stream.Stream) (any, int64, error) {
	ok, err := f.truthy(ctx)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return f.fallback, 0, nil
	}
	raw, n, err := f.baseField.FromStream(ctx, s)
	if err != nil {
		return nil, n, err
	}
	v, err := baseDecode(f.baseField.Base(), raw)
	return v, n, err
}

func (f *ConditionalField) ToStream(ctx *destructify.Context, s stream.Stream, value any) (int64, error) {
	ok, err := f.truthy(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	encoded, err := baseEncode(f.baseField.Base(), value)
	if err != nil {
		return 0, err
	}
	return f.baseField.ToStream(ctx, s, encoded)
}
