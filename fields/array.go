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
	"errors"
	"fmt"

	"github.com/ralphje/destructify"
	"github.com/ralphje/destructify/internal/stream"
)

// ArrayFieldOption configures an [ArrayField].
type ArrayFieldOption struct{ apply func(*ArrayField) }

// WithCount parses exactly n elements, where n may be a FieldRef (in
// which case the referenced field is auto-overridden to the parsed
// array's length, unless it already has an explicit override).
func WithCount(n destructify.Spec) ArrayFieldOption {
	return ArrayFieldOption{func(f *ArrayField) { f.count = n }}
}

// WithArrayLength parses elements until l bytes have been consumed from
// the array's start. A negative l parses until EOF, swallowing a
// trailing StreamExhausted from the element field.
func WithArrayLength(l destructify.Spec) ArrayFieldOption {
	return ArrayFieldOption{func(f *ArrayField) { f.length = l }}
}

// ArrayField repeats elementField, bounded by either a count or a byte
// length (mutually exclusive), per the design document's ArrayField
// contract. Its value is a []any of the decoded element values.
type ArrayField struct {
	base *destructify.Base

	elementField destructify.Field
	count        destructify.Spec
	length       destructify.Spec
}

// NewArray creates an ArrayField over elementField. Exactly one of
// [WithCount] or [WithArrayLength] must be supplied.
func NewArray(elementField destructify.Field, opts ...ArrayFieldOption) *ArrayField {
	f := &ArrayField{base: &destructify.Base{}, elementField: elementField}
	for _, o := range opts {
		o.apply(f)
	}
	return f
}

func (f *ArrayField) Base() *destructify.Base { return f.base }
func (f *ArrayField) IsBit() bool             { return false }
func (f *ArrayField) IntrinsicDefault() any   { return []any{} }

// CountSpec implements destructify.HasCountSpec, letting a structure's
// auto-override wiring detect `fields.WithCount(destructify.FieldRef(...))`.
func (f *ArrayField) CountSpec() destructify.Spec { return f.count }

func (f *ArrayField) Len(ctx *destructify.Context) (int64, bool) {
	if f.length != nil {
		v, ok, err := destructify.Resolve(f.length, ctx.Facade())
		if err != nil || !ok {
			return 0, false
		}
		n, err := destructify.ToInt64(v)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	if f.count != nil {
		cv, ok, err := destructify.Resolve(f.count, ctx.Facade())
		if err != nil || !ok {
			return 0, false
		}
		n, err := destructify.ToInt64(cv)
		if err != nil {
			return 0, false
		}
		elemLen, ok := f.elementField.Len(ctx)
		if !ok {
			return 0, false
		}
		return n * elemLen, true
	}
	return 0, false
}

func (f *ArrayField) SeekEnd(ctx *destructify.Context, s stream.Stream, start int64) (int64, error) {
	return destructify.DefaultSeekEnd(f, ctx, s, start)
}

func (f *ArrayField) FromStream(ctx *destructify.Context, s stream.Stream) (any, int64, error) {
	start, err := s.Tell()
	if err != nil {
		return nil, 0, err
	}

	var results []any
	switch {
	case f.count != nil:
		cv, ok, err := destructify.Resolve(f.count, ctx.Facade())
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 0, fmt.Errorf("%w: ArrayField count did not resolve", destructify.ErrParseError)
		}
		n, err := destructify.ToInt64(cv)
		if err != nil {
			return nil, 0, err
		}
		// Resolving f.count may have forced a sibling lazy field, which
		// seeks the shared stream; restore our own start before reading
		// elements.
		if _, err := s.Seek(start, stream.SeekSet); err != nil {
			return nil, 0, err
		}
		for i := int64(0); i < n; i++ {
			v, err := f.readOne(ctx, s)
			if err != nil {
				return nil, 0, err
			}
			results = append(results, v)
		}

	case f.length != nil:
		lv, ok, err := destructify.Resolve(f.length, ctx.Facade())
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 0, fmt.Errorf("%w: ArrayField length did not resolve", destructify.ErrParseError)
		}
		n, err := destructify.ToInt64(lv)
		if err != nil {
			return nil, 0, err
		}
		// Resolving f.length may have forced a sibling lazy field, which
		// seeks the shared stream; restore our own start before reading
		// elements.
		if _, err := s.Seek(start, stream.SeekSet); err != nil {
			return nil, 0, err
		}
		if n < 0 {
			for {
				v, err := f.readOne(ctx, s)
				if err != nil {
					if errors.Is(err, destructify.ErrStreamExhausted) {
						break
					}
					return nil, 0, err
				}
				results = append(results, v)
			}
		} else {
			target := start + n
			for {
				cur, err := s.Tell()
				if err != nil {
					return nil, 0, err
				}
				if cur >= target {
					break
				}
				v, err := f.readOne(ctx, s)
				if err != nil {
					return nil, 0, err
				}
				results = append(results, v)
			}
		}

	default:
		return nil, 0, fmt.Errorf("%w: ArrayField requires count or length", destructify.ErrParseError)
	}

	end, err := s.Tell()
	if err != nil {
		return nil, 0, err
	}
	if results == nil {
		results = []any{}
	}
	return results, end - start, nil
}

func (f *ArrayField) readOne(ctx *destructify.Context, s stream.Stream) (any, error) {
	raw, _, err := f.elementField.FromStream(ctx, s)
	if err != nil {
		return nil, err
	}
	return baseDecode(f.elementField.Base(), raw)
}

func (f *ArrayField) ToStream(ctx *destructify.Context, s stream.Stream, value any) (int64, error) {
	vs, ok := value.([]any)
	if !ok {
		return 0, fmt.Errorf("%w: ArrayField requires []any, got %T", destructify.ErrWriteError, value)
	}
	var written int64
	for _, v := range vs {
		encoded, err := baseEncode(f.elementField.Base(), v)
		if err != nil {
			return written, err
		}
		n, err := f.elementField.ToStream(ctx, s, encoded)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
