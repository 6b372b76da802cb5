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

// SwitchField evaluates switchSpec and delegates to the Field registered
// under the resulting key in cases, falling back to other when the key
// has no case and other is set; with neither, it fails with a check
// error, per the design document's SwitchField contract.
type SwitchField struct {
	base *destructify.Base

	switchSpec destructify.Spec
	cases      map[any]destructify.Field
	other      destructify.Field
}

// SwitchFieldOption configures a [SwitchField].
type SwitchFieldOption struct{ apply func(*SwitchField) }

// WithOther sets the Field delegated to when the switch value matches no
// registered case.
func WithOther(other destructify.Field) SwitchFieldOption {
	return SwitchFieldOption{func(f *SwitchField) { f.other = other }}
}

// NewSwitch creates a SwitchField that evaluates switchSpec and delegates
// to cases[key].
func NewSwitch(switchSpec destructify.Spec, cases map[any]destructify.Field, opts ...SwitchFieldOption) *SwitchField {
	f := &SwitchField{base: &destructify.Base{}, switchSpec: switchSpec, cases: cases}
	for _, o := range opts {
		o.apply(f)
	}
	return f
}

func (f *SwitchField) Base() *destructify.Base { return f.base }
func (f *SwitchField) IsBit() bool             { return false }

func (f *SwitchField) resolveCase(ctx *destructify.Context) (destructify.Field, any, error) {
	key, ok, err := destructify.Resolve(f.switchSpec, ctx.Facade())
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: SwitchField switch value did not resolve", destructify.ErrParseError)
	}
	if field, ok := f.cases[key]; ok {
		return field, key, nil
	}
	if f.other != nil {
		return f.other, key, nil
	}
	return nil, key, fmt.Errorf("%w: SwitchField has no case for %v and no other field", destructify.ErrCheckError, key)
}

func (f *SwitchField) Len(ctx *destructify.Context) (int64, bool) {
	field, _, err := f.resolveCase(ctx)
	if err != nil {
		return 0, false
	}
	return field.Len(ctx)
}

func (f *SwitchField) SeekEnd(ctx *destructify.Context, s stream.Stream, start int64) (int64, error) {
	field, _, err := f.resolveCase(ctx)
	if err != nil {
		return 0, err
	}
	return field.SeekEnd(ctx, s, start)
}

func (f *SwitchField) FromStream(ctx *destructify.Context, s stream.Stream) (any, int64, error) {
	field, _, err := f.resolveCase(ctx)
	if err != nil {
		return nil, 0, err
	}
	raw, n, err := field.FromStream(ctx, s)
	if err != nil {
		return nil, n, err
	}
	v, err := baseDecode(field.Base(), raw)
	return v, n, err
}

func (f *SwitchField) ToStream(ctx *destructify.Context, s stream.Stream, value any) (int64, error) {
	field, _, err := f.resolveCase(ctx)
	if err != nil {
		return 0, err
	}
	encoded, err := baseEncode(field.Base(), value)
	if err != nil {
		return 0, err
	}
	return field.ToStream(ctx, s, encoded)
}
