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
	"sort"
	"strings"

	"github.com/ralphje/destructify"
	"github.com/ralphje/destructify/internal/stream"
)

// Enum is a named set of integer members, optionally a bitflag set (per
// the design document's "flag combination for bitflag enums"). It is the
// Go equivalent of a Python IntEnum/IntFlag class passed to EnumField.
type Enum struct {
	name    string
	values  map[string]int64
	names   map[int64]string
	isFlags bool
}

// NewEnum creates an Enum named name (used only in error messages) from
// members, an ordered list of (memberName, value) pairs.
func NewEnum(name string, members ...EnumMember) *Enum {
	e := &Enum{name: name, values: make(map[string]int64, len(members)), names: make(map[int64]string, len(members))}
	for _, m := range members {
		e.values[m.Name] = m.Value
		if _, exists := e.names[m.Value]; !exists {
			e.names[m.Value] = m.Name
		}
	}
	return e
}

// EnumMember is one named value of an [Enum].
type EnumMember struct {
	Name  string
	Value int64
}

// Member is a convenience constructor for an [EnumMember].
func Member(name string, value int64) EnumMember { return EnumMember{Name: name, Value: value} }

// AsFlags marks e as a bitflag set: [EnumValue.Name] composes the names of
// every member bit present in the raw value, joined by "|", instead of
// requiring an exact match.
func (e *Enum) AsFlags() *Enum {
	e.isFlags = true
	return e
}

// EnumValue is the domain-form value an [EnumField] produces: the raw
// integer plus its resolved member name(s). Two EnumValues with equal Raw
// are considered the same member for round-trip purposes regardless of
// how Name was spelled.
type EnumValue struct {
	Raw  int64
	Name string
}

func (e *Enum) nameFor(raw int64) string {
	if name, ok := e.names[raw]; ok {
		return name
	}
	if !e.isFlags {
		return ""
	}
	var parts []string
	remaining := raw
	var known []int64
	for v := range e.names {
		known = append(known, v)
	}
	sort.Slice(known, func(i, j int) bool { return known[i] > known[j] })
	for _, v := range known {
		if v != 0 && remaining&v == v {
			parts = append(parts, e.names[v])
			remaining &^= v
		}
	}
	if remaining != 0 || len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "|")
}

func (e *Enum) valueFor(name string) (int64, bool) {
	if v, ok := e.values[name]; ok {
		return v, true
	}
	if !e.isFlags || !strings.Contains(name, "|") {
		return 0, false
	}
	var total int64
	for _, part := range strings.Split(name, "|") {
		v, ok := e.values[strings.TrimSpace(part)]
		if !ok {
			return 0, false
		}
		total |= v
	}
	return total, true
}

// EnumField interprets baseField's decoded integer value as a member of
// enum, per the design document's EnumField contract: reads yield an
// [EnumValue]; writes accept an EnumValue, a bare member/flag-combination
// name string, or a raw integer.
type EnumField struct {
	base *destructify.Base

	baseField destructify.Field
	enum      *Enum
}

// NewEnumField creates an EnumField over baseField (typically an
// [IntegerField]) interpreted against enum.
func NewEnumField(baseField destructify.Field, enum *Enum) *EnumField {
	return &EnumField{base: &destructify.Base{}, baseField: baseField, enum: enum}
}

func (f *EnumField) Base() *destructify.Base { return f.base }
func (f *EnumField) IsBit() bool             { return f.baseField.IsBit() }

func (f *EnumField) Len(ctx *destructify.Context) (int64, bool) { return f.baseField.Len(ctx) }

func (f *EnumField) SeekEnd(ctx *destructify.Context, s stream.Stream, start int64) (int64, error) {
	return f.baseField.SeekEnd(ctx, s, start)
}

func (f *EnumField) FromStream(ctx *destructify.Context, s stream.Stream) (any, int64, error) {
	raw, n, err := f.baseField.FromStream(ctx, s)
	if err != nil {
		return nil, n, err
	}
	decoded, err := baseDecode(f.baseField.Base(), raw)
	if err != nil {
		return nil, n, err
	}
	iv, err := destructify.ToInt64(decoded)
	if err != nil {
		return nil, n, fmt.Errorf("%w: EnumField %s: %w", destructify.ErrParseError, f.enum.name, err)
	}
	return EnumValue{Raw: iv, Name: f.enum.nameFor(iv)}, n, nil
}

func (f *EnumField) ToStream(ctx *destructify.Context, s stream.Stream, value any) (int64, error) {
	raw, err := f.rawValue(value)
	if err != nil {
		return 0, err
	}
	encoded, err := baseEncode(f.baseField.Base(), raw)
	if err != nil {
		return 0, err
	}
	return f.baseField.ToStream(ctx, s, encoded)
}

func (f *EnumField) rawValue(value any) (int64, error) {
	switch v := value.(type) {
	case EnumValue:
		return v.Raw, nil
	case string:
		if raw, ok := f.enum.valueFor(v); ok {
			return raw, nil
		}
		return 0, fmt.Errorf("%w: EnumField %s has no member named %q", destructify.ErrWriteError, f.enum.name, v)
	default:
		return destructify.ToInt64(value)
	}
}
