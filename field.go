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

package destructify

import (
	"fmt"
	"reflect"

	"github.com/tiendc/go-deepcopy"

	"github.com/ralphje/destructify/internal/stream"
)

// Field is the polymorphic descriptor every built-in field variant (and any
// user-defined one) implements. The Structure engine drives these methods;
// the seek/offset/skip/alignment arithmetic and the default/override/
// decoder/encoder pipeline around them are shared logic, not part of this
// interface (see parseField/emitField in structure.go).
type Field interface {
	// Base returns the shared attribute block (default, override, decoder,
	// encoder, offset, skip, lazy) every field carries.
	Base() *Base

	// FromStream consumes this field's bytes from s, which is already
	// positioned at the field's start, and returns the raw (pre-decode)
	// value and the number of bytes consumed (bits, for BitField).
	FromStream(ctx *Context, s stream.Stream) (raw any, n int64, err error)

	// ToStream serializes the already-encoded value to s, which is already
	// positioned at the field's start, and returns the number of bytes
	// written.
	ToStream(ctx *Context, s stream.Stream, value any) (n int64, err error)

	// Len returns a byte count (a bit count, for BitField) for this
	// field's serialized form when it is
	// determinable without reference to ctx beyond what is already bound
	// to it (e.g. a sibling's already-parsed length), and whether that
	// count is known at all.
	Len(ctx *Context) (n int64, ok bool)

	// SeekEnd advances s past the end of this field without parsing it,
	// returning the new absolute position. The default implementation
	// (DefaultSeekEnd) uses Len; BytesField with only a terminator
	// overrides this to scan for it instead.
	SeekEnd(ctx *Context, s stream.Stream, start int64) (int64, error)

	// IsBit reports whether this field consumes bits rather than bytes
	// from the context's shared bit cursor (true only for BitField).
	IsBit() bool
}

// Base is the shared attribute block every Field variant embeds. All of
// the "spec" slots described in the design document's data model live
// here: default, override, offset, skip, plus the decoder/encoder value
// transformers and the lazy flag.
type Base struct {
	// Default supplies a value when the field was never assigned one
	// before emit. Absent (nil) means the variant supplies its own
	// intrinsic default (0 for integers, nil/empty for bytes, etc.).
	Default Spec

	// Override replaces the current value just before emit.
	Override Override

	// Decoder transforms the raw parsed value into its domain form.
	Decoder func(any) (any, error)

	// Encoder transforms a domain-form value into its raw, stream-ready
	// form.
	Encoder func(any) (any, error)

	// Offset, if set, seeks to an absolute position before this field
	// (negative means from the end) instead of reading from the current
	// cursor. Mutually exclusive with Skip.
	Offset Spec

	// Skip, if set, seeks forward by this many bytes from the current
	// cursor before this field. Mutually exclusive with Offset.
	Skip Spec

	// Lazy defers this field's actual parse until its value is first
	// accessed, provided the engine can skip past it without reading it
	// (see Field.SeekEnd).
	Lazy bool
}

// Base returns b itself, so a type that embeds *Base gets the Field.Base
// accessor by promotion. The variants in package fields do not embed it:
// they hold a *Base in an unexported field and define their own Base
// method.
func (b *Base) Base() *Base { return b }

// IsBit is the default (false) implementation of Field.IsBit; only
// BitField overrides it.
func (b *Base) IsBit() bool { return false }

// DefaultSeekEnd implements the default Field.SeekEnd contract described in
// the design document: if f.Len is known, seek by that many bytes;
// otherwise report ErrImpossibleToCalculateLength.
func DefaultSeekEnd(f Field, ctx *Context, s stream.Stream, start int64) (int64, error) {
	n, ok := f.Len(ctx)
	if !ok {
		return 0, ErrImpossibleToCalculateLength
	}
	return s.Seek(start+n, stream.SeekSet)
}

// resolveDefault resolves b.Default against f, falling back to intrinsic
// when Default is unset. A composite (slice/map/pointer/struct) default is
// deep-copied before being handed back, so that repeated Emit calls
// against the same immutable Field never let two FieldContexts alias the
// same backing array or struct.
func resolveDefault(b *Base, f Facade, intrinsic any) (any, error) {
	v, ok, err := resolveSpec(b.Default, f)
	if err != nil {
		return nil, err
	}
	if !ok {
		return intrinsic, nil
	}
	return cloneComposite(v)
}

// cloneComposite deep-copies v when it is a composite kind that could be
// mutated through an alias (slice, map, pointer, array, struct); scalars
// and strings pass through unchanged since Go values of those kinds are
// already copy-on-assign.
func cloneComposite(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Map, reflect.Ptr, reflect.Array, reflect.Struct:
		dst := reflect.New(reflect.TypeOf(v)).Interface()
		if err := deepcopy.Copy(dst, v); err != nil {
			return nil, fmt.Errorf("%w: cloning default value: %w", ErrParseError, err)
		}
		return reflect.ValueOf(dst).Elem().Interface(), nil
	default:
		return v, nil
	}
}

// resolveOverride applies b.Override to current, if set.
func resolveOverride(b *Base, f Facade, current any) (any, error) {
	if b.Override == nil {
		return current, nil
	}
	return b.Override.resolveOverride(f, current)
}

// decode applies b.Decoder to raw, if set.
func decode(b *Base, raw any) (any, error) {
	if b.Decoder == nil {
		return raw, nil
	}
	v, err := b.Decoder(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrParseError, err)
	}
	return v, nil
}

// encode applies b.Encoder to value, if set.
func encode(b *Base, value any) (any, error) {
	if b.Encoder == nil {
		return value, nil
	}
	v, err := b.Encoder(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrWriteError, err)
	}
	return v, nil
}

// FieldIntrinsicDefault is implemented by field variants that have a
// natural zero value to fall back on when a field was never explicitly
// assigned and carries neither an Override nor a Default (e.g.
// IntegerField's 0, BytesField's empty slice).
type FieldIntrinsicDefault interface {
	IntrinsicDefault() any
}

// intrinsicDefault returns f's intrinsic zero value, or nil if it doesn't
// declare one.
func intrinsicDefault(f Field) any {
	if id, ok := f.(FieldIntrinsicDefault); ok {
		return id.IntrinsicDefault()
	}
	return nil
}

// autoOverrideTarget returns the field name that s implicitly overrides,
// per the design document's auto-override rule: a FieldRef used as a
// length/count spec implies that, unless the referenced field already has
// an explicit override, its override becomes "the derived quantity of
// this field's value when the referenced field's current value is nil".
func autoOverrideTarget(s Spec) (string, bool) {
	if s == nil {
		return "", false
	}
	return s.refName()
}
