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

// Package fields is the built-in field variant taxonomy: BytesField,
// StringField, IntegerField, VariableLengthIntegerField, BitField,
// StructField (and its fixed-format aliases), ConstantField,
// StructureField, ArrayField, ConditionalField, SwitchField, and
// EnumField. Every variant implements destructify.Field and shares the
// same seven base attributes (default, override, decoder, encoder,
// offset, skip, lazy) via [Configure].
package fields

import "github.com/ralphje/destructify"

// BaseOption configures the shared [destructify.Base] attributes every
// field variant carries, independent of which variant it is. Apply one
// or more via [Configure].
type BaseOption func(*destructify.Base)

// Configure applies opts to f's shared Base and returns f, so that a
// field can be fully set up in one expression:
//
//	fields.Configure(fields.NewBytes(fields.WithLength(n)), fields.WithLazy(true))
func Configure[F destructify.Field](f F, opts ...BaseOption) F {
	b := f.Base()
	for _, o := range opts {
		o(b)
	}
	return f
}

// WithDefault sets the value substituted when a field was never
// assigned one before Emit and has no Override.
func WithDefault(s destructify.Spec) BaseOption {
	return func(b *destructify.Base) { b.Default = s }
}

// WithOverride sets the value transform applied unconditionally just
// before Emit.
func WithOverride(o destructify.Override) BaseOption {
	return func(b *destructify.Base) { b.Override = o }
}

// WithDecoder sets the raw-to-domain value transform applied after
// parsing.
func WithDecoder(fn func(any) (any, error)) BaseOption {
	return func(b *destructify.Base) { b.Decoder = fn }
}

// WithEncoder sets the domain-to-raw value transform applied before
// writing.
func WithEncoder(fn func(any) (any, error)) BaseOption {
	return func(b *destructify.Base) { b.Encoder = fn }
}

// WithOffset seeks to an absolute stream position (negative means from
// the end) before this field runs, instead of continuing from the
// current cursor.
func WithOffset(s destructify.Spec) BaseOption {
	return func(b *destructify.Base) { b.Offset = s }
}

// WithSkip seeks forward by this many bytes from the current cursor
// before this field runs.
func WithSkip(s destructify.Spec) BaseOption {
	return func(b *destructify.Base) { b.Skip = s }
}

// WithLazy defers this field's actual parse until its value is first
// accessed, provided the engine can determine where it ends without
// reading it.
func WithLazy(lazy bool) BaseOption {
	return func(b *destructify.Base) { b.Lazy = lazy }
}
