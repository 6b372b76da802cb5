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
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ralphje/destructify/internal/stream"
)

// ByteOrder is a structure or field's endianness.
type ByteOrder int

const (
	// BigEndian is the default byte order for a Structure that does not
	// set one explicitly.
	BigEndian ByteOrder = iota
	LittleEndian
)

// NamedField pairs a field's declaration-time name with its descriptor.
// Names are bound to fields at structure-definition time, not on the
// Field value itself.
type NamedField struct {
	Name  string
	Field Field
}

// HasLengthSpec is implemented by field variants whose length/count spec
// can participate in auto-override wiring (design document §4.4).
type HasLengthSpec interface {
	LengthSpec() Spec
}

// HasCountSpec is the array-field analogue of HasLengthSpec.
type HasCountSpec interface {
	CountSpec() Spec
}

// Structure is an immutable, ordered sequence of named fields plus
// metadata, built once via [NewStructure] and safely shared across any
// number of concurrent [Structure.Parse]/[Structure.Emit] calls (each call
// owns its own [Context] and stream).
type Structure struct {
	Name       string
	Fields     []NamedField
	ByteOrder  ByteOrder
	Encoding   string
	Alignment  int
	Length     Spec
	Checks     []func(*Context) error
	CaptureRaw bool

	index map[string]int
}

// NewStructure builds a Structure from an ordered field list and applies
// opts. It validates that names are non-empty and unique, that no field
// sets both Offset and Skip, and wires the auto-override rule described in
// the design document: a FieldRef used as a length/count spec implies an
// override on the referenced field (unless it already has an explicit
// one) that supplies the derived quantity when the referenced field was
// never explicitly assigned.
func NewStructure(name string, fields []NamedField, opts ...StructureOption) *Structure {
	s := &Structure{
		Name:     name,
		Fields:   fields,
		Encoding: "utf-8",
		index:    make(map[string]int, len(fields)),
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	for i, nf := range fields {
		if nf.Name == "" {
			panic("destructify: field name must not be empty")
		}
		if _, dup := s.index[nf.Name]; dup {
			panic(fmt.Sprintf("destructify: duplicate field name %q", nf.Name))
		}
		s.index[nf.Name] = i
		b := nf.Field.Base()
		if b.Offset != nil && b.Skip != nil {
			panic(fmt.Sprintf("destructify: field %q sets both Offset and Skip", nf.Name))
		}
	}
	s.wireAutoOverrides()
	return s
}

func (s *Structure) wireAutoOverrides() {
	for _, nf := range s.Fields {
		if lf, ok := nf.Field.(HasLengthSpec); ok {
			if target, isRef := autoOverrideTarget(lf.LengthSpec()); isRef {
				s.wireAutoOverride(target, nf.Name, "length")
			}
		}
		if cf, ok := nf.Field.(HasCountSpec); ok {
			if target, isRef := autoOverrideTarget(cf.CountSpec()); isRef {
				s.wireAutoOverride(target, nf.Name, "count")
			}
		}
	}
}

func (s *Structure) wireAutoOverride(targetName, referencingName, kind string) {
	i, ok := s.index[targetName]
	if !ok {
		return
	}
	b := s.Fields[i].Field.Base()
	if b.Override != nil {
		return
	}
	b.Override = OverrideThunk(func(f Facade, current any) (any, error) {
		if current != nil {
			return current, nil
		}
		v, err := f.Lookup(referencingName)
		if err != nil {
			return nil, err
		}
		f.Context().logDebug(logrus.Fields{
			"field": targetName, "referencing": referencingName, "kind": kind,
		}, "auto-override supplying derived value")
		switch kind {
		case "length":
			return Len(v)
		case "count":
			return arrayLen(v)
		default:
			return nil, fmt.Errorf("%w: unknown auto-override kind %q", ErrParseError, kind)
		}
	})
}

// Field looks up a field descriptor by name.
func (s *Structure) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.Fields[i].Field, true
}

// Value is a populated (or, before Emit, partially assigned) instance of a
// Structure. It is a thin wrapper around the [Context] that produced it
// (for a parsed Value) or that was built up via [Value.Set] (before a call
// to [Structure.Emit]).
type Value struct {
	ctx       *Context
	structure *Structure
}

// NewValue creates an empty Value for constructing a Structure instance by
// hand before calling [Structure.Emit].
func NewValue(s *Structure) *Value {
	ctx, _ := newContext(s.Name, nil, nil, nil, false, s.CaptureRaw, s.ByteOrder, nil)
	for _, nf := range s.Fields {
		ctx.declare(nf.Name, nf.Field)
	}
	return &Value{ctx: ctx, structure: s}
}

// Structure returns the Structure this value was parsed against or built
// for.
func (v *Value) Structure() *Structure { return v.structure }

// Context returns the underlying [Context], for callers that need direct
// access to FieldContext records (offsets, lengths, laziness).
func (v *Value) Context() *Context { return v.ctx }

// Get returns the current value of name, forcing it if it is still lazy.
func (v *Value) Get(name string) (any, error) { return v.ctx.get(name) }

// Set assigns value to name, as if field name had been read with that
// value. Used to build up a Value before [Structure.Emit].
func (v *Value) Set(name string, value any) *Value {
	v.ctx.assign(name, value)
	return v
}

// Parse parses src according to s, in declaration order, per the design
// document's Structure engine contract (§4.7): fields with a constant
// lazy offset are pre-populated first (enabling forward references),
// then every field is walked in order, applying alignment/skip/offset,
// running each field's parse pipeline (or deferring it behind a lazy
// proxy), and finally running s.Checks.
func (s *Structure) Parse(src stream.Stream, opts ...ParseOption) (*Value, error) {
	eo := buildParseOptions(opts)
	return s.parse(src, nil, nil, false, eo)
}

// ParseChild parses src as a nested structure field's value, with parent
// set to ctx so that `f._`/`f._root` navigation and the recursion-depth
// guard work across the nesting boundary. It inherits ctx's engine
// options (logger, max depth, negative-offset policy) rather than taking
// its own, since a nested structure is part of the same operation as its
// parent. This is the hook StructureField (in the fields package) uses to
// recurse into the engine from outside this package.
func (s *Structure) ParseChild(ctx *Context, parentField Field, src stream.Stream) (*Value, error) {
	return s.parse(src, ctx, parentField, false, ctx.opts)
}

func (s *Structure) parse(src stream.Stream, parent *Context, parentField Field, flat bool, eo *engineOptions) (*Value, error) {
	ctx, err := newContext(s.Name, src, parent, parentField, flat, s.CaptureRaw, s.ByteOrder, eo)
	if err != nil {
		return nil, err
	}
	var capture *stream.CaptureStream
	if s.CaptureRaw {
		capture = stream.NewCaptureStream(src)
		ctx.stream = capture
	}
	for _, nf := range s.Fields {
		ctx.declare(nf.Name, nf.Field)
	}

	if s.Length != nil {
		if n, ok, err := resolveSpec(s.Length, ctx.Facade()); err == nil && ok {
			ln, err := toInt64(n)
			if err == nil {
				sub, err := stream.NewSubstream(ctx.stream, ln)
				if err == nil {
					ctx.stream = sub
				}
			}
		}
	}

	// Pre-population pass (design document §4.7 step 2): register a lazy
	// proxy, keyed by absolute offset, for every field whose Offset is a
	// constant and who is marked lazy. This is what makes forward
	// references (a trailing length field read before the content it
	// describes) possible. seekAbsolute moves the shared cursor to
	// resolve each offset (including negative, from-end offsets), so the
	// cursor is restored to its pre-pass position before the main pass
	// begins — otherwise the first sequential field would start reading
	// from wherever the last lazy offset happened to land.
	origin, err := ctx.stream.Tell()
	if err != nil {
		return nil, wrapFieldError(errCodeParseError, s.Name, 0, err)
	}
	for _, nf := range s.Fields {
		b := nf.Field.Base()
		if _, isConst := b.Offset.(constSpec); !b.Lazy || !isConst {
			continue
		}
		v, ok, err := resolveSpec(b.Offset, ctx.Facade())
		if err != nil || !ok {
			continue
		}
		off, err := toInt64(v)
		if err != nil {
			continue
		}
		abs, err := seekAbsolute(ctx.stream, off)
		if err != nil {
			continue
		}
		s.installLazyAt(ctx, nf, abs)
	}
	if _, err := ctx.stream.Seek(origin, stream.SeekSet); err != nil {
		return nil, wrapFieldError(errCodeParseError, s.Name, origin, err)
	}

	for _, nf := range s.Fields {
		fc := ctx.fields[nf.Name]
		if fc.parsed {
			// Pre-populated above; it lives out-of-line and does not
			// participate in the sequential cursor.
			continue
		}
		if err := s.parseField(ctx, nf, fc); err != nil {
			return nil, err
		}
	}

	for _, check := range s.Checks {
		if err := check(ctx); err != nil {
			pos, _ := ctx.stream.Tell()
			return nil, wrapFieldError(errCodeCheckError, s.Name, pos, err)
		}
	}
	ctx.markDone()
	return &Value{ctx: ctx, structure: s}, nil
}

func seekAbsolute(s stream.Stream, off int64) (int64, error) {
	if off < 0 {
		return s.Seek(off, stream.SeekEnd)
	}
	return s.Seek(off, stream.SeekSet)
}

func (s *Structure) installLazyAt(ctx *Context, nf NamedField, absOffset int64) {
	f := nf.Field
	b := f.Base()
	length, known := f.Len(ctx)
	fc := ctx.declare(nf.Name, f)
	fc.Offset = absOffset
	fc.AbsoluteOffset = absOffset
	if known {
		fc.Length = length
	}
	ctx.logDebug(logrus.Fields{"field": nf.Name, "offset": absOffset}, "pre-populating forward reference, lazy")
	parse := func() (any, error) {
		ctx.logDebug(logrus.Fields{"field": nf.Name, "offset": absOffset}, "forcing deferred field")
		if _, err := ctx.stream.Seek(absOffset, stream.SeekSet); err != nil {
			return nil, err
		}
		raw, n, err := f.FromStream(ctx, ctx.stream)
		if err != nil {
			return nil, err
		}
		fc.Length = n
		ctx.captureRawBytes(fc, absOffset, n)
		return decode(b, raw)
	}
	ctx.setLazy(nf.Name, parse)
}

// parseField runs the full seek_start -> from_stream -> decode pipeline
// for one field that was not handled by pre-population, installing a lazy
// proxy instead of eagerly parsing when the field is marked Lazy and its
// length can be determined without reading it.
func (s *Structure) parseField(ctx *Context, nf NamedField, fc *FieldContext) error {
	f := nf.Field
	b := f.Base()

	if f.IsBit() {
		ctx.Bits()
	} else if ctx.bits != nil && !ctx.bits.Aligned() {
		if err := ctx.bits.Realign(); err != nil {
			return wrapFieldError(errCodeImpossibleLength, nf.Name, 0, err)
		}
	}

	start, err := s.seekStart(ctx, f)
	if err != nil {
		return wrapFieldError(errCodeParseError, nf.Name, start, err)
	}
	fc.Offset = start
	fc.AbsoluteOffset = start
	ctx.logDebug(logrus.Fields{"field": nf.Name, "offset": start}, "entering field")

	if b.Lazy {
		if end, err := f.SeekEnd(ctx, ctx.stream, start); err == nil {
			length, known := f.Len(ctx)
			if known {
				fc.Length = length
			}
			capturedStart := start
			parse := func() (any, error) {
				ctx.logDebug(logrus.Fields{"field": nf.Name, "offset": capturedStart}, "forcing deferred field")
				if _, err := ctx.stream.Seek(capturedStart, stream.SeekSet); err != nil {
					return nil, err
				}
				raw, n, err := f.FromStream(ctx, ctx.stream)
				if err != nil {
					return nil, err
				}
				fc.Length = n
				ctx.captureRawBytes(fc, capturedStart, n)
				return decode(b, raw)
			}
			ctx.setLazy(nf.Name, parse)
			ctx.logDebug(logrus.Fields{"field": nf.Name, "offset": start, "end": end}, "deferring field, lazy")
			if _, err := ctx.stream.Seek(end, stream.SeekSet); err != nil {
				return wrapFieldError(errCodeStreamExhausted, nf.Name, end, err)
			}
			return nil
		}
		// Cannot determine the end without parsing; fall through and
		// parse eagerly.
	}

	raw, n, err := f.FromStream(ctx, ctx.stream)
	if err != nil {
		// Classify by the sentinel the variant already attached; bare I/O
		// errors count as stream exhaustion.
		code := errCodeStreamExhausted
		for c, sentinel := range errs {
			if sentinel != nil && errors.Is(err, sentinel) {
				code = errCode(c)
				break
			}
		}
		return wrapFieldError(code, nf.Name, start, err)
	}
	fc.Length = n
	ctx.captureRawBytes(fc, start, n)
	val, err := decode(b, raw)
	if err != nil {
		return wrapFieldError(errCodeParseError, nf.Name, start, err)
	}
	ctx.setResolved(nf.Name, val)
	if child, ok := raw.(*Value); ok {
		fc.Subcontext = child.ctx
	}
	ctx.logDebug(logrus.Fields{"field": nf.Name, "offset": start, "length": n}, "exiting field")
	if err := forceBitRealign(ctx, f); err != nil {
		return wrapFieldError(errCodeImpossibleLength, nf.Name, start, err)
	}
	return nil
}

// bitRealigner is implemented by fields (BitField) whose realign attribute
// (design document §4.5/§4.6) requests that the shared bit cursor discard
// its partial byte and advance to the next byte boundary immediately after
// this field, even when another BitField follows. Without this, the
// engine only realigns on a bit -> non-bit transition.
type bitRealigner interface {
	Realigns() bool
}

// forceBitRealign realigns ctx's bit cursor if f is a BitField whose
// Realigns() reports true, regardless of what kind of field follows it.
func forceBitRealign(ctx *Context, f Field) error {
	r, ok := f.(bitRealigner)
	if !ok || !r.Realigns() {
		return nil
	}
	return ctx.bits.Realign()
}

// seekStart implements the design document's seek_start resolution order
// (§4.4 step 1): an explicit Offset wins (negative means from the
// stream's end), then Skip (relative to the current cursor), then
// alignment, in that order; Offset and Skip are mutually exclusive
// (enforced in NewStructure).
func (s *Structure) seekStart(ctx *Context, f Field) (int64, error) {
	b := f.Base()
	cur, err := ctx.stream.Tell()
	if err != nil {
		return 0, err
	}
	switch {
	case b.Offset != nil:
		v, err := b.Offset.resolve(ctx.Facade())
		if err != nil {
			return 0, err
		}
		off, err := toInt64(v)
		if err != nil {
			return 0, err
		}
		return seekAbsolute(ctx.stream, off)
	case b.Skip != nil:
		v, err := b.Skip.resolve(ctx.Facade())
		if err != nil {
			return 0, err
		}
		skip, err := toInt64(v)
		if err != nil {
			return 0, err
		}
		return ctx.stream.Seek(cur+skip, stream.SeekSet)
	case s.Alignment > 0:
		if f.IsBit() && ctx.bits != nil && !ctx.bits.Aligned() {
			// A bit field continuing a partially consumed byte is not
			// aligned.
			return cur, nil
		}
		if rem := cur % int64(s.Alignment); rem != 0 {
			return ctx.stream.Seek(cur+int64(s.Alignment)-rem, stream.SeekSet)
		}
		return cur, nil
	default:
		return cur, nil
	}
}

// Emit serializes v according to s, in declaration order, per the design
// document's mirrored emit pipeline (§4.7): every lazy value is
// implicitly resolved as it is reached, get_final_value/encode/seek_start/
// to_stream run per field, and s.Checks run afterward.
func (s *Structure) Emit(v *Value, dst stream.Stream, opts ...EmitOption) error {
	eo := buildEmitOptions(opts)
	ctx := v.ctx
	ctx.opts = eo
	ctx.stream = dst
	ctx.bits = nil // a Context may be reused from a prior Parse; its bit cursor was bound to that stream.
	if s.CaptureRaw {
		ctx.stream = stream.NewCaptureStream(dst)
	}

	for _, nf := range s.Fields {
		if err := s.emitField(ctx, nf, eo); err != nil {
			return err
		}
	}

	for _, check := range s.Checks {
		if err := check(ctx); err != nil {
			pos, _ := ctx.stream.Tell()
			return wrapFieldError(errCodeCheckError, s.Name, pos, err)
		}
	}
	if ctx.bits != nil {
		if err := ctx.bits.Realign(); err != nil {
			return err
		}
	}
	ctx.markDone()
	return nil
}

func (s *Structure) emitField(ctx *Context, nf NamedField, eo *engineOptions) error {
	f := nf.Field
	b := f.Base()
	fc, ok := ctx.fields[nf.Name]
	if !ok {
		fc = ctx.declare(nf.Name, f)
	}

	var raw any
	hasRaw := fc.hasValue
	if hasRaw {
		v, err := ctx.force(fc)
		if err != nil {
			return err
		}
		raw = v
	}

	final, err := finalValue(b, ctx.Facade(), raw, hasRaw, f)
	if err != nil {
		return wrapFieldError(errCodeWriteError, nf.Name, 0, err)
	}
	encoded, err := encode(b, final)
	if err != nil {
		return err
	}

	if f.IsBit() {
		ctx.Bits()
	} else if ctx.bits != nil && !ctx.bits.Aligned() {
		if err := ctx.bits.Realign(); err != nil {
			return wrapFieldError(errCodeImpossibleLength, nf.Name, 0, err)
		}
	}

	start, err := s.seekStartForEmit(ctx, f, eo)
	if err != nil {
		return wrapFieldError(errCodeWriteError, nf.Name, start, err)
	}
	fc.Offset = start
	ctx.logDebug(logrus.Fields{"field": nf.Name, "offset": start}, "entering field")

	n, err := f.ToStream(ctx, ctx.stream, encoded)
	if err != nil {
		return wrapFieldError(errCodeWriteError, nf.Name, start, err)
	}
	fc.Length = n
	ctx.setResolved(nf.Name, final)
	ctx.logDebug(logrus.Fields{"field": nf.Name, "offset": start, "length": n}, "exiting field")
	if err := forceBitRealign(ctx, f); err != nil {
		return wrapFieldError(errCodeImpossibleLength, nf.Name, start, err)
	}
	return nil
}

// seekStartForEmit is seekStart's write-side counterpart. It applies the
// same offset/skip/alignment resolution, except that a negative constant
// Offset is ambiguous during writing (design document §9, Open Question):
// the behavior is governed by [NegativeOffsetPolicy].
func (s *Structure) seekStartForEmit(ctx *Context, f Field, eo *engineOptions) (int64, error) {
	b := f.Base()
	if b.Offset != nil {
		v, err := b.Offset.resolve(ctx.Facade())
		if err != nil {
			return 0, err
		}
		off, err := toInt64(v)
		if err != nil {
			return 0, err
		}
		if off < 0 {
			switch eo.negativeOffsetPolicy {
			case RequireKnownLength:
				if s.Length == nil {
					return 0, fmt.Errorf("%w: negative offset requires a known structure length", ErrWriteError)
				}
				ln, ok, err := resolveSpec(s.Length, ctx.Facade())
				if err != nil || !ok {
					return 0, fmt.Errorf("%w: negative offset requires a known structure length", ErrWriteError)
				}
				total, err := toInt64(ln)
				if err != nil {
					return 0, err
				}
				return ctx.stream.Seek(total+off, stream.SeekSet)
			default:
				return 0, fmt.Errorf("%w: negative offsets are ambiguous during writing", ErrWriteError)
			}
		}
		return ctx.stream.Seek(off, stream.SeekSet)
	}
	return s.seekStart(ctx, f)
}

// finalValue implements get_final_value (design document §4.4 step 1 of
// the emit pipeline): when an Override is present it is always applied,
// receiving the value exactly as assigned (nil if it was never assigned,
// NOT the intrinsic/explicit default) so that auto-override's "only when
// never explicitly assigned" check behaves correctly; when no Override is
// present, an explicit Default is substituted for a nil raw value, else
// the field's own intrinsic default (from the variant) is used.
func finalValue(b *Base, f Facade, raw any, hasRaw bool, field Field) (any, error) {
	if b.Override != nil {
		return b.Override.resolveOverride(f, raw)
	}
	if hasRaw && raw != nil {
		return raw, nil
	}
	return resolveDefault(b, f, intrinsicDefault(field))
}

func arrayLen(v any) (any, error) {
	switch x := v.(type) {
	case []any:
		return int64(len(x)), nil
	}
	n, err := Len(v)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot count elements of %T", ErrParseError, v)
	}
	return n, nil
}
