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

package fields_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ralphje/destructify"
	"github.com/ralphje/destructify/fields"
	"github.com/ralphje/destructify/internal/stream"
)

func parseOne(t *testing.T, f destructify.Field, input []byte) any {
	t.Helper()
	st := destructify.NewStructure("t", []destructify.NamedField{{Name: "v", Field: f}})
	v, err := st.Parse(stream.NewBuffer(input))
	require.NoError(t, err)
	val, err := v.Get("v")
	require.NoError(t, err)
	return val
}

func emitOne(t *testing.T, f destructify.Field, value any) []byte {
	t.Helper()
	st := destructify.NewStructure("t", []destructify.NamedField{{Name: "v", Field: f}})
	val := destructify.NewValue(st)
	val.Set("v", value)
	buf := stream.NewBuffer(nil)
	require.NoError(t, st.Emit(val, buf))
	return buf.Bytes()
}

func TestIntegerFieldRoundTrip(t *testing.T) {
	t.Parallel()
	t.Run("unsigned big endian", func(t *testing.T) {
		t.Parallel()
		f := fields.NewInteger(2)
		require.Equal(t, int64(0x0102), parseOne(t, f, []byte{0x01, 0x02}))
		require.Equal(t, []byte{0x01, 0x02}, emitOne(t, f, int64(0x0102)))
	})
	t.Run("signed negative", func(t *testing.T) {
		t.Parallel()
		f := fields.NewInteger(1, fields.WithSigned(true))
		require.Equal(t, int64(-1), parseOne(t, f, []byte{0xFF}))
		require.Equal(t, []byte{0xFF}, emitOne(t, f, int64(-1)))
	})
	t.Run("little endian", func(t *testing.T) {
		t.Parallel()
		f := fields.NewInteger(2, fields.WithIntegerByteOrder(destructify.LittleEndian))
		require.Equal(t, int64(0x0201), parseOne(t, f, []byte{0x01, 0x02}))
	})
	t.Run("overflow on emit", func(t *testing.T) {
		t.Parallel()
		f := fields.NewInteger(1)
		st := destructify.NewStructure("t", []destructify.NamedField{{Name: "v", Field: f}})
		val := destructify.NewValue(st)
		val.Set("v", int64(256))
		require.ErrorIs(t, st.Emit(val, stream.NewBuffer(nil)), destructify.ErrOverflow)
	})
}

func TestBitFieldPacking(t *testing.T) {
	t.Parallel()
	st := destructify.NewStructure("t", []destructify.NamedField{
		{Name: "a", Field: fields.NewBit(3)},
		{Name: "b", Field: fields.NewBit(5)},
		{Name: "c", Field: fields.NewBit(4)},
		{Name: "d", Field: fields.NewBit(4)},
	})
	// a=0b101 (5), b=0b10110 (22) packed into byte 0b10110110 = 0xB6
	// c=0b1100 (12), d=0b0011 (3) packed into byte 0b11000011 = 0xC3
	v, err := st.Parse(stream.NewBuffer([]byte{0xB6, 0xC3}))
	require.NoError(t, err)
	a, _ := v.Get("a")
	b, _ := v.Get("b")
	c, _ := v.Get("c")
	d, _ := v.Get("d")
	require.Equal(t, int64(5), a)
	require.Equal(t, int64(22), b)
	require.Equal(t, int64(12), c)
	require.Equal(t, int64(3), d)

	val := destructify.NewValue(st)
	val.Set("a", int64(5)).Set("b", int64(22)).Set("c", int64(12)).Set("d", int64(3))
	buf := stream.NewBuffer(nil)
	require.NoError(t, st.Emit(val, buf))
	require.Equal(t, []byte{0xB6, 0xC3}, buf.Bytes())
}

// TestBitFieldWithRealignForcesByteBoundary asserts that a BitField built
// with WithRealign(true) flushes to the next byte boundary even though
// another BitField immediately follows it, per the design document's
// realign parameter (§4.5, §4.6).
func TestBitFieldWithRealignForcesByteBoundary(t *testing.T) {
	t.Parallel()
	st := destructify.NewStructure("t", []destructify.NamedField{
		{Name: "a", Field: fields.NewBit(3, fields.WithRealign(true))},
		{Name: "b", Field: fields.NewBit(3)},
	})
	// a=0b101 (5) occupies the top 3 bits of byte 0; realign discards the
	// remaining 5 bits instead of packing b into them, so b reads the top
	// 3 bits of byte 1.
	v, err := st.Parse(stream.NewBuffer([]byte{0b10100000, 0b11000000}))
	require.NoError(t, err)
	a, _ := v.Get("a")
	b, _ := v.Get("b")
	require.Equal(t, int64(5), a)
	require.Equal(t, int64(6), b)

	val := destructify.NewValue(st)
	val.Set("a", int64(5)).Set("b", int64(6))
	buf := stream.NewBuffer(nil)
	require.NoError(t, st.Emit(val, buf))
	require.Equal(t, []byte{0b10100000, 0b11000000}, buf.Bytes())
}

func TestBitFieldRealignsBeforeByteField(t *testing.T) {
	t.Parallel()
	st := destructify.NewStructure("t", []destructify.NamedField{
		{Name: "flag", Field: fields.NewBit(1)},
		{Name: "rest", Field: fields.NewInteger(1)},
	})
	// flag consumes 1 bit from byte 0, realign discards the remaining 7
	// bits, then rest reads byte 1 whole.
	v, err := st.Parse(stream.NewBuffer([]byte{0x80, 0x2A}))
	require.NoError(t, err)
	flag, _ := v.Get("flag")
	rest, _ := v.Get("rest")
	require.Equal(t, int64(1), flag)
	require.Equal(t, int64(0x2A), rest)
}

func TestBytesFieldFixedLength(t *testing.T) {
	t.Parallel()
	f := fields.NewFixedLength(destructify.Const(int64(5)))
	require.Equal(t, []byte("hello"), parseOne(t, f, []byte("hello world")))
	require.Equal(t, []byte("hello"), emitOne(t, f, []byte("hello")))
}

func TestBytesFieldTerminatorHandlers(t *testing.T) {
	t.Parallel()
	t.Run("consume strips terminator and advances past it", func(t *testing.T) {
		t.Parallel()
		f := fields.NewTerminated(fields.WithTerminator([]byte{0}))
		st := destructify.NewStructure("t", []destructify.NamedField{
			{Name: "a", Field: f},
			{Name: "b", Field: fields.NewInteger(1)},
		})
		v, err := st.Parse(stream.NewBuffer([]byte{'h', 'i', 0, 0x7F}))
		require.NoError(t, err)
		a, _ := v.Get("a")
		b, _ := v.Get("b")
		require.Equal(t, []byte("hi"), a)
		require.Equal(t, int64(0x7F), b)
	})
	t.Run("include keeps terminator in value", func(t *testing.T) {
		t.Parallel()
		f := fields.NewTerminated(fields.WithTerminator([]byte("\n")), fields.WithTerminatorHandler(fields.HandleInclude))
		require.Equal(t, []byte("hi\n"), parseOne(t, f, []byte("hi\n")))
	})
	t.Run("until leaves terminator unconsumed", func(t *testing.T) {
		t.Parallel()
		f := fields.NewTerminated(fields.WithTerminator([]byte{0}), fields.WithTerminatorHandler(fields.HandleUntil))
		st := destructify.NewStructure("t", []destructify.NamedField{
			{Name: "a", Field: f},
			{Name: "b", Field: fields.NewInteger(1)},
		})
		v, err := st.Parse(stream.NewBuffer([]byte{'h', 'i', 0}))
		require.NoError(t, err)
		a, _ := v.Get("a")
		b, _ := v.Get("b")
		require.Equal(t, []byte("hi"), a)
		require.Equal(t, int64(0), b)
	})
	t.Run("strict fails when terminator absent", func(t *testing.T) {
		t.Parallel()
		f := fields.NewTerminated(fields.WithTerminator([]byte{0}))
		st := destructify.NewStructure("t", []destructify.NamedField{{Name: "a", Field: f}})
		_, err := st.Parse(stream.NewBuffer([]byte("no terminator here")))
		require.ErrorIs(t, err, destructify.ErrStreamExhausted)
	})
	t.Run("non-strict tolerates missing terminator", func(t *testing.T) {
		t.Parallel()
		f := fields.NewTerminated(fields.WithTerminator([]byte{0}), fields.WithStrict(false))
		require.Equal(t, []byte("abc"), parseOne(t, f, []byte("abc")))
	})
}

func TestBytesFieldPadding(t *testing.T) {
	t.Parallel()
	f := fields.NewFixedLength(destructify.Const(int64(8)), fields.WithPadding([]byte{' '}))
	require.Equal(t, []byte("hi"), parseOne(t, f, []byte("hi      ")))
	require.Equal(t, []byte("hi      "), emitOne(t, f, []byte("hi")))
}

func TestBytesFieldReadsToEOF(t *testing.T) {
	t.Parallel()
	f := fields.NewBytes()
	require.Equal(t, []byte("remaining"), parseOne(t, f, []byte("remaining")))
}

func TestBytesFieldEmptyStream(t *testing.T) {
	t.Parallel()
	f := fields.NewBytes()
	require.Equal(t, []byte{}, parseOne(t, f, nil))
}

func TestForwardLengthReferenceDoesNotDisturbCursor(t *testing.T) {
	t.Parallel()
	// A length field parsed lazily after the data it describes (a
	// trailing length byte) must not leave the shared stream cursor
	// somewhere that corrupts the data field's own read.
	st := destructify.NewStructure("t", []destructify.NamedField{
		{Name: "data", Field: fields.NewFixedLength(destructify.FieldRef("n"))},
		{Name: "n", Field: fields.Configure(
			fields.NewInteger(1),
			fields.WithOffset(destructify.Const(int64(-1))),
			fields.WithLazy(true),
		)},
	})
	v, err := st.Parse(stream.NewBuffer([]byte("abcdef\x06")))
	require.NoError(t, err)
	data, err := v.Get("data")
	require.NoError(t, err)
	require.Equal(t, []byte("abcdef"), data)
}

func TestStructFieldFormat(t *testing.T) {
	t.Parallel()
	f, err := fields.NewStruct(">Hb")
	require.NoError(t, err)
	v := parseOne(t, f, []byte{0x01, 0x02, 0xFF})
	vs, ok := v.([]any)
	require.True(t, ok)
	require.Equal(t, int64(0x0102), vs[0])
	require.Equal(t, int64(-1), vs[1])
}

func TestStructFieldMultibyte(t *testing.T) {
	t.Parallel()
	f, err := fields.NewStruct("4B", fields.WithMultibyte(true))
	require.NoError(t, err)
	require.Equal(t, int64(0x01020304), parseOne(t, f, []byte{0x01, 0x02, 0x03, 0x04}))
}

func TestStructFieldHalfFloat(t *testing.T) {
	t.Parallel()
	f, err := fields.HalfFloatField()
	require.NoError(t, err)
	buf := emitOne(t, f, float64(1.5))
	got := parseOne(t, f, buf)
	require.InDelta(t, 1.5, got, 0.001)
}

func TestConstantFieldChecksMagic(t *testing.T) {
	t.Parallel()
	f := fields.NewConstant([]byte("MAGC"), nil)
	require.Equal(t, []byte("MAGC"), parseOne(t, f, []byte("MAGC")))

	st := destructify.NewStructure("t", []destructify.NamedField{{Name: "v", Field: f}})
	_, err := st.Parse(stream.NewBuffer([]byte("NOPE")))
	require.ErrorIs(t, err, destructify.ErrCheckError)
}

func TestConstantFieldDefaultsOnEmit(t *testing.T) {
	t.Parallel()
	f := fields.NewConstant([]byte("TAG!"), nil)
	st := destructify.NewStructure("t", []destructify.NamedField{{Name: "v", Field: f}})
	val := destructify.NewValue(st)
	buf := stream.NewBuffer(nil)
	require.NoError(t, st.Emit(val, buf))
	require.Equal(t, []byte("TAG!"), buf.Bytes())
}

func TestArrayFieldWithCount(t *testing.T) {
	t.Parallel()
	f := fields.NewArray(fields.NewInteger(1), fields.WithCount(destructify.Const(int64(3))))
	v := parseOne(t, f, []byte{1, 2, 3, 9})
	require.Equal(t, []any{int64(1), int64(2), int64(3)}, v)
	require.Equal(t, []byte{1, 2, 3}, emitOne(t, f, []any{int64(1), int64(2), int64(3)}))
}

func TestArrayFieldWithLengthUnbounded(t *testing.T) {
	t.Parallel()
	f := fields.NewArray(fields.NewInteger(1), fields.WithArrayLength(destructify.Const(int64(-1))))
	v := parseOne(t, f, []byte{1, 2, 3})
	require.Equal(t, []any{int64(1), int64(2), int64(3)}, v)
}

func TestArrayFieldEmpty(t *testing.T) {
	t.Parallel()
	f := fields.NewArray(fields.NewInteger(1), fields.WithCount(destructify.Const(int64(0))))
	require.Equal(t, []any{}, parseOne(t, f, nil))
}

func TestConditionalField(t *testing.T) {
	t.Parallel()
	st := destructify.NewStructure("t", []destructify.NamedField{
		{Name: "flag", Field: fields.NewInteger(1)},
		{Name: "extra", Field: fields.NewConditional(
			fields.NewInteger(1), destructify.FieldRef("flag"),
			fields.WithFallback(int64(-1)),
		)},
	})
	t.Run("present", func(t *testing.T) {
		t.Parallel()
		v, err := st.Parse(stream.NewBuffer([]byte{1, 0x2A}))
		require.NoError(t, err)
		extra, _ := v.Get("extra")
		require.Equal(t, int64(0x2A), extra)
	})
	t.Run("absent", func(t *testing.T) {
		t.Parallel()
		v, err := st.Parse(stream.NewBuffer([]byte{0}))
		require.NoError(t, err)
		extra, _ := v.Get("extra")
		require.Equal(t, int64(-1), extra)
	})
}

func TestSwitchField(t *testing.T) {
	t.Parallel()
	cases := map[any]destructify.Field{
		int64(1): fields.NewInteger(1),
		int64(2): fields.NewFixedLength(destructify.Const(int64(2))),
	}
	st := destructify.NewStructure("t", []destructify.NamedField{
		{Name: "tag", Field: fields.NewInteger(1)},
		{Name: "body", Field: fields.NewSwitch(destructify.FieldRef("tag"), cases)},
	})
	v, err := st.Parse(stream.NewBuffer([]byte{1, 0x42}))
	require.NoError(t, err)
	body, _ := v.Get("body")
	require.Equal(t, int64(0x42), body)

	v2, err := st.Parse(stream.NewBuffer([]byte{2, 'h', 'i'}))
	require.NoError(t, err)
	body2, _ := v2.Get("body")
	require.Equal(t, []byte("hi"), body2)
}

func TestSwitchFieldNoMatchFails(t *testing.T) {
	t.Parallel()
	cases := map[any]destructify.Field{int64(1): fields.NewInteger(1)}
	st := destructify.NewStructure("t", []destructify.NamedField{
		{Name: "tag", Field: fields.NewInteger(1)},
		{Name: "body", Field: fields.NewSwitch(destructify.FieldRef("tag"), cases)},
	})
	_, err := st.Parse(stream.NewBuffer([]byte{9}))
	require.ErrorIs(t, err, destructify.ErrCheckError)
}

func TestSwitchFieldOtherFallback(t *testing.T) {
	t.Parallel()
	cases := map[any]destructify.Field{int64(1): fields.NewInteger(1)}
	other := fields.NewFixedLength(destructify.Const(int64(1)))
	st := destructify.NewStructure("t", []destructify.NamedField{
		{Name: "tag", Field: fields.NewInteger(1)},
		{Name: "body", Field: fields.NewSwitch(destructify.FieldRef("tag"), cases, fields.WithOther(other))},
	})
	v, err := st.Parse(stream.NewBuffer([]byte{9, 'x'}))
	require.NoError(t, err)
	body, _ := v.Get("body")
	require.Equal(t, []byte("x"), body)
}

func TestEnumFieldPlainMember(t *testing.T) {
	t.Parallel()
	colors := fields.NewEnum("Color", fields.Member("Red", 1), fields.Member("Green", 2))
	f := fields.NewEnumField(fields.NewInteger(1), colors)
	v := parseOne(t, f, []byte{1})
	ev, ok := v.(fields.EnumValue)
	require.True(t, ok)
	require.Equal(t, int64(1), ev.Raw)
	require.Equal(t, "Red", ev.Name)

	require.Equal(t, []byte{2}, emitOne(t, f, "Green"))
	require.Equal(t, []byte{1}, emitOne(t, f, fields.EnumValue{Raw: 1}))
}

func TestEnumFieldFlags(t *testing.T) {
	t.Parallel()
	perms := fields.NewEnum("Perm", fields.Member("R", 4), fields.Member("W", 2), fields.Member("X", 1)).AsFlags()
	f := fields.NewEnumField(fields.NewInteger(1), perms)
	v := parseOne(t, f, []byte{0x07})
	ev := v.(fields.EnumValue)
	require.Equal(t, int64(7), ev.Raw)
	require.Equal(t, "R|W|X", ev.Name)

	require.Equal(t, []byte{0x06}, emitOne(t, f, "R|W"))
}

func TestVariableLengthInteger(t *testing.T) {
	t.Parallel()
	f := fields.NewVariableLengthInteger()
	t.Run("single byte", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, int64(0x42), parseOne(t, f, []byte{0x42}))
		require.Equal(t, []byte{0x42}, emitOne(t, f, int64(0x42)))
	})
	t.Run("multi byte", func(t *testing.T) {
		t.Parallel()
		// 300 = 0b100101100 -> groups of 7 bits MSB-first: 0000010, 0101100
		want := []byte{0x82, 0x2C}
		require.Equal(t, want, emitOne(t, f, int64(300)))
		require.Equal(t, int64(300), parseOne(t, f, want))
	})
}

func TestStringFieldUTF8(t *testing.T) {
	t.Parallel()
	f, err := fields.NewString("utf-8", fields.WithLength(destructify.Const(int64(5))))
	require.NoError(t, err)
	require.Equal(t, "hello", parseOne(t, f, []byte("hello")))
	require.Equal(t, []byte("hello"), emitOne(t, f, "hello"))
}

func TestStringFieldAsciiRejectsHighBit(t *testing.T) {
	t.Parallel()
	f, err := fields.NewString("ascii", fields.WithLength(destructify.Const(int64(5))))
	require.NoError(t, err)
	require.Equal(t, "hello", parseOne(t, f, []byte("hello")))

	st := destructify.NewStructure("t", []destructify.NamedField{{Name: "s", Field: f}})
	_, err = st.Parse(stream.NewBuffer([]byte{'h', 'i', 0xFF, 0xFF, 0xFF}))
	require.Error(t, err)
}

func TestStructureFieldNested(t *testing.T) {
	t.Parallel()
	inner := destructify.NewStructure("inner", []destructify.NamedField{
		{Name: "a", Field: fields.NewInteger(1)},
		{Name: "b", Field: fields.NewInteger(1)},
	})
	f := fields.NewStructureField(inner)
	st := destructify.NewStructure("outer", []destructify.NamedField{{Name: "nested", Field: f}})

	v, err := st.Parse(stream.NewBuffer([]byte{0x01, 0x02}))
	require.NoError(t, err)
	nested, err := v.Get("nested")
	require.NoError(t, err)
	nv, ok := nested.(*destructify.Value)
	require.True(t, ok)
	a, _ := nv.Get("a")
	b, _ := nv.Get("b")
	require.Equal(t, int64(1), a)
	require.Equal(t, int64(2), b)
}

func TestStructureFieldBoundedLength(t *testing.T) {
	t.Parallel()
	inner := destructify.NewStructure("inner", []destructify.NamedField{
		{Name: "a", Field: fields.NewInteger(1)},
	})
	f := fields.NewStructureField(inner, fields.WithStructureLength(destructify.Const(int64(4))))
	st := destructify.NewStructure("outer", []destructify.NamedField{
		{Name: "nested", Field: f},
		{Name: "tail", Field: fields.NewInteger(1)},
	})
	v, err := st.Parse(stream.NewBuffer([]byte{0x01, 0, 0, 0, 0x09}))
	require.NoError(t, err)
	tail, _ := v.Get("tail")
	require.Equal(t, int64(9), tail)
}
