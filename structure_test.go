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

package destructify_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ralphje/destructify"
	"github.com/ralphje/destructify/fields"
	"github.com/ralphje/destructify/internal/stream"
)

// TestStructureScenarioA parses a fixed-width integer followed by an
// auto-overridden length byte and the bytes it describes.
func TestStructureScenarioA(t *testing.T) {
	t.Parallel()
	st := destructify.NewStructure("scenarioA", []destructify.NamedField{
		{Name: "some_number", Field: fields.Configure(fields.NewInteger(4, fields.WithSigned(true)))},
		{Name: "length", Field: fields.Configure(fields.NewInteger(1), fields.WithDefault(destructify.Const(int64(0))))},
		{Name: "data", Field: fields.NewFixedLength(destructify.FieldRef("length"))},
	}, destructify.WithByteOrder(destructify.BigEndian))

	input := []byte{0x01, 0x02, 0x03, 0x04, 0x0B, 'H', 'e', 'l', 'l', 'o', ' ', 'w', 'o', 'r', 'l', 'd'}
	v, err := st.Parse(stream.New(newMemRWS(input)))
	require.NoError(t, err)

	n, err := v.Get("some_number")
	require.NoError(t, err)
	require.Equal(t, int64(0x01020304), n)

	length, err := v.Get("length")
	require.NoError(t, err)
	require.Equal(t, int64(11), length)

	data, err := v.Get("data")
	require.NoError(t, err)
	require.Equal(t, []byte("Hello world"), data)
}

// TestStructureScenarioB emits the same structure without ever assigning
// some_number or length, triggering the auto-override (length) and the
// intrinsic default (some_number=0).
func TestStructureScenarioB(t *testing.T) {
	t.Parallel()
	st := destructify.NewStructure("scenarioB", []destructify.NamedField{
		{Name: "some_number", Field: fields.Configure(fields.NewInteger(4, fields.WithSigned(true)))},
		{Name: "length", Field: fields.Configure(fields.NewInteger(1), fields.WithDefault(destructify.Const(int64(0))))},
		{Name: "data", Field: fields.NewFixedLength(destructify.FieldRef("length"))},
	}, destructify.WithByteOrder(destructify.BigEndian))

	val := destructify.NewValue(st)
	val.Set("data", []byte("How are you doing?"))

	buf := stream.NewBuffer(nil)
	require.NoError(t, st.Emit(val, buf))
	require.Equal(t, []byte("\x00\x00\x00\x00\x12How are you doing?"), buf.Bytes())
}

// TestStructureScenarioC uses a length field whose override thunk computes
// len(content)+4 from Lookup and Len.
func TestStructureScenarioC(t *testing.T) {
	t.Parallel()
	lengthOverride := destructify.OverrideThunk(func(f destructify.Facade, current any) (any, error) {
		v, err := f.Lookup("content")
		if err != nil {
			return nil, err
		}
		n, err := destructify.Len(v)
		if err != nil {
			return nil, err
		}
		return n + 4, nil
	})

	st := destructify.NewStructure("scenarioC", []destructify.NamedField{
		{Name: "length", Field: fields.Configure(
			fields.NewInteger(4, fields.WithSigned(false)),
			fields.WithOverride(lengthOverride),
		)},
		{Name: "content", Field: fields.NewFixedLength(destructify.Sub(destructify.FieldRef("length"), destructify.Const(int64(4))))},
	}, destructify.WithByteOrder(destructify.BigEndian))

	val := destructify.NewValue(st)
	val.Set("content", []byte("hi"))

	buf := stream.NewBuffer(nil)
	require.NoError(t, st.Emit(val, buf))
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x06, 'h', 'i'}, buf.Bytes())
}

// TestStructureScenarioD parses two terminated byte runs back to back with
// different terminators.
func TestStructureScenarioD(t *testing.T) {
	t.Parallel()
	st := destructify.NewStructure("scenarioD", []destructify.NamedField{
		{Name: "foo", Field: fields.NewTerminated(fields.WithTerminator([]byte{0}))},
		{Name: "bar", Field: fields.NewTerminated(fields.WithTerminator([]byte("\r\n")))},
	})

	v, err := st.Parse(stream.New(newMemRWS([]byte("hello\x00world\r\n"))))
	require.NoError(t, err)

	foo, err := v.Get("foo")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), foo)

	bar, err := v.Get("bar")
	require.NoError(t, err)
	require.Equal(t, []byte("world"), bar)
}

// TestStructureScenarioE parses an array whose count is driven by a
// preceding sibling field.
func TestStructureScenarioE(t *testing.T) {
	t.Parallel()
	st := destructify.NewStructure("scenarioE", []destructify.NamedField{
		{Name: "count", Field: fields.NewInteger(1)},
		{Name: "foo", Field: fields.NewArray(
			fields.NewTerminated(fields.WithTerminator([]byte{0})),
			fields.WithCount(destructify.FieldRef("count")),
		)},
	})

	v, err := st.Parse(stream.New(newMemRWS([]byte("\x02hello\x00world\x00"))))
	require.NoError(t, err)

	foo, err := v.Get("foo")
	require.NoError(t, err)
	require.Equal(t, []any{[]byte("hello"), []byte("world")}, foo)
}

// TestStructureScenarioF parses an EnumField over a bitflag enum, which
// composes the present flag names.
func TestStructureScenarioF(t *testing.T) {
	t.Parallel()
	perms := fields.NewEnum("Permissions",
		fields.Member("R", 4),
		fields.Member("W", 2),
		fields.Member("X", 1),
	).AsFlags()

	st := destructify.NewStructure("scenarioF", []destructify.NamedField{
		{Name: "perms", Field: fields.NewEnumField(fields.NewInteger(1), perms)},
	})

	v, err := st.Parse(stream.New(newMemRWS([]byte{0x05})))
	require.NoError(t, err)

	p, err := v.Get("perms")
	require.NoError(t, err)
	ev, ok := p.(fields.EnumValue)
	require.True(t, ok)
	require.Equal(t, int64(5), ev.Raw)
	require.Equal(t, "R|X", ev.Name)
}

// TestForwardReference parses a trailing length field, read lazily via a
// negative constant offset, which resolves before the content field that
// depends on it is parsed.
func TestForwardReference(t *testing.T) {
	t.Parallel()
	st := destructify.NewStructure("forwardRef", []destructify.NamedField{
		{Name: "content", Field: fields.NewFixedLength(destructify.FieldRef("n"))},
		{Name: "n", Field: fields.Configure(
			fields.NewInteger(1),
			fields.WithOffset(destructify.Const(int64(-1))),
			fields.WithLazy(true),
		)},
	})

	v, err := st.Parse(stream.New(newMemRWS([]byte("blahblah\x04"))))
	require.NoError(t, err)

	content, err := v.Get("content")
	require.NoError(t, err)
	require.Equal(t, []byte("blah"), content)

	n, err := v.Get("n")
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}

// TestLazyEquivalence asserts that parsing with Lazy set then forcing the
// value yields the same result as parsing eagerly.
func TestLazyEquivalence(t *testing.T) {
	t.Parallel()
	build := func(lazy bool) *destructify.Structure {
		return destructify.NewStructure("lazyEq", []destructify.NamedField{
			{Name: "a", Field: fields.NewInteger(1)},
			{Name: "b", Field: fields.Configure(fields.NewFixedLength(destructify.Const(int64(4))), fields.WithLazy(lazy))},
			{Name: "c", Field: fields.NewInteger(1)},
		})
	}
	input := []byte{0x01, 'a', 'b', 'c', 'd', 0x02}

	eager, err := build(false).Parse(stream.New(newMemRWS(input)))
	require.NoError(t, err)
	lazy, err := build(true).Parse(stream.New(newMemRWS(input)))
	require.NoError(t, err)

	bFc, ok := lazy.Context().FieldContext("b")
	require.True(t, ok)
	require.True(t, bFc.Lazy())

	eagerB, err := eager.Get("b")
	require.NoError(t, err)
	lazyB, err := lazy.Get("b")
	require.NoError(t, err)
	require.Equal(t, eagerB, lazyB)

	// Forcing after Parse has returned caches the value but leaves the
	// lazy flag set.
	require.True(t, bFc.Lazy())

	eagerC, err := eager.Get("c")
	require.NoError(t, err)
	lazyC, err := lazy.Get("c")
	require.NoError(t, err)
	require.Equal(t, eagerC, lazyC)
}

// TestCursorPreservation asserts every field leaves the stream cursor
// exactly at start+bytes_reported.
func TestCursorPreservation(t *testing.T) {
	t.Parallel()
	st := destructify.NewStructure("cursor", []destructify.NamedField{
		{Name: "a", Field: fields.NewInteger(2)},
		{Name: "b", Field: fields.NewFixedLength(destructify.Const(int64(3)))},
		{Name: "c", Field: fields.NewInteger(1)},
	})

	v, err := st.Parse(stream.New(newMemRWS([]byte{0, 1, 'x', 'y', 'z', 9})))
	require.NoError(t, err)

	for _, name := range []string{"a", "b", "c"} {
		fc, ok := v.Context().FieldContext(name)
		require.True(t, ok)
		require.True(t, fc.Resolved())
	}
	aFc, _ := v.Context().FieldContext("a")
	bFc, _ := v.Context().FieldContext("b")
	cFc, _ := v.Context().FieldContext("c")
	require.Equal(t, int64(0), aFc.Offset)
	require.Equal(t, int64(2), bFc.Offset)
	require.Equal(t, int64(5), cFc.Offset)
}

// TestAlignment checks that structure alignment advances a field to the
// next multiple of the alignment: b starts at offset 4, not 1.
func TestAlignment(t *testing.T) {
	t.Parallel()
	st := destructify.NewStructure("aligned", []destructify.NamedField{
		{Name: "a", Field: fields.NewInteger(1)},
		{Name: "b", Field: fields.NewInteger(1)},
	}, destructify.WithAlignment(4))

	v, err := st.Parse(stream.New(newMemRWS([]byte{0x01, 0, 0, 0, 0x02})))
	require.NoError(t, err)
	b, err := v.Get("b")
	require.NoError(t, err)
	require.Equal(t, int64(2), b)
}

// TestCheckFailure ensures a failed structure Check
// surfaces as ErrCheckError via errors.Is.
func TestCheckFailure(t *testing.T) {
	t.Parallel()
	st := destructify.NewStructure("checked", []destructify.NamedField{
		{Name: "a", Field: fields.NewInteger(1)},
	}, destructify.WithCheck(func(ctx *destructify.Context) error {
		v, err := ctx.Facade().Lookup("a")
		if err != nil {
			return err
		}
		if v.(int64) != 0 {
			return destructify.ErrCheckError
		}
		return nil
	}))

	_, err := st.Parse(stream.New(newMemRWS([]byte{0x05})))
	require.ErrorIs(t, err, destructify.ErrCheckError)
}

// memRWS is a minimal io.ReadWriteSeeker over a fixed byte slice, used to
// build a read-only stream.Stream for parse-only tests (stream.Buffer
// covers the read+write case).
type memRWS struct {
	data []byte
	pos  int64
}

func newMemRWS(data []byte) *memRWS { return &memRWS{data: data} }

func (m *memRWS) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memRWS) Write(p []byte) (int, error) {
	return 0, io.ErrClosedPipe
}

func (m *memRWS) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case stream.SeekSet:
		target = offset
	case stream.SeekCur:
		target = m.pos + offset
	case stream.SeekEnd:
		target = int64(len(m.data)) + offset
	}
	m.pos = target
	return m.pos, nil
}
