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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ralphje/destructify"
	"github.com/ralphje/destructify/fields"
	"github.com/ralphje/destructify/internal/stream"
)

// fuzzSample mirrors scenario A from the package's acceptance tests: a
// tagged, length-prefixed run of bytes, the shape most likely to exercise
// every cursor/auto-override code path under arbitrary input.
func fuzzSample() *destructify.Structure {
	return destructify.NewStructure("fuzzSample", []destructify.NamedField{
		{Name: "tag", Field: fields.Configure(fields.NewInteger(2, fields.WithSigned(false)))},
		{Name: "length", Field: fields.Configure(fields.NewInteger(1), fields.WithDefault(destructify.Const(int64(0))))},
		{Name: "data", Field: fields.NewFixedLength(destructify.FieldRef("length"), fields.WithStrict(false))},
	}, destructify.WithByteOrder(destructify.BigEndian))
}

// FuzzParseEmit asserts that parsing never panics on arbitrary bytes, and
// that whenever a parse succeeds, re-emitting its values and re-parsing
// that output reproduces the same field values.
func FuzzParseEmit(f *testing.F) {
	f.Add([]byte{0x00, 0x01, 0x03, 'h', 'i', '!'})
	f.Add([]byte{})
	f.Add([]byte{0xFF})
	f.Add([]byte{0x00, 0x00, 0xFF, 'x'})

	f.Fuzz(func(t *testing.T, b []byte) {
		st := fuzzSample()

		v, err := st.Parse(stream.NewBuffer(b))
		if err != nil {
			return
		}

		out := stream.NewBuffer(nil)
		if err := st.Emit(v, out); err != nil {
			t.Fatalf("emit of a successfully parsed value failed: %v", err)
		}

		v2, err := fuzzSample().Parse(stream.NewBuffer(out.Bytes()))
		if err != nil {
			t.Fatalf("re-parsing emitted output failed: %v", err)
		}

		for _, name := range []string{"tag", "length", "data"} {
			want, err := v.Get(name)
			if err != nil {
				t.Fatalf("Get(%q) on first parse: %v", name, err)
			}
			got, err := v2.Get(name)
			if err != nil {
				t.Fatalf("Get(%q) on re-parse: %v", name, err)
			}
			if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("field %q mismatch after round trip (-want +got):\n%s", name, diff)
			}
		}
	})
}
