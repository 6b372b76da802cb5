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

// StructureField parses/emits a nested [destructify.Structure] as one
// field's value. Parsing recurses into the engine with a child context (so
// `f._`/`f._root` navigation reaches back out to the enclosing
// structure); Emit serializes the nested Value through that Value's own
// context. If length is set, the child is parsed from a substream of
// exactly that many bytes, and emitted output is zero-padded to it.
type StructureField struct {
	base *destructify.Base

	structure *destructify.Structure
	length    destructify.Spec
}

// StructureFieldOption configures a [StructureField]. Named distinctly
// from [StructOption] (StructField's option type) to avoid confusion
// between the two unrelated "struct"/"structure" field variants.
type StructureFieldOption struct{ apply func(*StructureField) }

// WithStructureLength bounds the nested structure to exactly this many
// bytes: Parse reads it from a substream of that length and then skips to
// its end; Emit zero-pads shorter output and fails with ErrWriteError on
// longer output.
func WithStructureLength(s destructify.Spec) StructureFieldOption {
	return StructureFieldOption{func(f *StructureField) { f.length = s }}
}

// NewStructureField creates a StructureField over structure.
func NewStructureField(structure *destructify.Structure, opts ...StructureFieldOption) *StructureField {
	f := &StructureField{base: &destructify.Base{}, structure: structure}
	for _, o := range opts {
		o.apply(f)
	}
	return f
}

func (f *StructureField) Base() *destructify.Base { return f.base }
func (f *StructureField) IsBit() bool             { return false }

func (f *StructureField) Len(ctx *destructify.Context) (int64, bool) {
	if f.length == nil {
		return 0, false
	}
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

func (f *StructureField) SeekEnd(ctx *destructify.Context, s stream.Stream, start int64) (int64, error) {
	return destructify.DefaultSeekEnd(f, ctx, s, start)
}

func (f *StructureField) FromStream(ctx *destructify.Context, s stream.Stream) (any, int64, error) {
	start, err := s.Tell()
	if err != nil {
		return nil, 0, err
	}

	src := s
	boundedLen, bounded := f.Len(ctx)
	if bounded {
		sub, err := stream.NewSubstream(s, boundedLen)
		if err != nil {
			return nil, 0, err
		}
		src = sub
	}

	v, err := f.structure.ParseChild(ctx, f, src)
	if err != nil {
		return nil, 0, err
	}

	// A bounded child confines the inner structure's own fields to
	// boundedLen bytes, but does not require it to consume all of them
	// (trailing padding/reserved space is common); always skip the parent
	// stream to the declared end so the next sibling field starts there.
	if bounded {
		if _, err := s.Seek(start+boundedLen, stream.SeekSet); err != nil {
			return nil, 0, err
		}
		return v, boundedLen, nil
	}

	end, err := s.Tell()
	if err != nil {
		return nil, 0, err
	}
	return v, end - start, nil
}

func (f *StructureField) ToStream(ctx *destructify.Context, s stream.Stream, value any) (int64, error) {
	v, ok := value.(*destructify.Value)
	if !ok {
		return 0, fmt.Errorf("%w: StructureField requires a *destructify.Value, got %T", destructify.ErrWriteError, value)
	}
	start, err := s.Tell()
	if err != nil {
		return 0, err
	}
	if err := f.structure.Emit(v, s); err != nil {
		return 0, err
	}

	// A bounded length may declare more bytes than the inner structure
	// actually wrote; pad the remainder with zeros so the next sibling
	// field lands at the declared end, mirroring FromStream's behavior.
	if boundedLen, ok := f.Len(ctx); ok {
		end, err := s.Tell()
		if err != nil {
			return 0, err
		}
		written := end - start
		if written > boundedLen {
			return 0, fmt.Errorf("%w: nested structure wrote %d bytes, exceeding declared length %d", destructify.ErrWriteError, written, boundedLen)
		}
		if written < boundedLen {
			if _, err := s.Write(make([]byte, boundedLen-written)); err != nil {
				return 0, err
			}
		}
		return boundedLen, nil
	}

	end, err := s.Tell()
	if err != nil {
		return 0, err
	}
	return end - start, nil
}
