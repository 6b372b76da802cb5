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
	"bytes"
	"fmt"
	"io"

	"github.com/ralphje/destructify"
	"github.com/ralphje/destructify/internal/stream"
)

// TerminatorHandler selects how a BytesField's terminator is handled
// relative to the returned value.
type TerminatorHandler int

const (
	// HandleConsume strips the terminator from the returned value but
	// still consumes it from the stream. The default.
	HandleConsume TerminatorHandler = iota
	// HandleInclude keeps the terminator as part of the returned value.
	HandleInclude
	// HandleUntil stops at the terminator without consuming it from the
	// stream at all.
	HandleUntil
)

// BytesOption configures a [BytesField].
type BytesOption struct{ apply func(*BytesField) }

// WithLength sets the field's byte length. A negative constant length
// means "read until EOF".
func WithLength(s destructify.Spec) BytesOption {
	return BytesOption{func(f *BytesField) { f.length = s }}
}

// WithTerminator sets the byte sequence that ends the field.
func WithTerminator(t []byte) BytesOption {
	return BytesOption{func(f *BytesField) { f.terminator = t }}
}

// WithStrict controls whether running out of bytes, or never finding a
// required terminator, is an error (true, the default) or tolerated
// (false, returning whatever was read). On write, a non-strict field with
// no padding writes a value shorter than its length as-is instead of
// failing.
func WithStrict(strict bool) BytesOption {
	return BytesOption{func(f *BytesField) { f.strict = strict }}
}

// WithPadding sets the right-aligned padding unit stripped from a
// fixed-length read (and added to a short write).
func WithPadding(p []byte) BytesOption {
	return BytesOption{func(f *BytesField) { f.padding = p }}
}

// WithStep sets the alignment, in bytes, that a terminator search is
// aligned to. The default is 1.
func WithStep(step int) BytesOption {
	return BytesOption{func(f *BytesField) { f.step = step }}
}

// WithTerminatorHandler sets how the terminator relates to the returned
// value. The default is [HandleConsume].
func WithTerminatorHandler(h TerminatorHandler) BytesOption {
	return BytesOption{func(f *BytesField) { f.handler = h }}
}

// BytesField reads/writes a run of bytes bounded by a fixed length, a
// terminator, padding, or some combination, per the design document's
// BytesField contract.
type BytesField struct {
	base *destructify.Base

	length     destructify.Spec
	terminator []byte
	strict     bool
	padding    []byte
	step       int
	handler    TerminatorHandler

	// isString marks a BytesField constructed via NewString, so its
	// intrinsic default is "" rather than an empty byte slice.
	isString bool
}

// NewBytes creates a BytesField. With no options it reads to EOF.
func NewBytes(opts ...BytesOption) *BytesField {
	f := &BytesField{base: &destructify.Base{}, strict: true, step: 1}
	for _, o := range opts {
		o.apply(f)
	}
	return f
}

// NewFixedLength creates a BytesField with a required length.
func NewFixedLength(length destructify.Spec, opts ...BytesOption) *BytesField {
	return NewBytes(append([]BytesOption{WithLength(length)}, opts...)...)
}

// NewTerminated creates a BytesField with a required terminator,
// defaulting to a single NUL byte.
func NewTerminated(opts ...BytesOption) *BytesField {
	f := NewBytes(opts...)
	if f.terminator == nil {
		f.terminator = []byte{0}
	}
	return f
}

func (f *BytesField) Base() *destructify.Base { return f.base }
func (f *BytesField) IsBit() bool             { return false }

// LengthSpec implements destructify.HasLengthSpec, letting a structure's
// auto-override wiring detect `fields.WithLength(destructify.FieldRef(...))`.
func (f *BytesField) LengthSpec() destructify.Spec { return f.length }

// IntrinsicDefault implements destructify.FieldIntrinsicDefault.
func (f *BytesField) IntrinsicDefault() any {
	if f.isString {
		return ""
	}
	return []byte{}
}

func (f *BytesField) Len(ctx *destructify.Context) (int64, bool) {
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

func (f *BytesField) SeekEnd(ctx *destructify.Context, s stream.Stream, start int64) (int64, error) {
	if n, ok := f.Len(ctx); ok {
		return s.Seek(start+n, stream.SeekSet)
	}
	if f.terminator != nil {
		if _, err := s.Seek(start, stream.SeekSet); err != nil {
			return 0, err
		}
		if _, _, err := f.scanForTerminator(s, start); err != nil {
			return 0, err
		}
		return s.Tell()
	}
	return 0, destructify.ErrImpossibleToCalculateLength
}

func (f *BytesField) FromStream(ctx *destructify.Context, s stream.Stream) (any, int64, error) {
	start, err := s.Tell()
	if err != nil {
		return nil, 0, err
	}

	if f.length != nil {
		v, ok, err := destructify.Resolve(f.length, ctx.Facade())
		if err != nil {
			return nil, 0, err
		}
		if ok {
			n, err := destructify.ToInt64(v)
			if err != nil {
				return nil, 0, err
			}
			if n >= 0 {
				// Resolving f.length may have forced a sibling lazy field,
				// which seeks the shared stream; restore our own start
				// before actually reading.
				if _, err := s.Seek(start, stream.SeekSet); err != nil {
					return nil, 0, err
				}
				return f.readFixed(s, n)
			}
		}
	}

	// Resolving f.length above (when present but negative or unresolved)
	// may have forced a sibling lazy field and moved the shared stream;
	// restore our own start before falling through to terminator/EOF reads.
	if _, err := s.Seek(start, stream.SeekSet); err != nil {
		return nil, 0, err
	}

	if f.terminator != nil {
		return f.scanForTerminator(s, start)
	}

	buf, err := s.Read(-1)
	if err != nil && err != io.EOF {
		return nil, 0, err
	}
	if buf == nil {
		buf = []byte{}
	}
	return buf, int64(len(buf)), nil
}

func (f *BytesField) readFixed(s stream.Stream, n int64) (any, int64, error) {
	buf, err := s.Read(int(n))
	if err != nil {
		if f.strict {
			return nil, 0, fmt.Errorf("%w: %w", destructify.ErrStreamExhausted, err)
		}
	}
	consumed := int64(len(buf))
	data := buf
	switch {
	case f.terminator != nil:
		step := f.step
		if step <= 0 {
			step = 1
		}
		if idx := findAligned(buf, f.terminator, step); idx >= 0 {
			if f.handler == HandleInclude {
				data = buf[:idx+len(f.terminator)]
			} else {
				data = buf[:idx]
			}
		} else if f.strict {
			return nil, 0, fmt.Errorf("%w: terminator not found", destructify.ErrStreamExhausted)
		}
	case f.padding != nil:
		data = stripPadding(buf, f.padding)
	}
	return data, consumed, nil
}

func (f *BytesField) scanForTerminator(s stream.Stream, start int64) ([]byte, int64, error) {
	step := f.step
	if step <= 0 {
		step = 1
	}
	var buf []byte
	for {
		chunk, rerr := s.Read(step)
		buf = append(buf, chunk...)
		if idx := findAligned(buf, f.terminator, step); idx >= 0 {
			var end int64
			var result []byte
			switch f.handler {
			case HandleInclude:
				end = start + int64(idx) + int64(len(f.terminator))
				result = buf[:idx+len(f.terminator)]
			case HandleUntil:
				end = start + int64(idx)
				result = buf[:idx]
			default:
				end = start + int64(idx) + int64(len(f.terminator))
				result = buf[:idx]
			}
			if _, serr := s.Seek(end, stream.SeekSet); serr != nil {
				return nil, 0, serr
			}
			return result, end - start, nil
		}
		if len(chunk) == 0 || rerr != nil {
			if len(chunk) == 0 || rerr == io.EOF {
				if f.strict {
					return nil, 0, fmt.Errorf("%w: terminator not found", destructify.ErrStreamExhausted)
				}
				return buf, int64(len(buf)), nil
			}
			return nil, 0, rerr
		}
	}
}

func (f *BytesField) ToStream(ctx *destructify.Context, s stream.Stream, value any) (int64, error) {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return 0, fmt.Errorf("%w: BytesField requires []byte or string, got %T", destructify.ErrWriteError, value)
	}

	if f.handler == HandleInclude && f.terminator != nil && !bytes.HasSuffix(data, f.terminator) {
		return 0, fmt.Errorf("%w: value missing required terminator", destructify.ErrWriteError)
	}
	out := data
	if f.handler != HandleInclude && f.terminator != nil {
		out = append(append([]byte{}, data...), f.terminator...)
	}

	if n, ok := f.Len(ctx); ok {
		switch {
		case int64(len(out)) > n:
			return 0, fmt.Errorf("%w: value length %d exceeds field length %d", destructify.ErrWriteError, len(out), n)
		case int64(len(out)) < n:
			if f.padding != nil {
				out = padTo(out, f.padding, n)
			} else if f.strict {
				return 0, fmt.Errorf("%w: value shorter than field length and no padding set", destructify.ErrWriteError)
			}
		}
	}

	written, err := s.Write(out)
	return int64(written), err
}

func findAligned(data, term []byte, step int) int {
	if len(term) == 0 {
		return -1
	}
	for i := 0; i+len(term) <= len(data); i += step {
		if bytes.Equal(data[i:i+len(term)], term) {
			return i
		}
	}
	return -1
}

func stripPadding(data, padding []byte) []byte {
	if len(padding) == 0 {
		return data
	}
	end := len(data)
	for end >= len(padding) && bytes.Equal(data[end-len(padding):end], padding) {
		end -= len(padding)
	}
	return data[:end]
}

func padTo(data, padding []byte, n int64) []byte {
	out := append([]byte{}, data...)
	for int64(len(out)) < n {
		remaining := n - int64(len(out))
		if remaining >= int64(len(padding)) {
			out = append(out, padding...)
		} else {
			out = append(out, padding[:remaining]...)
		}
	}
	return out
}
