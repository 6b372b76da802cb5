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

import "github.com/sirupsen/logrus"

// NegativeOffsetPolicy resolves the design document's open question about
// what to do when a field's offset spec is a negative constant ("from the
// end") during emit, where the true end of the stream is not yet known.
type NegativeOffsetPolicy int

const (
	// RejectNegativeOffsets fails emit with ErrWriteError as soon as a
	// negative constant offset is encountered. This is the default.
	RejectNegativeOffsets NegativeOffsetPolicy = iota

	// RequireKnownLength resolves a negative offset against the owning
	// structure's declared Length metadata, failing with ErrWriteError if
	// that metadata is absent.
	RequireKnownLength
)

// ParseOption configures a single call to [Structure.Parse]. A struct
// wrapping a closure, rather than a plain func(*engineOptions), so options
// stay an opaque, extensible type.
type ParseOption struct{ apply func(*engineOptions) }

// EmitOption configures a single call to [Structure.Emit].
type EmitOption struct{ apply func(*engineOptions) }

// WithLogger attaches a [logrus.Logger] that the structure engine reports
// field-level tracing to (entry/exit, lazy deferral, auto-override
// insertion) at Debug level. The default logger is silent.
func WithLogger(l *logrus.Logger) ParseOption {
	return ParseOption{func(o *engineOptions) { o.logger = l }}
}

// WithLoggerEmit is the Emit-side counterpart of WithLogger.
func WithLoggerEmit(l *logrus.Logger) EmitOption {
	return EmitOption{func(o *engineOptions) { o.logger = l }}
}

// WithMaxDepth sets the maximum nesting depth for StructureField/
// ArrayField-of-structures recursion, guarding against unbounded recursion
// on malformed or adversarial input. The default is 64.
func WithMaxDepth(depth int) ParseOption {
	return ParseOption{func(o *engineOptions) { o.maxDepth = depth }}
}

// WithNegativeOffsetPolicy selects how Emit handles a field with a
// negative constant offset spec. See [NegativeOffsetPolicy].
func WithNegativeOffsetPolicy(p NegativeOffsetPolicy) EmitOption {
	return EmitOption{func(o *engineOptions) { o.negativeOffsetPolicy = p }}
}

func buildParseOptions(opts []ParseOption) *engineOptions {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt.apply(o)
	}
	return o
}

func buildEmitOptions(opts []EmitOption) *engineOptions {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt.apply(o)
	}
	return o
}

// StructureOption configures a [Structure] at build time.
type StructureOption struct{ apply func(*Structure) }

// WithByteOrder sets the structure's default byte order, used by
// IntegerField/StructField variants that do not set their own.
func WithByteOrder(bo ByteOrder) StructureOption {
	return StructureOption{func(s *Structure) { s.ByteOrder = bo }}
}

// WithEncoding records a text encoding name in the structure's Encoding
// metadata, e.g. "utf-8", "utf-16le", or "iso-8859-1". StringField does
// not consult it: each StringField uses the encoding it was built with.
func WithEncoding(name string) StructureOption {
	return StructureOption{func(s *Structure) { s.Encoding = name }}
}

// WithAlignment sets the structure's field alignment, in bytes. A field
// whose position is not a multiple of alignment is advanced to the next
// multiple before it is parsed/emitted, unless it has an explicit Offset
// or Skip.
func WithAlignment(n int) StructureOption {
	return StructureOption{func(s *Structure) { s.Alignment = n }}
}

// WithLength fixes the structure's total length; Parse wraps the
// remaining fields in a bounded substream of exactly this many bytes.
func WithLength(s Spec) StructureOption {
	return StructureOption{func(st *Structure) { st.Length = s }}
}

// WithCaptureRaw enables capturing the raw bytes consumed by every field
// during Parse into its FieldContext.Raw. Emit does not capture.
func WithCaptureRaw(capture bool) StructureOption {
	return StructureOption{func(s *Structure) { s.CaptureRaw = capture }}
}

// WithCheck adds a post-parse invariant check. A check runs after every
// field has been parsed and fails the parse with ErrCheckError (wrapping
// the returned error) if it returns a non-nil error.
func WithCheck(check func(*Context) error) StructureOption {
	return StructureOption{func(s *Structure) { s.Checks = append(s.Checks, check) }}
}
