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

	"github.com/sirupsen/logrus"

	"github.com/ralphje/destructify/internal/lazy"
	"github.com/ralphje/destructify/internal/stream"
)

// Context is the per-operation state described by the design document as
// ParsingContext: an ordered record of every field parsed or emitted so
// far in this structure, plus the links needed to resolve `f._` (parent)
// and `f._root` (root) navigation in a [Spec] thunk.
type Context struct {
	structureName string
	order         []string
	fields        map[string]*FieldContext

	parent      *Context
	parentField Field
	flat        bool

	stream stream.Stream
	bits   *stream.BitCursor

	captureRaw bool
	byteOrder  ByteOrder
	done       bool

	opts  *engineOptions
	depth int
}

// engineOptions carries the resolved [ParseOption]/[EmitOption] settings
// down through a Context tree, along with anything every nested context
// needs to share (the logger, the recursion guard).
type engineOptions struct {
	logger               *logrus.Logger
	maxDepth             int
	negativeOffsetPolicy NegativeOffsetPolicy
}

func defaultEngineOptions() *engineOptions {
	return &engineOptions{
		logger:               disabledLogger(),
		maxDepth:             64,
		negativeOffsetPolicy: RejectNegativeOffsets,
	}
}

func disabledLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel + 1) // silent by default; callers opt in via WithLogger.
	return l
}

// logDebug reports a trace at Debug level through the Context's configured
// logger, tagging every entry with the structure name. A no-op when the
// caller never supplied a logger via WithLogger/WithLoggerEmit.
func (c *Context) logDebug(fields logrus.Fields, msg string) {
	if c.opts == nil || c.opts.logger == nil {
		return
	}
	fields["structure"] = c.structureName
	c.opts.logger.WithFields(fields).Debug(msg)
}

// newContext creates a fresh Context for parsing or emitting one
// Structure, optionally nested under parent (for sub-structures created by
// StructureField).
func newContext(name string, s stream.Stream, parent *Context, parentField Field, flat bool, captureRaw bool, byteOrder ByteOrder, opts *engineOptions) (*Context, error) {
	if opts == nil {
		opts = defaultEngineOptions()
	}
	depth := 0
	if parent != nil {
		depth = parent.depth + 1
	}
	if depth > opts.maxDepth {
		return nil, fmt.Errorf("%w: recursion depth %d exceeds limit %d", ErrParseError, depth, opts.maxDepth)
	}
	return &Context{
		structureName: name,
		fields:        make(map[string]*FieldContext),
		parent:        parent,
		parentField:   parentField,
		flat:          flat,
		stream:        s,
		captureRaw:    captureRaw,
		byteOrder:     byteOrder,
		opts:          opts,
		depth:         depth,
	}, nil
}

// Stream returns the byte stream this context reads from or writes to.
func (c *Context) Stream() stream.Stream { return c.stream }

// Bits returns the shared bit cursor for consecutive BitFields in this
// context, creating it on first use.
func (c *Context) Bits() *stream.BitCursor {
	if c.bits == nil {
		c.bits = stream.NewBitCursor(c.stream)
	}
	return c.bits
}

// Parent returns the enclosing Context, or nil at the root.
func (c *Context) Parent() *Context { return c.parent }

// Root returns the topmost ancestor Context.
func (c *Context) Root() *Context {
	root := c
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// Done reports whether the engine has finished processing this context's
// structure. Once true, lazy fields can no longer be upgraded to resolved.
func (c *Context) Done() bool { return c.done }

// Facade returns the [Facade] bound to this context.
func (c *Context) Facade() Facade { return NewFacade(c) }

// ByteOrder returns the owning structure's default byte order, used by
// field variants (e.g. IntegerField) that did not set their own.
func (c *Context) ByteOrder() ByteOrder { return c.byteOrder }

// Logger returns the logger configured for this parse/emit operation.
func (c *Context) Logger() *logrus.Logger { return c.opts.logger }

// Names returns the field names bound in this context, in declaration
// order.
func (c *Context) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// FieldContext returns the per-field record for name in this context, if
// any.
func (c *Context) FieldContext(name string) (*FieldContext, bool) {
	fc, ok := c.fields[name]
	return fc, ok
}

// declare registers an empty FieldContext for name, in declaration order,
// with the given Field descriptor. It is idempotent: re-declaring the same
// name is a no-op.
func (c *Context) declare(name string, f Field) *FieldContext {
	if fc, ok := c.fields[name]; ok {
		return fc
	}
	fc := &FieldContext{Field: f, FieldName: name, Length: -1}
	c.fields[name] = fc
	c.order = append(c.order, name)
	return fc
}

// get resolves ctx[name] per the design document's lookup rule: locally
// bound fields win; if unbound locally and this context is flat, the
// lookup falls through to the parent; otherwise it fails with
// ErrFieldNotFound.
func (c *Context) get(name string) (any, error) {
	if fc, ok := c.fields[name]; ok && fc.hasValue {
		return c.force(fc)
	}
	if c.flat && c.parent != nil {
		return c.parent.get(name)
	}
	return nil, fmt.Errorf("%w: %q", ErrFieldNotFound, name)
}

// force resolves fc's value, forcing its lazy cell if needed. Forcing
// after the context is done is allowed (the design document requires it
// to be defined, just non-mutating of FieldContext flags beyond caching
// the value), so this only flips fc.lazy off when !c.done.
func (c *Context) force(fc *FieldContext) (any, error) {
	if fc.cell == nil {
		return nil, nil
	}
	v, err := fc.cell.Force()
	if err != nil {
		return nil, err
	}
	if fc.lazy && !c.done {
		fc.lazy = false
	}
	return v, nil
}

// setResolved records a fully-parsed, non-lazy value for name.
func (c *Context) setResolved(name string, value any) *FieldContext {
	fc := c.fields[name]
	fc.cell = lazy.Resolved(value)
	fc.hasValue = true
	fc.parsed = true
	fc.lazy = false
	return fc
}

// setLazy records a deferred value for name, backed by parse, which is
// invoked at most once on first access.
func (c *Context) setLazy(name string, parse lazy.Parser) *FieldContext {
	fc := c.fields[name]
	fc.cell = lazy.New(parse)
	fc.hasValue = true
	fc.parsed = true
	fc.lazy = true
	return fc
}

// assign explicitly sets a value for name, as if by user assignment
// outside of a parse (used when constructing a Value by hand before
// Emit).
func (c *Context) assign(name string, value any) {
	fc := c.declareIfAbsent(name)
	fc.cell = lazy.Resolved(value)
	fc.hasValue = true
}

func (c *Context) declareIfAbsent(name string) *FieldContext {
	if fc, ok := c.fields[name]; ok {
		return fc
	}
	fc := &FieldContext{FieldName: name, Length: -1}
	c.fields[name] = fc
	c.order = append(c.order, name)
	return fc
}

// markDone marks this context as finished; lazy fields can no longer be
// upgraded after this.
func (c *Context) markDone() { c.done = true }

// captureRawBytes records fc.Raw by re-reading the n bytes starting at
// start from c.stream, restoring the cursor to its current position
// afterward, when raw capture is enabled for this context. It is a no-op
// otherwise (the common case), so the extra seek/read pair is never paid
// for structures that don't ask for it.
func (c *Context) captureRawBytes(fc *FieldContext, start, n int64) {
	if !c.captureRaw || n <= 0 {
		return
	}
	cur, err := c.stream.Tell()
	if err != nil {
		return
	}
	if _, err := c.stream.Seek(start, stream.SeekSet); err != nil {
		return
	}
	raw, err := c.stream.Read(int(n))
	if err == nil {
		fc.Raw = raw
	}
	if _, err := c.stream.Seek(cur, stream.SeekSet); err != nil {
		return
	}
}

// FieldContext is the per-field parse record the design document calls
// FieldContext: the result of parsing (or, before emit, assigning) one
// named field within a [Context].
type FieldContext struct {
	// Field is the descriptor this record was produced from.
	Field Field

	// FieldName is the name this field was declared under in its
	// Structure. ArrayField elements are not recorded individually; only
	// the array field as a whole has a FieldContext.
	FieldName string

	cell     *lazy.Cell
	hasValue bool
	parsed   bool
	lazy     bool

	// Offset is this field's start position, relative to the owning
	// context's stream origin.
	Offset int64
	// AbsoluteOffset is the same position as Offset, measured in the
	// owning context's stream. It is not translated into the root
	// stream's coordinates, so inside a length-bounded nested structure
	// it counts from the start of that structure's substream.
	AbsoluteOffset int64
	// Length is the number of bytes (or, for BitField, bits) this field
	// occupied, or -1 if not yet known.
	Length int64
	// Raw holds the captured raw bytes for this field, when raw capture
	// is enabled.
	Raw []byte
	// Subcontext is the nested Context of a StructureField value parsed
	// eagerly; it is nil for other fields and for lazily parsed ones.
	Subcontext *Context
}

// HasValue reports whether a value (possibly still lazy) is available.
func (fc *FieldContext) HasValue() bool { return fc.hasValue }

// Parsed reports whether this field has been read/written, or had its
// laziness committed.
func (fc *FieldContext) Parsed() bool { return fc.parsed }

// Lazy reports whether this field's value was deferred and not forced
// before the Context was done. Forcing it after Parse has returned caches
// the value but leaves Lazy true.
func (fc *FieldContext) Lazy() bool { return fc.lazy }

// Resolved reports whether this field is parsed and not lazy.
func (fc *FieldContext) Resolved() bool { return fc.parsed && !fc.lazy }
