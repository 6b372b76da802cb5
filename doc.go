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

// Package destructify is a declarative library for describing, parsing, and
// emitting binary data structures.
//
// A [Structure] is an ordered list of named [Field]s built once, up front,
// and shared across any number of parses. Calling [Structure.Parse] walks
// the fields in declaration order against a [Stream], producing a
// [*Value] populated field by field; [Structure.Emit] walks the same
// fields in the same order to serialize a value back to bytes.
//
// Fields may depend on each other: a length field can drive how many bytes a
// sibling reads, an offset can be computed from an ancestor, and a field can
// be read lazily, deferring the actual parse until its value is first
// touched. See [Spec] for how those cross-field dependencies are expressed,
// and [Context] for how a field looks up its siblings, its parent, and the
// root of the structure tree it is nested in.
//
// # Support status
//
// This package implements the field taxonomy described by its design
// document: byte strings, fixed-width and variable-length integers, bit
// fields, classic packed-struct fields, constants, nested structures,
// arrays, conditionals, switches, and enums. It does not implement
// schema evolution/versioning, multi-threaded parsing of a single stream,
// network transport, or code generation from external IDLs; those are
// explicitly out of scope.
package destructify
