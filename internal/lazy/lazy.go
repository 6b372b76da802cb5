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

// Package lazy implements the deferred-value cell used by fields whose
// parse is postponed until first use.
//
// The source library this package's design is modeled on returns a
// transparent proxy object that intercepts attribute access. Go has no
// such interception, so this is instead a first-class lazy cell: the value
// is a sum of Resolved(v) or Lazy(stream, offset, parser), and callers
// force it explicitly via Force.
package lazy

import "sync"

// Parser is the deferred computation a Cell runs on first Force. It is
// called at most once.
type Parser func() (any, error)

// Cell is a deferred value: either already resolved, or lazy and backed by
// a parser that will be invoked on first Force.
//
// A Cell is safe to Force concurrently; the parser runs at most once.
type Cell struct {
	mu       sync.Mutex
	resolved bool
	value    any
	err      error
	parse    Parser
}

// Resolved creates a Cell that is already resolved to v.
func Resolved(v any) *Cell {
	return &Cell{resolved: true, value: v}
}

// New creates a Cell that will call parse on first Force.
func New(parse Parser) *Cell {
	return &Cell{parse: parse}
}

// IsLazy reports whether the cell has not yet been forced.
func (c *Cell) IsLazy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.resolved
}

// Force resolves the cell, running its parser at most once, and returns
// the resolved value (or the error the parser produced, cached for
// subsequent calls).
func (c *Cell) Force() (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resolved {
		c.value, c.err = c.parse()
		c.resolved = true
		c.parse = nil
	}
	return c.value, c.err
}

// Peek returns the cached value without forcing; ok is false if the cell
// has not yet been forced.
func (c *Cell) Peek() (v any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.resolved
}
