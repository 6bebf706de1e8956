// Copyright 2025 The posh Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package funcs is the shell function table: name -> body, with an
// optional readonly flag.
package funcs

import (
	"fmt"

	"github.com/posh-shell/posh/internal/ast"
)

// Function is one function-table entry.
type Function struct {
	Name     string
	Body     ast.Command
	ReadOnly bool
}

// Table is a flat, name-keyed function table (functions have no scoping
// concept distinct from the global shell).
type Table struct {
	fns map[string]*Function
}

func New() *Table { return &Table{fns: map[string]*Function{}} }

// Define installs or replaces a function. It fails if an existing
// function by that name is readonly.
func (t *Table) Define(name string, body ast.Command) error {
	if existing, ok := t.fns[name]; ok && existing.ReadOnly {
		return fmt.Errorf("%s: readonly function", name)
	}
	t.fns[name] = &Function{Name: name, Body: body}
	return nil
}

// SetReadOnly marks an existing function readonly; it is a no-op if the
// function does not exist.
func (t *Table) SetReadOnly(name string) {
	if f, ok := t.fns[name]; ok {
		f.ReadOnly = true
	}
}

// Lookup returns the function named name, if any.
func (t *Table) Lookup(name string) (*Function, bool) {
	f, ok := t.fns[name]
	return f, ok
}

// Unset removes a function. Readonly functions cannot be unset.
func (t *Table) Unset(name string) error {
	if f, ok := t.fns[name]; ok {
		if f.ReadOnly {
			return fmt.Errorf("%s: readonly function", name)
		}
		delete(t.fns, name)
	}
	return nil
}

// Names returns all defined function names, used by `declare -f`-style
// introspection.
func (t *Table) Names() []string {
	out := make([]string, 0, len(t.fns))
	for n := range t.fns {
		out = append(out, n)
	}
	return out
}

// Clone deep-copies the table for subshell inheritance.
func (t *Table) Clone() *Table {
	clone := New()
	for n, f := range t.fns {
		cp := *f
		clone.fns[n] = &cp
	}
	return clone
}
