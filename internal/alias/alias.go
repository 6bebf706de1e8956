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

// Package alias is the shell alias table: consulted by the
// parser only, never by the evaluator.
package alias

// Alias is one alias-table entry.
type Alias struct {
	Name          string
	Replacement   string
	EndsWithBlank bool
}

// Table is a flat name-keyed alias table.
type Table struct {
	aliases map[string]Alias
}

func New() *Table { return &Table{aliases: map[string]Alias{}} }

// Set installs or replaces an alias.
func (t *Table) Set(name, replacement string, endsWithBlank bool) {
	t.aliases[name] = Alias{Name: name, Replacement: replacement, EndsWithBlank: endsWithBlank}
}

// Lookup implements shellapi.AliasLookup.
func (t *Table) Lookup(name string) (string, bool, bool) {
	a, ok := t.aliases[name]
	if !ok {
		return "", false, false
	}
	return a.Replacement, a.EndsWithBlank, true
}

// Unset removes an alias.
func (t *Table) Unset(name string) { delete(t.aliases, name) }

// Names returns all alias names, used by `alias` with no arguments.
func (t *Table) Names() []string {
	out := make([]string, 0, len(t.aliases))
	for n := range t.aliases {
		out = append(out, n)
	}
	return out
}

// Clone deep-copies the table for subshell inheritance.
func (t *Table) Clone() *Table {
	clone := New()
	for n, a := range t.aliases {
		clone.aliases[n] = a
	}
	return clone
}
