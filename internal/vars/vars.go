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

// Package vars implements the variable store: nested, function-local
// scopes with shadowing and readonly/export flags.
package vars

import (
	"fmt"
	"strings"
)

// Value is implemented by Scalar and Array.
type Value interface {
	isValue()
	String() string
}

// Scalar is a plain string-valued variable.
type Scalar string

func (Scalar) isValue()        {}
func (s Scalar) String() string { return string(s) }

// Array is an ordered sequence of strings.
type Array []string

func (Array) isValue() {}
func (a Array) String() string {
	// Scalar context on an array yields its first element, matching the
	// common shell convention; callers needing all elements use the
	// concrete type directly.
	if len(a) == 0 {
		return ""
	}
	return a[0]
}

// ScopeID identifies a single pushed scope frame.
type ScopeID int

// Variable is one symbol-table entry.
type Variable struct {
	Name     string
	Value    Value
	Exported bool
	ReadOnly bool
	Scope    ScopeID
}

const GlobalScope ScopeID = 0

// Store is the nested-scope symbol table. Scope 0 is global; each
// PushScope adds a new innermost frame for function invocation.
type Store struct {
	frames []map[string]*Variable
}

// New creates a Store with only the global scope.
func New() *Store {
	return &Store{frames: []map[string]*Variable{{}}}
}

// PushScope adds a new local frame (function invocation) and returns its
// ScopeID.
func (s *Store) PushScope() ScopeID {
	s.frames = append(s.frames, map[string]*Variable{})
	return ScopeID(len(s.frames) - 1)
}

// PopScope removes the innermost frame. It is a programming error to
// call this at the global scope; callers (internal/eval) only call it
// after a matching PushScope for a function invocation.
func (s *Store) PopScope() {
	if len(s.frames) <= 1 {
		panic("vars: PopScope called with no local scope pushed")
	}
	s.frames = s.frames[:len(s.frames)-1]
}

// Lookup walks inner to outer.
func (s *Store) Lookup(name string) (*Variable, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i][name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set assigns name in the innermost scope where it is already defined,
// or in the current innermost scope if it is new. Readonly variables
// cannot be reassigned.
func (s *Store) Set(name string, value Value, exported bool) error {
	if v, ok := s.Lookup(name); ok {
		if v.ReadOnly {
			return fmt.Errorf("%s: readonly variable", name)
		}
		v.Value = value
		if exported {
			v.Exported = true
		}
		return nil
	}
	cur := s.frames[len(s.frames)-1]
	scope := ScopeID(len(s.frames) - 1)
	cur[name] = &Variable{Name: name, Value: value, Exported: exported, Scope: scope}
	return nil
}

// SetGlobal assigns directly into the global frame, used by special
// builtins whose assignments persist regardless of the current scope.
func (s *Store) SetGlobal(name string, value Value, exported bool) error {
	if v, ok := s.frames[0][name]; ok {
		if v.ReadOnly {
			return fmt.Errorf("%s: readonly variable", name)
		}
		v.Value = value
		if exported {
			v.Exported = true
		}
		return nil
	}
	s.frames[0][name] = &Variable{Name: name, Value: value, Exported: exported, Scope: GlobalScope}
	return nil
}

// SetReadOnly marks name readonly in whichever scope it is visible, or
// creates it readonly in the current scope if unset.
func (s *Store) SetReadOnly(name string, value Value) error {
	if v, ok := s.Lookup(name); ok {
		v.Value = value
		v.ReadOnly = true
		return nil
	}
	cur := s.frames[len(s.frames)-1]
	scope := ScopeID(len(s.frames) - 1)
	cur[name] = &Variable{Name: name, Value: value, ReadOnly: true, Scope: scope}
	return nil
}

// Unset removes name from whichever scope it is visible in. Readonly
// variables may not be unset.
func (s *Store) Unset(name string) error {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i][name]; ok {
			if v.ReadOnly {
				return fmt.Errorf("%s: readonly variable", name)
			}
			delete(s.frames[i], name)
			return nil
		}
	}
	return nil
}

// Export marks an existing variable exported, or creates an empty
// exported scalar if unset (POSIX `export name` semantics).
func (s *Store) Export(name string) {
	if v, ok := s.Lookup(name); ok {
		v.Exported = true
		return
	}
	cur := s.frames[len(s.frames)-1]
	scope := ScopeID(len(s.frames) - 1)
	cur[name] = &Variable{Name: name, Value: Scalar(""), Exported: true, Scope: scope}
}

// Environ returns the exported variables formatted as "name=value"
// pairs suitable for execve's envp, excluding any whose name contains
// '=' (a name can't contain '=' in POSIX, but a defensively
// malformed store entry must not poison the child's environment).
func (s *Store) Environ() []string {
	seen := map[string]bool{}
	var out []string
	for i := len(s.frames) - 1; i >= 0; i-- {
		for name, v := range s.frames[i] {
			if seen[name] || !v.Exported || strings.Contains(name, "=") {
				continue
			}
			seen[name] = true
			out = append(out, name+"="+v.Value.String())
		}
	}
	return out
}

// CurrentScope returns the innermost active ScopeID.
func (s *Store) CurrentScope() ScopeID { return ScopeID(len(s.frames) - 1) }

// Clone deep-copies the entire scope stack, used when a subshell clones
// its parent's Env (subshells inherit variables by value).
func (s *Store) Clone() *Store {
	clone := &Store{frames: make([]map[string]*Variable, len(s.frames))}
	for i, frame := range s.frames {
		nf := make(map[string]*Variable, len(frame))
		for k, v := range frame {
			cp := *v
			nf[k] = &cp
		}
		clone.frames[i] = nf
	}
	return clone
}
