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

// Package shellapi defines the interfaces the core consumes from its
// external collaborators: the parser, the word-expansion
// engine, the alias table, the prompt, builtin utilities, and script
// input. None of these are implemented here; cmd/posh wires minimal
// concrete stand-ins sufficient to drive the evaluator end-to-end.
package shellapi

import (
	"github.com/posh-shell/posh/internal/ast"
	"github.com/posh-shell/posh/internal/divert"
)

// ParseOutcome discriminates what one call to Parser.ParseNext produced.
type ParseOutcome int

const (
	Parsed ParseOutcome = iota
	Incomplete
	SyntaxErr
	EndOfInput
)

// ParseResult is returned by Parser.ParseNext.
type ParseResult struct {
	Outcome ParseOutcome
	Command ast.Command
	Err     error // valid when Outcome == SyntaxErr
}

// Parser turns input text into one top-level command at a time. It
// consults the alias table and a reserved-word predicate on its own;
// the evaluator never sees unexpanded aliases.
type Parser interface {
	ParseNext(input ScriptInput) ParseResult
}

// ExpandMode selects how a Word is expanded.
type ExpandMode int

const (
	ModeScalar ExpandMode = iota
	ModeSplit
	ModeGlob
	ModeAssignment
	ModeRedirectionTarget
	ModeHeredoc
)

// Expander is the word-expansion engine boundary.
type Expander interface {
	Expand(env ExpansionEnv, word ast.Word, mode ExpandMode) ([]string, error)
	// Match reports whether candidate matches the (already expanded)
	// glob-style pattern, used by `case` in match mode.
	Match(pattern, candidate string) (bool, error)
}

// ExpansionEnv is the minimal read access the expander needs into
// shell state; defined here (rather than importing internal/vars
// directly) so shellapi has no dependency on the concrete environment,
// keeping the interface boundary genuine.
type ExpansionEnv interface {
	Getvar(name string) (value string, isArray bool, values []string, ok bool)
	Getparam(n int) (string, bool)
	NumParams() int
	LastStatus() int
	LastBackgroundPID() int
}

// AliasLookup is consulted by the parser only; the evaluator
// never imports it.
type AliasLookup interface {
	Lookup(name string) (replacement string, endsWithBlank bool, ok bool)
}

// PromptKind selects which prompt string is requested.
type PromptKind int

const (
	PS1 PromptKind = iota
	PS2
	PS4
)

// Prompt renders the next prompt string for interactive input.
type Prompt interface {
	NextPrompt(env ExpansionEnv, kind PromptKind) string
}

// BuiltinKind classifies a builtin utility.
type BuiltinKind int

const (
	BuiltinRegular BuiltinKind = iota
	BuiltinSpecial
	BuiltinSubstitutive
	BuiltinDeclaration
)

// BuiltinResult is what a builtin utility returns: an exit status and an
// optional divert (e.g. `exit` inside a builtin sets Divert).
type BuiltinResult struct {
	Status int
	Divert divert.Divert
}

// BuiltinUtility is one registered builtin implementation.
type BuiltinUtility interface {
	Kind() BuiltinKind
	Run(env ExpansionEnv, argv []string) BuiltinResult
}

// BuiltinRegistry looks up external builtins (echo, test, printf, ...)
// by name; the evaluator consults it only after its own fixed set of
// job-control/trap/scope builtins (internal/builtin).
type BuiltinRegistry interface {
	Lookup(name string) (BuiltinUtility, bool)
}

// ScriptInput supplies one line of source text at a time.
type ScriptInput interface {
	ReadLine() (line string, eof bool, err error)
}
