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

// Package textshell is cmd/posh's minimal concrete implementation of
// the parser, word-expansion engine, builtin registry, and prompt
// renderer interfaces in internal/shellapi. It is deliberately small:
// enough surface to drive internal/eval and internal/readeval
// end-to-end against real input, not a complete POSIX word-expansion
// or grammar engine.
package textshell

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"github.com/posh-shell/posh/internal/ast"
	"github.com/posh-shell/posh/internal/shellapi"
)

// Expander is a minimal word-expansion engine: parameter expansion
// ($NAME, ${NAME}, $1.., $#, $?, $!) followed by, depending on mode,
// field splitting on whitespace or pathname expansion. It does not
// implement command substitution, arithmetic expansion, or tilde
// expansion; those are grammar features a full parser would recognize
// before handing a Word here, which is out of scope.
type Expander struct{}

func NewExpander() *Expander { return &Expander{} }

func (e *Expander) Expand(env shellapi.ExpansionEnv, word ast.Word, mode shellapi.ExpandMode) ([]string, error) {
	quoted := isFullyQuoted(word.Raw)
	value := substituteParameters(env, stripQuotes(word.Raw))

	switch mode {
	case shellapi.ModeGlob:
		if quoted || !hasGlobMeta(value) {
			return []string{value}, nil
		}
		matches, err := filepath.Glob(value)
		if err != nil || len(matches) == 0 {
			return []string{value}, nil
		}
		return matches, nil

	case shellapi.ModeSplit:
		if quoted {
			return []string{value}, nil
		}
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return nil, nil
		}
		return fields, nil

	default: // ModeScalar, ModeAssignment, ModeRedirectionTarget, ModeHeredoc
		return []string{value}, nil
	}
}

// Match implements `case` pattern matching via gobwas/glob: compile
// once per pattern, then match against the candidate.
func (e *Expander) Match(pattern, candidate string) (bool, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return false, err
	}
	return g.Match(candidate), nil
}

func isFullyQuoted(raw string) bool {
	if len(raw) < 2 {
		return false
	}
	return (raw[0] == '\'' && raw[len(raw)-1] == '\'') ||
		(raw[0] == '"' && raw[len(raw)-1] == '"')
}

func stripQuotes(raw string) string {
	if len(raw) >= 2 && ((raw[0] == '\'' && raw[len(raw)-1] == '\'') ||
		(raw[0] == '"' && raw[len(raw)-1] == '"')) {
		return raw[1 : len(raw)-1]
	}
	return raw
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// substituteParameters performs the minimal parameter-expansion subset:
// $NAME, ${NAME}, positional parameters, $#, $?, and $!. It does not
// recognize ${NAME:-word} or other modifiers.
func substituteParameters(env shellapi.ExpansionEnv, s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i == len(s)-1 {
			out.WriteByte(c)
			continue
		}
		rest := s[i+1:]
		name, width, special := scanParamName(rest)
		if width == 0 {
			out.WriteByte(c)
			continue
		}
		out.WriteString(resolveParam(env, name, special))
		i += width
	}
	return out.String()
}

func scanParamName(rest string) (name string, width int, special bool) {
	if rest[0] == '{' {
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return "", 0, false
		}
		return rest[1:end], end + 1, false
	}
	switch rest[0] {
	case '?', '!', '#', '@', '*':
		return string(rest[0]), 1, true
	}
	if rest[0] >= '0' && rest[0] <= '9' {
		return string(rest[0]), 1, true
	}
	j := 0
	for j < len(rest) && isNameByte(rest[j], j == 0) {
		j++
	}
	if j == 0 {
		return "", 0, false
	}
	return rest[:j], j, false
}

func isNameByte(b byte, first bool) bool {
	if b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') {
		return true
	}
	if !first && b >= '0' && b <= '9' {
		return true
	}
	return false
}

func resolveParam(env shellapi.ExpansionEnv, name string, special bool) string {
	if special {
		switch name {
		case "?":
			return strconv.Itoa(env.LastStatus())
		case "!":
			if pid := env.LastBackgroundPID(); pid != 0 {
				return strconv.Itoa(pid)
			}
			return ""
		case "#":
			return strconv.Itoa(env.NumParams())
		case "@", "*":
			var parts []string
			for n := 1; n <= env.NumParams(); n++ {
				if v, ok := env.Getparam(n); ok {
					parts = append(parts, v)
				}
			}
			return strings.Join(parts, " ")
		}
		if n, err := strconv.Atoi(name); err == nil {
			if v, ok := env.Getparam(n); ok {
				return v
			}
			return ""
		}
	}
	if value, isArray, values, ok := env.Getvar(name); ok {
		if isArray {
			return strings.Join(values, " ")
		}
		return value
	}
	return ""
}
