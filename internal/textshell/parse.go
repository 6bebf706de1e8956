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

package textshell

import (
	"fmt"
	"strings"

	"github.com/posh-shell/posh/internal/ast"
	"github.com/posh-shell/posh/internal/shellapi"
)

// Parser turns one input line at a time into a Sequence of simple
// commands, pipelines, and and-or lists joined by `;`/`&`. It does not
// recognize compound commands (for/while/if/case/{ }/( )/function
// definitions) or line continuation across ParseNext calls; those
// require a real POSIX grammar, which is out of scope here. Compound
// commands are exercised directly against the ast tree by this
// module's tests and by any script that only needs simple-command
// pipelines, which covers the evaluator's own test scenarios.
type Parser struct {
	Aliases shellapi.AliasLookup
}

func NewParser(aliases shellapi.AliasLookup) *Parser {
	return &Parser{Aliases: aliases}
}

func (p *Parser) ParseNext(input shellapi.ScriptInput) shellapi.ParseResult {
	line, eof, err := input.ReadLine()
	if err != nil {
		return shellapi.ParseResult{Outcome: shellapi.SyntaxErr, Err: err}
	}
	line = p.expandAliasesOnce(line)
	if strings.TrimSpace(line) == "" {
		if eof {
			return shellapi.ParseResult{Outcome: shellapi.EndOfInput}
		}
		return shellapi.ParseResult{Outcome: shellapi.Parsed, Command: &ast.Sequence{}}
	}

	toks, err := tokenize(line)
	if err != nil {
		return shellapi.ParseResult{Outcome: shellapi.SyntaxErr, Err: err}
	}
	seq, err := parseSequence(toks)
	if err != nil {
		return shellapi.ParseResult{Outcome: shellapi.SyntaxErr, Err: err}
	}
	return shellapi.ParseResult{Outcome: shellapi.Parsed, Command: seq}
}

// expandAliasesOnce replaces a leading bare word with its alias
// replacement, one level, matching the "only the first word
// of a simple command, and only once" rule for a non-blank-ending
// alias.
func (p *Parser) expandAliasesOnce(line string) string {
	if p.Aliases == nil {
		return line
	}
	trimmed := strings.TrimLeft(line, " \t")
	prefix := line[:len(line)-len(trimmed)]
	end := strings.IndexAny(trimmed, " \t")
	word := trimmed
	rest := ""
	if end >= 0 {
		word, rest = trimmed[:end], trimmed[end:]
	}
	if repl, _, ok := p.Aliases.Lookup(word); ok {
		return prefix + repl + rest
	}
	return line
}

type token struct {
	text string
	op   bool
}

func tokenize(line string) ([]token, error) {
	var toks []token
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, token{text: cur.String()})
			cur.Reset()
		}
	}

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '#' && cur.Len() == 0 && (len(toks) == 0 || toks[len(toks)-1].op):
			i = len(runes)

		case c == '\'':
			cur.WriteRune(c)
			j := i + 1
			for j < len(runes) && runes[j] != '\'' {
				cur.WriteRune(runes[j])
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated single quote")
			}
			cur.WriteRune('\'')
			i = j

		case c == '"':
			cur.WriteRune(c)
			j := i + 1
			for j < len(runes) && runes[j] != '"' {
				if runes[j] == '\\' && j+1 < len(runes) {
					cur.WriteRune(runes[j])
					j++
				}
				cur.WriteRune(runes[j])
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated double quote")
			}
			cur.WriteRune('"')
			i = j

		case c == ' ' || c == '\t':
			flush()

		case c == '|' || c == '&' || c == ';' || c == '<' || c == '>':
			flush()
			op := string(c)
			if i+1 < len(runes) && ((c == '|' && runes[i+1] == '|') ||
				(c == '&' && runes[i+1] == '&') ||
				(c == '>' && runes[i+1] == '>')) {
				op += string(runes[i+1])
				i++
			}
			toks = append(toks, token{text: op, op: true})

		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return toks, nil
}

// parseSequence splits tokens on top-level `;`/`&` into SequenceItems.
func parseSequence(toks []token) (*ast.Sequence, error) {
	seq := &ast.Sequence{}
	start := 0
	for i := 0; i <= len(toks); i++ {
		atEnd := i == len(toks)
		if !atEnd && !(toks[i].op && (toks[i].text == ";" || toks[i].text == "&")) {
			continue
		}
		seg := toks[start:i]
		sep := ast.SeparatorNone
		if !atEnd {
			if toks[i].text == ";" {
				sep = ast.SeparatorSequential
			} else {
				sep = ast.SeparatorAsync
			}
		}
		if len(seg) > 0 {
			cmd, err := parseAndOr(seg, sep == ast.SeparatorAsync)
			if err != nil {
				return nil, err
			}
			seq.Items = append(seq.Items, ast.SequenceItem{Command: cmd, Separator: sep})
		}
		start = i + 1
	}
	return seq, nil
}

// parseAndOr splits a segment on top-level `&&`/`||` into an AndOr (or
// a bare Pipeline if there is exactly one element).
func parseAndOr(toks []token, async bool) (ast.Command, error) {
	var elements []ast.AndOrElement
	start := 0
	for i := 0; i <= len(toks); i++ {
		atEnd := i == len(toks)
		if !atEnd && !(toks[i].op && (toks[i].text == "&&" || toks[i].text == "||")) {
			continue
		}
		seg := toks[start:i]
		pipe, err := parsePipeline(seg, atEnd && async)
		if err != nil {
			return nil, err
		}
		op := ast.OpAnd
		if !atEnd && toks[i].text == "||" {
			op = ast.OpOr
		}
		elements = append(elements, ast.AndOrElement{Command: pipe, Op: op})
		start = i + 1
	}
	if len(elements) == 1 {
		return elements[0].Command, nil
	}
	return &ast.AndOr{Elements: elements}, nil
}

// parsePipeline splits a segment on top-level `|` into a Pipeline.
func parsePipeline(toks []token, async bool) (ast.Command, error) {
	if len(toks) > 0 && !toks[0].op && toks[0].text == "!" {
		inner, err := parsePipeline(toks[1:], async)
		if err != nil {
			return nil, err
		}
		if p, ok := inner.(*ast.Pipeline); ok {
			p.Negate = !p.Negate
			return p, nil
		}
		return &ast.Pipeline{Commands: []ast.Command{inner}, Negate: true, Async: async}, nil
	}

	var commands []ast.Command
	start := 0
	for i := 0; i <= len(toks); i++ {
		atEnd := i == len(toks)
		if !atEnd && !(toks[i].op && toks[i].text == "|") {
			continue
		}
		sc, err := parseSimpleCommand(toks[start:i])
		if err != nil {
			return nil, err
		}
		commands = append(commands, sc)
		start = i + 1
	}
	if len(commands) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	if len(commands) == 1 && !async {
		return commands[0], nil
	}
	return &ast.Pipeline{Commands: commands, Async: async}, nil
}

func parseSimpleCommand(toks []token) (*ast.SimpleCommand, error) {
	sc := &ast.SimpleCommand{}
	i := 0
	for ; i < len(toks); i++ {
		t := toks[i]
		if t.op {
			break
		}
		if name, val, ok := splitAssignment(t.text); ok && len(sc.Words) == 0 {
			sc.Assignments = append(sc.Assignments, ast.Assignment{Name: name, Value: ast.Word{Raw: val}})
			continue
		}
		break
	}
	for ; i < len(toks); i++ {
		t := toks[i]
		if t.op && (t.text == "<" || t.text == ">" || t.text == ">>") {
			if i+1 >= len(toks) {
				return nil, fmt.Errorf("redirection missing target")
			}
			target := toks[i+1].text
			redir := ast.Redirection{FD: -1, Target: ast.Word{Raw: target}}
			switch t.text {
			case "<":
				redir.Op = ast.RedirInput
			case ">":
				redir.Op = ast.RedirOutput
			case ">>":
				redir.Op = ast.RedirOutputAppend
			}
			sc.Redirections = append(sc.Redirections, redir)
			i++
			continue
		}
		sc.Words = append(sc.Words, ast.Word{Raw: t.text})
	}
	return sc, nil
}

func splitAssignment(word string) (name, value string, ok bool) {
	eq := strings.IndexByte(word, '=')
	if eq <= 0 {
		return "", "", false
	}
	name = word[:eq]
	if !isNameByte(name[0], true) {
		return "", "", false
	}
	for i := 1; i < len(name); i++ {
		if !isNameByte(name[i], false) {
			return "", "", false
		}
	}
	return name, word[eq+1:], true
}
