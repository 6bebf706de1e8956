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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/posh-shell/posh/internal/ast"
	"github.com/posh-shell/posh/internal/shellapi"
)

func parseOne(t *testing.T, line string) ast.Command {
	t.Helper()
	p := NewParser(nil)
	res := p.ParseNext(NewStringInput(line))
	require.Equal(t, shellapi.Parsed, res.Outcome, "err=%v", res.Err)
	seq, ok := res.Command.(*ast.Sequence)
	require.True(t, ok)
	require.Len(t, seq.Items, 1)
	return seq.Items[0].Command
}

func TestParseSimpleCommandWithQuotedWord(t *testing.T) {
	cmd := parseOne(t, `echo "hello world" 'lit $x'`)
	sc, ok := cmd.(*ast.SimpleCommand)
	require.True(t, ok)
	require.Len(t, sc.Words, 3)
	require.Equal(t, "echo", sc.Words[0].Raw)
	require.Equal(t, `"hello world"`, sc.Words[1].Raw)
	require.Equal(t, `'lit $x'`, sc.Words[2].Raw)
}

func TestParseLeadingAssignments(t *testing.T) {
	cmd := parseOne(t, "FOO=bar BAZ=qux echo hi")
	sc, ok := cmd.(*ast.SimpleCommand)
	require.True(t, ok)
	require.Len(t, sc.Assignments, 2)
	require.Equal(t, "FOO", sc.Assignments[0].Name)
	require.Equal(t, "bar", sc.Assignments[0].Value.Raw)
	require.Equal(t, []ast.Word{{Raw: "echo"}, {Raw: "hi"}}, sc.Words)
}

func TestParseRedirections(t *testing.T) {
	cmd := parseOne(t, "sort < in.txt >> out.txt")
	sc, ok := cmd.(*ast.SimpleCommand)
	require.True(t, ok)
	require.Len(t, sc.Redirections, 2)
	require.Equal(t, ast.RedirInput, sc.Redirections[0].Op)
	require.Equal(t, "in.txt", sc.Redirections[0].Target.Raw)
	require.Equal(t, ast.RedirOutputAppend, sc.Redirections[1].Op)
	require.Equal(t, "out.txt", sc.Redirections[1].Target.Raw)
}

func TestParsePipeline(t *testing.T) {
	cmd := parseOne(t, "cat file | grep foo | wc -l")
	p, ok := cmd.(*ast.Pipeline)
	require.True(t, ok)
	require.Len(t, p.Commands, 3)
	require.False(t, p.Negate)
}

func TestParseNegatedPipeline(t *testing.T) {
	cmd := parseOne(t, "! grep foo file")
	p, ok := cmd.(*ast.Pipeline)
	require.True(t, ok)
	require.True(t, p.Negate)
	require.Len(t, p.Commands, 1)
}

func TestParseAndOrList(t *testing.T) {
	cmd := parseOne(t, "make build && make test || echo failed")
	ao, ok := cmd.(*ast.AndOr)
	require.True(t, ok)
	require.Len(t, ao.Elements, 3)
	require.Equal(t, ast.OpAnd, ao.Elements[0].Op)
	require.Equal(t, ast.OpOr, ao.Elements[1].Op)
}

func TestParseSequenceSeparators(t *testing.T) {
	p := NewParser(nil)
	res := p.ParseNext(NewStringInput("echo a; sleep 1 & echo b"))
	require.Equal(t, shellapi.Parsed, res.Outcome)
	seq := res.Command.(*ast.Sequence)
	require.Len(t, seq.Items, 3)
	require.Equal(t, ast.SeparatorSequential, seq.Items[0].Separator)
	require.Equal(t, ast.SeparatorAsync, seq.Items[1].Separator)
	require.Equal(t, ast.SeparatorNone, seq.Items[2].Separator)
}

func TestParseUnterminatedQuoteIsSyntaxError(t *testing.T) {
	p := NewParser(nil)
	res := p.ParseNext(NewStringInput(`echo "unterminated`))
	require.Equal(t, shellapi.SyntaxErr, res.Outcome)
	require.Error(t, res.Err)
}

type singleAlias struct {
	name, repl string
}

func (a singleAlias) Lookup(name string) (string, bool, bool) {
	if name == a.name {
		return a.repl, false, true
	}
	return "", false, false
}

func TestParseExpandsLeadingAliasOnce(t *testing.T) {
	p := NewParser(singleAlias{name: "ll", repl: "ls -la"})
	res := p.ParseNext(NewStringInput("ll /tmp"))
	require.Equal(t, shellapi.Parsed, res.Outcome)
	sc := res.Command.(*ast.Sequence).Items[0].Command.(*ast.SimpleCommand)
	require.Equal(t, []ast.Word{{Raw: "ls"}, {Raw: "-la"}, {Raw: "/tmp"}}, sc.Words)
}

func TestParseLeadingCommentIsIgnored(t *testing.T) {
	// The tokenizer only recognizes '#' as a comment starter at the
	// very beginning of input or right after an operator token, not
	// after a bare word — matching the condition in tokenize.
	p := NewParser(nil)
	res := p.ParseNext(NewStringInput("# a whole-line comment"))
	require.Equal(t, shellapi.Parsed, res.Outcome)
	seq := res.Command.(*ast.Sequence)
	require.Empty(t, seq.Items)
}

func TestParseBlankLineAtEOFReportsEndOfInput(t *testing.T) {
	// StringInput always reports eof on its one line, so a blank line
	// through it exercises the "blank AND eof" branch directly.
	p := NewParser(nil)
	res := p.ParseNext(NewStringInput("   "))
	require.Equal(t, shellapi.EndOfInput, res.Outcome)
}

func TestParseBlankLineNotAtEOFYieldsEmptySequence(t *testing.T) {
	p := NewParser(nil)
	res := p.ParseNext(NewLineInput(strings.NewReader("   \nrest\n")))
	require.Equal(t, shellapi.Parsed, res.Outcome)
	seq := res.Command.(*ast.Sequence)
	require.Empty(t, seq.Items)
}
