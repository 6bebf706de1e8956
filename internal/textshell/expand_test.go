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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/posh-shell/posh/internal/ast"
	"github.com/posh-shell/posh/internal/shellapi"
)

type fakeEnv struct {
	vars    map[string]string
	arrays  map[string][]string
	params  []string
	status  int
	bgPid   int
}

func (f *fakeEnv) Getvar(name string) (string, bool, []string, bool) {
	if vs, ok := f.arrays[name]; ok {
		return "", true, vs, true
	}
	if v, ok := f.vars[name]; ok {
		return v, false, nil, true
	}
	return "", false, nil, false
}

func (f *fakeEnv) Getparam(n int) (string, bool) {
	if n < 1 || n > len(f.params) {
		return "", false
	}
	return f.params[n-1], true
}

func (f *fakeEnv) NumParams() int          { return len(f.params) }
func (f *fakeEnv) LastStatus() int         { return f.status }
func (f *fakeEnv) LastBackgroundPID() int  { return f.bgPid }

func TestExpandScalarParameter(t *testing.T) {
	e := NewExpander()
	env := &fakeEnv{vars: map[string]string{"NAME": "world"}}
	got, err := e.Expand(env, ast.Word{Raw: "hello-$NAME"}, shellapi.ModeScalar)
	require.NoError(t, err)
	require.Equal(t, []string{"hello-world"}, got)
}

func TestExpandBracedAndSpecialParams(t *testing.T) {
	e := NewExpander()
	env := &fakeEnv{vars: map[string]string{"FOO": "bar"}, params: []string{"a", "b"}, status: 7, bgPid: 42}
	cases := map[string]string{
		"${FOO}": "bar",
		"$1":     "a",
		"$2":     "b",
		"$#":     "2",
		"$?":     "7",
		"$!":     "42",
		"$@":     "a b",
	}
	for raw, want := range cases {
		got, err := e.Expand(env, ast.Word{Raw: raw}, shellapi.ModeScalar)
		require.NoError(t, err)
		require.Equal(t, []string{want}, got, "raw=%q", raw)
	}
}

func TestExpandSplitModeSplitsUnquotedOnWhitespace(t *testing.T) {
	e := NewExpander()
	env := &fakeEnv{vars: map[string]string{"LIST": "one  two three"}}
	got, err := e.Expand(env, ast.Word{Raw: "$LIST"}, shellapi.ModeSplit)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two", "three"}, got)
}

func TestExpandSplitModeSuppressedWhenFullyQuoted(t *testing.T) {
	e := NewExpander()
	env := &fakeEnv{vars: map[string]string{"LIST": "one two"}}
	got, err := e.Expand(env, ast.Word{Raw: `"$LIST"`}, shellapi.ModeSplit)
	require.NoError(t, err)
	require.Equal(t, []string{"one two"}, got)
}

func TestExpandGlobModeFallsBackToLiteralWithoutMatches(t *testing.T) {
	e := NewExpander()
	env := &fakeEnv{}
	// No matches on disk for this pattern; the stand-in falls back to
	// the literal pattern string rather than erroring.
	got, err := e.Expand(env, ast.Word{Raw: "/no/such/path/*.nonexistent"}, shellapi.ModeGlob)
	require.NoError(t, err)
	require.Equal(t, []string{"/no/such/path/*.nonexistent"}, got)
}

func TestExpandArrayVariableJoinsWithSpace(t *testing.T) {
	e := NewExpander()
	env := &fakeEnv{arrays: map[string][]string{"ARR": {"x", "y", "z"}}}
	got, err := e.Expand(env, ast.Word{Raw: "$ARR"}, shellapi.ModeScalar)
	require.NoError(t, err)
	require.Equal(t, []string{"x y z"}, got)
}

func TestMatchUsesGlobSemantics(t *testing.T) {
	e := NewExpander()
	ok, err := e.Match("foo*", "foobar")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.Match("foo*", "barfoo")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = e.Match("[abc]*", "apple")
	require.NoError(t, err)
	require.True(t, ok)
}
