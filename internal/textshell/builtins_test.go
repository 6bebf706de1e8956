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

	"github.com/posh-shell/posh/internal/shellapi"
)

func captured() (func(fd int, p []byte), func() string) {
	var buf []byte
	return func(fd int, p []byte) { buf = append(buf, p...) }, func() string { return string(buf) }
}

func TestRegistryLookupKnownAndUnknown(t *testing.T) {
	write, _ := captured()
	r := NewBuiltinRegistry(write)

	for _, name := range []string{"echo", "printf", "true", "false", "test", "["} {
		_, ok := r.Lookup(name)
		require.True(t, ok, name)
	}
	_, ok := r.Lookup("nosuchbuiltin")
	require.False(t, ok)
}

func TestEchoJoinsArgsAndAppendsNewlineUnlessDashN(t *testing.T) {
	write, out := captured()
	r := NewBuiltinRegistry(write)
	u, _ := r.Lookup("echo")

	res := u.Run(nil, []string{"echo", "a", "b"})
	require.Equal(t, 0, res.Status)
	require.Equal(t, "a b\n", out())

	write, out = captured()
	r = NewBuiltinRegistry(write)
	u, _ = r.Lookup("echo")
	u.Run(nil, []string{"echo", "-n", "a", "b"})
	require.Equal(t, "a b", out())
}

func TestPrintfConversions(t *testing.T) {
	write, out := captured()
	r := NewBuiltinRegistry(write)
	u, _ := r.Lookup("printf")

	res := u.Run(nil, []string{"printf", "%s=%d\\n", "x", "5"})
	require.Equal(t, 0, res.Status)
	require.Equal(t, "x=5\n", out())
}

func TestTrueFalseStatus(t *testing.T) {
	r := NewBuiltinRegistry(nil)
	tru, _ := r.Lookup("true")
	fls, _ := r.Lookup("false")
	require.Equal(t, 0, tru.Run(nil, nil).Status)
	require.Equal(t, 1, fls.Run(nil, nil).Status)
}

func TestTestBuiltinStringAndNumericComparisons(t *testing.T) {
	r := NewBuiltinRegistry(nil)
	u, _ := r.Lookup("test")

	require.Equal(t, 0, u.Run(nil, []string{"test", "-z", ""}).Status)
	require.Equal(t, 1, u.Run(nil, []string{"test", "-z", "x"}).Status)
	require.Equal(t, 0, u.Run(nil, []string{"test", "-n", "x"}).Status)
	require.Equal(t, 0, u.Run(nil, []string{"test", "foo", "=", "foo"}).Status)
	require.Equal(t, 1, u.Run(nil, []string{"test", "foo", "=", "bar"}).Status)
	require.Equal(t, 0, u.Run(nil, []string{"test", "3", "-lt", "10"}).Status)
	require.Equal(t, 1, u.Run(nil, []string{"test", "3", "-gt", "10"}).Status)
}

func TestBracketFormStripsClosingBracket(t *testing.T) {
	r := NewBuiltinRegistry(nil)
	u, _ := r.Lookup("[")
	res := u.Run(nil, []string{"[", "-n", "x", "]"})
	require.Equal(t, 0, res.Status)
}

func TestBuiltinKindsAreRegular(t *testing.T) {
	r := NewBuiltinRegistry(nil)
	u, _ := r.Lookup("echo")
	require.Equal(t, shellapi.BuiltinRegular, u.Kind())
}
