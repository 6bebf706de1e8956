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

package alias

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetLookupUnset(t *testing.T) {
	tbl := New()
	tbl.Set("ll", "ls -la", false)

	repl, blank, ok := tbl.Lookup("ll")
	require.True(t, ok)
	require.False(t, blank)
	require.Equal(t, "ls -la", repl)

	tbl.Unset("ll")
	_, _, ok = tbl.Lookup("ll")
	require.False(t, ok)
}

func TestLookupUnknownReturnsFalse(t *testing.T) {
	tbl := New()
	_, _, ok := tbl.Lookup("nope")
	require.False(t, ok)
}

func TestNamesListsAll(t *testing.T) {
	tbl := New()
	tbl.Set("a", "one", false)
	tbl.Set("b", "two", true)
	require.ElementsMatch(t, []string{"a", "b"}, tbl.Names())
}

func TestCloneIsIndependent(t *testing.T) {
	tbl := New()
	tbl.Set("a", "one", false)
	clone := tbl.Clone()

	clone.Set("a", "changed", false)
	repl, _, _ := tbl.Lookup("a")
	require.Equal(t, "one", repl)

	clone.Set("b", "new", false)
	_, _, ok := tbl.Lookup("b")
	require.False(t, ok)
}
