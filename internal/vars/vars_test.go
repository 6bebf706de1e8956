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

package vars

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetAndLookupGlobal(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("FOO", Scalar("bar"), false))
	v, ok := s.Lookup("FOO")
	require.True(t, ok)
	require.Equal(t, "bar", v.Value.String())
	require.Equal(t, GlobalScope, v.Scope)
}

func TestSetInnerScopeShadows(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("FOO", Scalar("outer"), false))
	inner := s.PushScope()
	require.NoError(t, s.Set("FOO", Scalar("inner"), false))

	v, ok := s.Lookup("FOO")
	require.True(t, ok)
	require.Equal(t, "inner", v.Value.String())
	require.Equal(t, inner, v.Scope)

	s.PopScope()
	v, ok = s.Lookup("FOO")
	require.True(t, ok)
	require.Equal(t, "outer", v.Value.String())
}

func TestSetReassignsExistingOuterVarFromInnerScope(t *testing.T) {
	// Set on a name already visible in an outer scope assigns there,
	// it does not shadow ("innermost scope where it is
	// already defined").
	s := New()
	require.NoError(t, s.Set("FOO", Scalar("outer"), false))
	s.PushScope()
	require.NoError(t, s.Set("FOO", Scalar("changed"), false))

	s.PopScope()
	v, ok := s.Lookup("FOO")
	require.True(t, ok)
	require.Equal(t, "changed", v.Value.String())
}

func TestReadonlyRejectsReassignAndUnset(t *testing.T) {
	s := New()
	require.NoError(t, s.SetReadOnly("RO", Scalar("fixed")))

	err := s.Set("RO", Scalar("other"), false)
	require.Error(t, err)

	err = s.Unset("RO")
	require.Error(t, err)

	v, _ := s.Lookup("RO")
	require.Equal(t, "fixed", v.Value.String())
}

func TestSetGlobalBypassesLocalScope(t *testing.T) {
	s := New()
	s.PushScope()
	require.NoError(t, s.SetGlobal("G", Scalar("v"), false))
	s.PopScope()

	v, ok := s.Lookup("G")
	require.True(t, ok)
	require.Equal(t, GlobalScope, v.Scope)
	require.Equal(t, "v", v.Value.String())
}

func TestExportCreatesOrMarksExisting(t *testing.T) {
	s := New()
	s.Export("NEW")
	v, ok := s.Lookup("NEW")
	require.True(t, ok)
	require.True(t, v.Exported)
	require.Equal(t, "", v.Value.String())

	require.NoError(t, s.Set("NEW", Scalar("x"), false))
	v, _ = s.Lookup("NEW")
	require.True(t, v.Exported)
	require.Equal(t, "x", v.Value.String())
}

func TestEnvironExcludesUnexportedAndInnerShadowsOuterInEnviron(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("PLAIN", Scalar("1"), false))
	require.NoError(t, s.Set("OUT", Scalar("outer"), true))
	s.PushScope()
	require.NoError(t, s.Set("IN", Scalar("inner"), true))

	env := s.Environ()
	require.Contains(t, env, "OUT=outer")
	require.Contains(t, env, "IN=inner")
	for _, e := range env {
		require.NotContains(t, e, "PLAIN=")
	}
}

func TestArrayScalarContextYieldsFirstElement(t *testing.T) {
	a := Array{"one", "two"}
	require.Equal(t, "one", a.String())
	require.Equal(t, "", Array(nil).String())
}

func TestCloneIsDeepAndIndependent(t *testing.T) {
	s := New()
	require.NoError(t, s.Set("FOO", Scalar("bar"), false))
	clone := s.Clone()

	require.NoError(t, clone.Set("FOO", Scalar("changed"), false))
	v, _ := s.Lookup("FOO")
	require.Equal(t, "bar", v.Value.String())

	cv, _ := clone.Lookup("FOO")
	require.Equal(t, "changed", cv.Value.String())
}

func TestPopScopeAtGlobalPanics(t *testing.T) {
	s := New()
	require.Panics(t, func() { s.PopScope() })
}
