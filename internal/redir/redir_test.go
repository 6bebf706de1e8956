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

package redir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/posh-shell/posh/internal/ast"
	"github.com/posh-shell/posh/internal/system/fakesys"
	"github.com/posh-shell/posh/internal/textshell"
)

type noVarsEnv struct{}

func (noVarsEnv) Getvar(string) (string, bool, []string, bool) { return "", false, nil, false }
func (noVarsEnv) Getparam(int) (string, bool)                  { return "", false }
func (noVarsEnv) NumParams() int                                { return 0 }
func (noVarsEnv) LastStatus() int                               { return 0 }
func (noVarsEnv) LastBackgroundPID() int                        { return 0 }

func TestApplyOutputRedirectionOpensAndMarks(t *testing.T) {
	sys := fakesys.New()
	table := NewTable()
	expander := textshell.NewExpander()

	list := []ast.Redirection{{FD: -1, Op: ast.RedirOutput, Target: ast.Word{Raw: "out.txt"}}}
	frame, err := Apply(sys, table, expander, noVarsEnv{}, false, list)
	require.NoError(t, err)
	require.True(t, table.IsOpen(1))

	n, err := sys.Write(1, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	frame.Unwind(sys, table)
	require.True(t, table.IsOpen(1))
}

func TestApplyInputRedirectionDefaultsToFD0(t *testing.T) {
	sys := fakesys.New()
	table := NewTable()
	expander := textshell.NewExpander()

	list := []ast.Redirection{{FD: -1, Op: ast.RedirInput, Target: ast.Word{Raw: "in.txt"}}}
	_, err := Apply(sys, table, expander, noVarsEnv{}, false, list)
	require.NoError(t, err)
	require.True(t, table.IsOpen(0))
}

func TestUnwindRestoresClosedFD(t *testing.T) {
	sys := fakesys.New()
	table := NewTable()
	expander := textshell.NewExpander()

	// fd 5 starts out not open in the shell's bookkeeping.
	require.False(t, table.IsOpen(5))
	list := []ast.Redirection{{FD: 5, Op: ast.RedirOutput, Target: ast.Word{Raw: "out.txt"}}}
	frame, err := Apply(sys, table, expander, noVarsEnv{}, false, list)
	require.NoError(t, err)
	require.True(t, table.IsOpen(5))

	frame.Unwind(sys, table)
	require.False(t, table.IsOpen(5))
}

func TestApplyNoclobberUsesExclFlag(t *testing.T) {
	sys := fakesys.New()
	table := NewTable()
	expander := textshell.NewExpander()

	list := []ast.Redirection{{FD: -1, Op: ast.RedirOutput, Target: ast.Word{Raw: "exists.txt"}}}
	_, err := Apply(sys, table, expander, noVarsEnv{}, true, list)
	require.NoError(t, err)

	// A second noclobber open of the same still-open path must fail
	// (OExcl), matching POSIX's noclobber requirement.
	_, err = Apply(sys, table, expander, noVarsEnv{}, true, list)
	require.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	table := NewTable()
	table.markOpen(9)
	clone := table.Clone()
	clone.markClosed(9)
	require.True(t, table.IsOpen(9))
	require.False(t, clone.IsOpen(9))
}
