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

package readeval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/posh-shell/posh/internal/alias"
	"github.com/posh-shell/posh/internal/builtin"
	"github.com/posh-shell/posh/internal/eval"
	"github.com/posh-shell/posh/internal/shellconfig"
	"github.com/posh-shell/posh/internal/shellenv"
	"github.com/posh-shell/posh/internal/sigcore"
	"github.com/posh-shell/posh/internal/subshell"
	"github.com/posh-shell/posh/internal/system/fakesys"
	"github.com/posh-shell/posh/internal/textshell"
)

type scriptLines struct {
	lines []string
}

func (s *scriptLines) ReadLine() (string, bool, error) {
	if len(s.lines) == 0 {
		return "", true, nil
	}
	l := s.lines[0]
	s.lines = s.lines[1:]
	return l, false, nil
}

func newLoop(t *testing.T, lines ...string) (*Loop, *shellenv.Env, *fakesys.System) {
	t.Helper()
	sys := fakesys.New()
	core, err := sigcore.New(sys)
	require.NoError(t, err)
	env := shellenv.New(sys, shellconfig.Default(), core, -1)

	parser := textshell.NewParser(alias.New())
	special := builtin.New(parser)
	builtins := textshell.NewBuiltinRegistry(func(fd int, p []byte) { sys.Write(fd, p) })
	launcher := subshell.New(sys)
	ev := eval.New(textshell.NewExpander(), builtins, special, launcher)

	loop := &Loop{
		Parser: parser,
		Eval:   ev,
		Input:  &scriptLines{lines: lines},
		Stderr: func(string) {},
	}
	return loop, env, sys
}

func stdout(t *testing.T, sys *fakesys.System) string {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := sys.Read(1, buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestAndOrStatusIsVisibleToNextCommand(t *testing.T) {
	loop, env, sys := newLoop(t, "true && false", "echo $?")
	status := loop.Run(env)
	require.Equal(t, 0, status)
	require.Equal(t, "1\n", stdout(t, sys))
}

func TestExitTrapRunsOnceOnExit(t *testing.T) {
	loop, env, sys := newLoop(t, "trap 'echo TRAP' EXIT", "exit 19")
	status := loop.Run(env)
	require.Equal(t, 19, status)
	require.Equal(t, "TRAP\n", stdout(t, sys))
}

func TestExitInsideExitTrapOverridesStatus(t *testing.T) {
	loop, env, _ := newLoop(t, "trap 'exit 7' EXIT", "exit 19")
	require.Equal(t, 7, loop.Run(env))
}

func TestExitWithoutOperandUsesLastStatus(t *testing.T) {
	loop, env, _ := newLoop(t, "false", "exit")
	require.Equal(t, 1, loop.Run(env))
}

func TestSyntaxErrorExitsNonInteractiveShellWith2(t *testing.T) {
	loop, env, _ := newLoop(t, `echo "unterminated`, "echo never")
	require.Equal(t, 2, loop.Run(env))
}

func TestSyntaxErrorDiscardedInInteractiveShell(t *testing.T) {
	loop, env, sys := newLoop(t, `echo "unterminated`, "echo ok")
	env.Config.Interactive = true
	status := loop.Run(env)
	require.Equal(t, 0, status)
	require.Equal(t, "ok\n", stdout(t, sys))
}

func TestBreakAtTopLevelIsUsageErrorNotFatal(t *testing.T) {
	var msgs []string
	loop, env, sys := newLoop(t, "break", "echo ok")
	loop.Stderr = func(m string) { msgs = append(msgs, m) }
	status := loop.Run(env)
	require.Equal(t, 0, status)
	require.Equal(t, "ok\n", stdout(t, sys))
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0], "break")
}

func TestVariableAssignmentPersistsAcrossLines(t *testing.T) {
	loop, env, sys := newLoop(t, "GREETING=hello", "echo $GREETING")
	require.Equal(t, 0, loop.Run(env))
	require.Equal(t, "hello\n", stdout(t, sys))
}
