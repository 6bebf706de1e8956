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

// Package readeval drives the read-eval loop: parse one complete
// command, evaluate it, run pending traps and job-status notifications
// between commands, and terminate cleanly through the EXIT trap.
package readeval

import (
	"fmt"

	"github.com/posh-shell/posh/internal/divert"
	"github.com/posh-shell/posh/internal/eval"
	"github.com/posh-shell/posh/internal/logging"
	"github.com/posh-shell/posh/internal/shellapi"
	"github.com/posh-shell/posh/internal/shellenv"
)

var log = logging.Named("readeval")

// Loop is the read-eval driver. It owns no state of its own beyond its
// collaborators; all mutable shell state lives in the Env passed to Run.
type Loop struct {
	Parser   shellapi.Parser
	Prompt   shellapi.Prompt
	Eval     *eval.Evaluator
	Input    shellapi.ScriptInput
	Stderr   func(string)
}

// Run drives the loop to completion (EOF, an Exit divert, or a parse
// failure in a non-interactive non-subshell context) and returns the
// shell's final exit status.
func (l *Loop) Run(env *shellenv.Env) int {
	for {
		if d := l.Eval.RunPendingTraps(env); d.Kind == divert.Exit {
			return l.terminate(env, exitStatus(d, env.Status))
		}

		l.reportJobChanges(env)

		if env.Config.Interactive && l.Prompt != nil {
			env.Sys.Write(1, []byte(l.Prompt.NextPrompt(env, shellapi.PS1)))
		}

		result := l.Parser.ParseNext(l.Input)
		switch result.Outcome {
		case shellapi.EndOfInput:
			return l.terminate(env, env.Status)

		case shellapi.SyntaxErr:
			l.reportError(result.Err)
			if !env.Config.Interactive {
				return l.terminate(env, 2)
			}
			continue

		case shellapi.Incomplete:
			// The parser asked for more input than one ReadLine call
			// supplied; a real ScriptInput keeps feeding lines until it
			// resolves this itself, so seeing it here means input ended
			// mid-construct.
			return l.terminate(env, 2)
		}

		res := l.Eval.Eval(env, result.Command)
		env.Status = res.Status

		switch res.Divert.Kind {
		case divert.Exit:
			return l.terminate(env, exitStatus(res.Divert, res.Status))
		case divert.Interrupt:
			if env.Config.Interactive {
				continue
			}
			return l.terminate(env, res.Status)
		case divert.Break, divert.Continue:
			// Escaped every enclosing loop and function: a usage
			// error, not a silent no-op.
			name := "break"
			if res.Divert.Kind == divert.Continue {
				name = "continue"
			}
			l.reportError(fmt.Errorf("%s: only meaningful in a loop", name))
			env.Status = 1
		}
	}
}

func exitStatus(d divert.Divert, fallback int) int {
	if d.Status != nil {
		return *d.Status
	}
	return fallback
}

// terminate runs the EXIT trap exactly once and returns the
// final status.
func (l *Loop) terminate(env *shellenv.Env, status int) int {
	return l.Eval.RunExitTrap(env, status)
}

// reportJobChanges runs between commands: in an interactive
// shell, print status changes for jobs not yet reported, mark them
// reported, and remove jobs that have reached a terminal state and
// already been reported.
func (l *Loop) reportJobChanges(env *shellenv.Env) {
	if !env.Config.Interactive {
		return
	}
	changed := env.Jobs.Drain()
	for _, j := range changed {
		if j.Reported {
			continue
		}
		env.Sys.Write(1, []byte(fmt.Sprintf("[%d]+  %s                 %s\n", j.ID, j.State, j.CommandString)))
		j.Reported = true
	}
	for _, j := range env.Jobs.All() {
		if j.Reported && j.State.Terminal() {
			env.Jobs.Remove(j.ID)
		}
	}
}

func (l *Loop) reportError(err error) {
	msg := "error"
	if err != nil {
		msg = err.Error()
	}
	if l.Stderr != nil {
		l.Stderr(msg)
		return
	}
	log.Errorf("%s", msg)
}
