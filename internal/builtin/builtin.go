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

// Package builtin implements the shell's own special and job-control
// utilities. These are distinct from shellapi.BuiltinRegistry, which is
// the open-ended hook for ordinary utilities (echo, test, printf)
// supplied by the embedder; the ones here need direct access to the
// full Env (trap table, job table, option set, variable store) that
// ExpansionEnv deliberately doesn't expose.
package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/posh-shell/posh/internal/ast"
	"github.com/posh-shell/posh/internal/divert"
	"github.com/posh-shell/posh/internal/job"
	"github.com/posh-shell/posh/internal/shellapi"
	"github.com/posh-shell/posh/internal/shellenv"
	"github.com/posh-shell/posh/internal/trap"
	"github.com/posh-shell/posh/internal/vars"
)

func waitCtx(env *shellenv.Env) context.Context { return context.Background() }

// Result is a special builtin's outcome: an exit status plus whatever
// non-local control transfer it requests.
type Result struct {
	Status int
	Divert divert.Divert
}

func ok(status int) Result { return Result{Status: status} }

func fail(env *shellenv.Env, status int, format string, args ...interface{}) Result {
	writeLine(env, 2, fmt.Sprintf(format, args...))
	return Result{Status: status}
}

// Func is one special builtin's implementation.
type Func func(env *shellenv.Env, argv []string) Result

// Registry is the fixed table of special builtins. parser compiles a
// trap action string into a command tree the same way the top-level
// read-eval loop compiles input.
type Registry struct {
	parser shellapi.Parser
	fns    map[string]Func
}

func New(parser shellapi.Parser) *Registry {
	r := &Registry{parser: parser, fns: map[string]Func{}}
	r.fns[":"] = biColon
	r.fns["exit"] = biExit
	r.fns["return"] = biReturn
	r.fns["break"] = biBreak
	r.fns["continue"] = biContinue
	r.fns["set"] = biSet
	r.fns["shift"] = biShift
	r.fns["unset"] = biUnset
	r.fns["export"] = biExport
	r.fns["readonly"] = biReadonly
	r.fns["trap"] = r.biTrap
	r.fns["jobs"] = biJobs
	r.fns["wait"] = biWait
	r.fns["kill"] = biKill
	r.fns["exec"] = biExec
	return r
}

// Lookup returns the special builtin named name, if any.
func (r *Registry) Lookup(name string) (Func, bool) {
	f, ok := r.fns[name]
	return f, ok
}

// IsSpecial reports whether name is one of POSIX's special built-in
// utilities, consulted by internal/eval before a redirection error on an
// unresolved command word to decide Exit-vs-abort severity.
func (r *Registry) IsSpecial(name string) bool {
	_, ok := r.fns[name]
	return ok
}

func writeLine(env *shellenv.Env, fd int, s string) {
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	env.Sys.Write(fd, []byte(s))
}

func biColon(env *shellenv.Env, argv []string) Result { return ok(0) }

func parseStatusArg(argv []string, fallback int) int {
	if len(argv) < 2 {
		return fallback
	}
	n, err := strconv.Atoi(argv[1])
	if err != nil {
		return fallback
	}
	return n & 0xff
}

func biExit(env *shellenv.Env, argv []string) Result {
	status := env.Status
	if len(argv) >= 2 {
		n, err := strconv.Atoi(argv[1])
		if err == nil {
			status = n & 0xff
		}
	}
	s := status
	return Result{Status: status, Divert: divert.NewExit(&s)}
}

func biReturn(env *shellenv.Env, argv []string) Result {
	status := env.Status
	if len(argv) >= 2 {
		if n, err := strconv.Atoi(argv[1]); err == nil {
			status = n & 0xff
		}
	}
	s := status
	return Result{Status: status, Divert: divert.NewReturn(&s)}
}

func biBreak(env *shellenv.Env, argv []string) Result {
	n := parseStatusArg(argv, 1)
	if n < 1 {
		n = 1
	}
	return Result{Status: 0, Divert: divert.NewBreak(n)}
}

func biContinue(env *shellenv.Env, argv []string) Result {
	n := parseStatusArg(argv, 1)
	if n < 1 {
		n = 1
	}
	return Result{Status: 0, Divert: divert.NewContinue(n)}
}

// biSet implements the option-toggling subset of `set`: `-o name` /
// `+o name`, single-letter option flags (`-e`, `+e`, ... as mapped by
// applyOptionLetter), and positional-parameter reassignment either
// after `--` or from the first operand that is not an option.
func biSet(env *shellenv.Env, argv []string) Result {
	args := argv[1:]
	i := 0
	for i < len(args) {
		a := args[i]
		switch {
		case a == "-o" || a == "+o":
			if i+1 >= len(args) {
				return ok(1)
			}
			enable := a == "-o"
			if !setOption(env, args[i+1], enable) {
				return fail(env, 1, "set: unknown option %s", args[i+1])
			}
			i += 2
		case a == "--":
			env.Positional = append([]string(nil), args[i+1:]...)
			return ok(0)
		case strings.HasPrefix(a, "-") && len(a) > 1:
			for _, c := range a[1:] {
				applyOptionLetter(env, c, true)
			}
			i++
		case strings.HasPrefix(a, "+") && len(a) > 1:
			for _, c := range a[1:] {
				applyOptionLetter(env, c, false)
			}
			i++
		default:
			env.Positional = append([]string(nil), args[i:]...)
			return ok(0)
		}
	}
	return ok(0)
}

func setOption(env *shellenv.Env, name string, enable bool) bool {
	switch name {
	case "errexit":
		env.Config.Errexit = enable
	case "nounset":
		env.Config.Nounset = enable
	case "noclobber":
		env.Config.Noclobber = enable
	case "pipefail":
		env.Config.Pipefail = enable
	case "monitor":
		env.Config.Monitor = enable
	case "verbose":
		env.Config.Verbose = enable
	case "xtrace":
		env.Config.Xtrace = enable
	case "noexec":
		env.Config.Noexec = enable
	default:
		return false
	}
	return true
}

func applyOptionLetter(env *shellenv.Env, c rune, enable bool) {
	switch c {
	case 'e':
		env.Config.Errexit = enable
	case 'u':
		env.Config.Nounset = enable
	case 'C':
		env.Config.Noclobber = enable
	case 'm':
		env.Config.Monitor = enable
	case 'v':
		env.Config.Verbose = enable
	case 'x':
		env.Config.Xtrace = enable
	case 'n':
		env.Config.Noexec = enable
	}
}

func biShift(env *shellenv.Env, argv []string) Result {
	n := 1
	if len(argv) >= 2 {
		if v, err := strconv.Atoi(argv[1]); err == nil {
			n = v
		}
	}
	if n < 0 || n > len(env.Positional) {
		return fail(env, 1, "shift: count out of range")
	}
	env.Positional = env.Positional[n:]
	return ok(0)
}

func biUnset(env *shellenv.Env, argv []string) Result {
	status := 0
	for _, name := range argv[1:] {
		if name == "-f" {
			continue
		}
		if f, ok := env.Funcs.Lookup(name); ok && f != nil {
			if err := env.Funcs.Unset(name); err != nil {
				status = 1
			}
			continue
		}
		if err := env.Vars.Unset(name); err != nil {
			status = 1
		}
	}
	return ok(status)
}

func biExport(env *shellenv.Env, argv []string) Result {
	for _, arg := range argv[1:] {
		if arg == "-p" {
			for _, n := range env.Vars.Environ() {
				writeLine(env, 1, "export "+n)
			}
			continue
		}
		name, value, hasValue := strings.Cut(arg, "=")
		if hasValue {
			env.Vars.SetGlobal(name, vars.Scalar(value), true)
		} else {
			env.Vars.Export(name)
		}
	}
	return ok(0)
}

func biReadonly(env *shellenv.Env, argv []string) Result {
	for _, arg := range argv[1:] {
		name, value, hasValue := strings.Cut(arg, "=")
		if hasValue {
			if err := env.Vars.SetReadOnly(name, vars.Scalar(value)); err != nil {
				return ok(1)
			}
		} else if v, found := env.Vars.Lookup(name); found {
			env.Vars.SetReadOnly(name, v.Value)
		}
	}
	return ok(0)
}

// biTrap implements `trap`, `trap -p`, and `trap action condition...`.
func (r *Registry) biTrap(env *shellenv.Env, argv []string) Result {
	args := argv[1:]
	if len(args) == 0 || args[0] == "-p" {
		conds := env.Traps.Iter()
		for _, c := range conds {
			a := env.Traps.ActionFor(c)
			if a.Kind != trap.ActionCommand {
				continue
			}
			writeLine(env, 1, fmt.Sprintf("trap -- %q %s", describeBody(a.Command), c.String()))
		}
		return ok(0)
	}

	action := args[0]
	conds := args[1:]
	if len(conds) == 0 {
		return fail(env, 2, "trap: missing condition")
	}

	var parsed ast.Command
	actionKind := trap.ActionCommand
	switch action {
	case "-":
		actionKind = trap.ActionDefault
	case "":
		actionKind = trap.ActionIgnore
	default:
		cmd, err := r.compile(action)
		if err != nil {
			return fail(env, 2, "trap: %v", err)
		}
		parsed = cmd
	}

	for _, cname := range conds {
		cond, err := conditionFor(env, cname)
		if err != nil {
			return fail(env, 1, "trap: %v", err)
		}
		if err := env.Traps.SetAction(cond, trap.Action{Kind: actionKind, Command: parsed}); err != nil {
			return fail(env, 1, "trap: %v", err)
		}
	}
	return ok(0)
}

func describeBody(c ast.Command) string {
	if c == nil {
		return ""
	}
	if sc, ok := c.(*ast.SimpleCommand); ok && len(sc.Words) > 0 {
		return sc.Words[0].Raw
	}
	return ""
}

func conditionFor(env *shellenv.Env, name string) (trap.Condition, error) {
	switch strings.ToUpper(name) {
	case "EXIT", "0":
		return trap.ExitCondition(), nil
	case "ERR":
		return trap.ErrCondition(), nil
	case "DEBUG":
		return trap.DebugCondition(), nil
	}
	sig, err := env.Sys.ResolveSignal(strings.TrimPrefix(strings.ToUpper(name), "SIG"))
	if err != nil {
		return trap.Condition{}, err
	}
	return trap.SignalCondition(sig), nil
}

// compile parses a single trap action string into a command tree using
// the same Parser the read-eval loop uses, wrapped in a one-shot
// ScriptInput.
func (r *Registry) compile(src string) (ast.Command, error) {
	input := &stringInput{line: src}
	res := r.parser.ParseNext(input)
	if res.Outcome != shellapi.Parsed {
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, fmt.Errorf("could not parse trap action %q", src)
	}
	return res.Command, nil
}

type stringInput struct {
	line string
	done bool
}

func (s *stringInput) ReadLine() (string, bool, error) {
	if s.done {
		return "", true, nil
	}
	s.done = true
	return s.line, false, nil
}

func biJobs(env *shellenv.Env, argv []string) Result {
	env.Jobs.Drain()
	for _, j := range env.Jobs.All() {
		mark := " "
		if cur, ok := env.Jobs.Current(); ok && cur.ID == j.ID {
			mark = "+"
		} else if prev, ok := env.Jobs.Previous(); ok && prev.ID == j.ID {
			mark = "-"
		}
		writeLine(env, 1, fmt.Sprintf("[%d]%s  %s                 %s", j.ID, mark, j.State, j.CommandString))
		j.Reported = true
	}
	// An explicit jobs query counts as reporting: finished
	// jobs leave the table now that the user has seen them.
	for _, j := range env.Jobs.All() {
		if j.Reported && j.State.Terminal() {
			env.Jobs.Remove(j.ID)
		}
	}
	return ok(0)
}

// biWait accepts `%`-style job specs and bare pids (`wait $!`); with no
// operands it waits for every tracked job.
func biWait(env *shellenv.Env, argv []string) Result {
	specs := argv[1:]
	var ids []job.ID
	if len(specs) == 0 {
		for _, j := range env.Jobs.All() {
			ids = append(ids, j.ID)
		}
	} else {
		for _, spec := range specs {
			var j *job.Job
			if strings.HasPrefix(spec, "%") {
				found, err := env.Jobs.Resolve(spec)
				if err != nil {
					return fail(env, 127, "wait: %v", err)
				}
				j = found
			} else if pid, err := strconv.Atoi(spec); err == nil {
				found, ok := env.Jobs.FindByPID(pid)
				if !ok {
					return fail(env, 127, "wait: pid %d is not a child of this shell", pid)
				}
				j = found
			} else {
				return fail(env, 127, "wait: %s: not a job or pid", spec)
			}
			ids = append(ids, j.ID)
		}
	}
	if len(ids) == 0 {
		return ok(127)
	}
	results, err := env.Jobs.Wait(waitCtx(env), ids...)
	if err != nil {
		return fail(env, 127, "wait: %v", err)
	}
	status := results[len(results)-1].EncodedStatus()
	for _, j := range results {
		if j.State.Terminal() {
			env.Jobs.Remove(j.ID)
		}
	}
	return ok(status)
}

func biKill(env *shellenv.Env, argv []string) Result {
	args := argv[1:]
	sigName := "TERM"
	if len(args) > 0 && strings.HasPrefix(args[0], "-") {
		sigName = strings.TrimPrefix(args[0], "-")
		args = args[1:]
	}
	sig, err := env.Sys.ResolveSignal(strings.TrimPrefix(strings.ToUpper(sigName), "SIG"))
	if err != nil {
		return fail(env, 1, "kill: %v", err)
	}
	status := 0
	for _, spec := range args {
		if strings.HasPrefix(spec, "%") {
			j, err := env.Jobs.Resolve(spec)
			if err != nil {
				status = 1
				continue
			}
			if err := env.Jobs.Signal(j.ID, sig, job.ToProcessGroup); err != nil {
				status = 1
			}
			continue
		}
		pid, err := strconv.Atoi(spec)
		if err != nil {
			status = 1
			continue
		}
		if err := env.Sys.Kill(pid, sig); err != nil {
			status = 1
		}
	}
	return ok(status)
}

// biExec exists so `exec` is classified as a special builtin
// (IsSpecial drives redirection-error severity). Both of its real forms
// are intercepted by the evaluator before ordinary dispatch: a bare
// `exec` applies its redirections permanently to the shell inside
// evalSimple, and `exec cmd ...` replaces the process image through the
// evaluator's dedicated exec path, which owns the resolved PATH entry
// and argv. This body is only a backstop for a direct registry call.
func biExec(env *shellenv.Env, argv []string) Result {
	return ok(0)
}
