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

// Package eval is the command evaluator: a recursive traversal of the
// command tree with one method per tree variant, covering redirections,
// simple-command dispatch, pipelines, and-or lists, compound commands,
// and function invocation, with exit-status and divert propagation.
package eval

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/posh-shell/posh/internal/ast"
	"github.com/posh-shell/posh/internal/builtin"
	"github.com/posh-shell/posh/internal/divert"
	"github.com/posh-shell/posh/internal/job"
	"github.com/posh-shell/posh/internal/logging"
	"github.com/posh-shell/posh/internal/redir"
	"github.com/posh-shell/posh/internal/shellapi"
	"github.com/posh-shell/posh/internal/shellenv"
	"github.com/posh-shell/posh/internal/subshell"
	"github.com/posh-shell/posh/internal/trap"
	"github.com/posh-shell/posh/internal/vars"
)

var log = logging.Named("eval")

// Result is an evaluation outcome: the exit status plus whatever
// non-local control transfer is in flight.
type Result struct {
	Status int
	Divert divert.Divert
}

// Evaluator bundles the evaluator's external collaborators:
// word expansion, the regular-builtin hook, and the subshell launcher
// that both external utilities and compound-command subshells go
// through.
type Evaluator struct {
	Expander shellapi.Expander
	Builtins shellapi.BuiltinRegistry
	Special  *builtin.Registry
	Launcher *subshell.Launcher
}

func New(expander shellapi.Expander, builtins shellapi.BuiltinRegistry, special *builtin.Registry, launcher *subshell.Launcher) *Evaluator {
	return &Evaluator{Expander: expander, Builtins: builtins, Special: special, Launcher: launcher}
}

// Eval evaluates one complete command, entered fresh (errexit fully
// armed) for every top-level command.
func (e *Evaluator) Eval(env *shellenv.Env, cmd ast.Command) Result {
	return e.eval(env, cmd, false)
}

func (e *Evaluator) eval(env *shellenv.Env, cmd ast.Command, suppressErrexit bool) Result {
	switch c := cmd.(type) {
	case *ast.SimpleCommand:
		return e.evalSimple(env, c, suppressErrexit)
	case *ast.Pipeline:
		return e.evalPipeline(env, c, suppressErrexit)
	case *ast.AndOr:
		return e.evalAndOr(env, c, suppressErrexit)
	case *ast.BraceGroup:
		return e.evalBraceGroup(env, c)
	case *ast.Subshell:
		return e.evalSubshell(env, c)
	case *ast.For:
		return e.evalFor(env, c)
	case *ast.While:
		return e.evalWhile(env, c)
	case *ast.If:
		return e.evalIf(env, c)
	case *ast.Case:
		return e.evalCase(env, c)
	case *ast.FuncDef:
		return e.evalFuncDef(env, c)
	case *ast.Sequence:
		return e.evalSequence(env, c, suppressErrexit)
	default:
		return Result{Status: 2}
	}
}

// maybeErrexit implements errexit promotion: a None-divert nonzero
// status becomes Exit when errexit is armed and
// not suppressed by the calling context (a condition, a non-final
// and-or element, or a pipefail-off pipeline member).
func (e *Evaluator) maybeErrexit(env *shellenv.Env, res Result, suppress bool) Result {
	if suppress || !res.Divert.IsNone() || res.Status == 0 || !env.Config.Errexit {
		return res
	}
	status := res.Status
	return Result{Status: status, Divert: divert.NewExit(&status)}
}

// --- simple command ---------------------------------------------------

func (e *Evaluator) expandWords(env *shellenv.Env, words []ast.Word, mode shellapi.ExpandMode) ([]string, error) {
	var out []string
	for _, w := range words {
		fields, err := e.Expander.Expand(env, w, mode)
		if err != nil {
			return nil, err
		}
		out = append(out, fields...)
	}
	return out, nil
}

type assignRestore struct {
	name    string
	existed bool
	prior   vars.Variable
}

// applyTemporaryAssignments implements the "temporary, exported to the
// child only" rule for command-prefix assignments: it sets each assignment as an
// exported variable in the current scope and returns a closure that
// restores the prior binding (or removes it if it didn't previously
// exist).
func (e *Evaluator) applyTemporaryAssignments(env *shellenv.Env, assigns []ast.Assignment) (func(), error) {
	var restores []assignRestore
	for _, a := range assigns {
		fields, err := e.Expander.Expand(env, a.Value, shellapi.ModeAssignment)
		if err != nil {
			e.undoAssignments(env, restores)
			return nil, err
		}
		value := ""
		if len(fields) > 0 {
			value = fields[0]
		}
		if prior, found := env.Vars.Lookup(a.Name); found {
			restores = append(restores, assignRestore{name: a.Name, existed: true, prior: *prior})
		} else {
			restores = append(restores, assignRestore{name: a.Name, existed: false})
		}
		if err := env.Vars.Set(a.Name, vars.Scalar(value), true); err != nil {
			e.undoAssignments(env, restores)
			return nil, err
		}
	}
	return func() { e.undoAssignments(env, restores) }, nil
}

func (e *Evaluator) undoAssignments(env *shellenv.Env, restores []assignRestore) {
	for i := len(restores) - 1; i >= 0; i-- {
		r := restores[i]
		if r.existed {
			env.Vars.Set(r.name, r.prior.Value, r.prior.Exported)
		} else {
			env.Vars.Unset(r.name)
		}
	}
}

// applyPermanentAssignments implements the "no command word" branch of
// step (1): assignments are installed permanently in the current scope.
func applyPermanentAssignments(env *shellenv.Env, assigns []ast.Assignment, e *Evaluator) Result {
	for _, a := range assigns {
		fields, err := e.Expander.Expand(env, a.Value, shellapi.ModeAssignment)
		if err != nil {
			return Result{Status: 1}
		}
		value := ""
		if len(fields) > 0 {
			value = fields[0]
		}
		if err := env.Vars.Set(a.Name, vars.Scalar(value), false); err != nil {
			return Result{Status: 1}
		}
	}
	return Result{Status: 0}
}

func (e *Evaluator) evalSimple(env *shellenv.Env, c *ast.SimpleCommand, suppressErrexit bool) Result {
	if len(c.Words) == 0 {
		res := applyPermanentAssignments(env, c.Assignments, e)
		return e.maybeErrexit(env, res, suppressErrexit)
	}

	restore, err := e.applyTemporaryAssignments(env, c.Assignments)
	if err != nil {
		return e.maybeErrexit(env, Result{Status: 1}, suppressErrexit)
	}
	defer restore()

	words, err := e.expandWords(env, c.Words, shellapi.ModeSplit)
	if err != nil {
		return e.maybeErrexit(env, Result{Status: 1}, suppressErrexit)
	}
	if len(words) == 0 {
		return e.maybeErrexit(env, Result{Status: 0}, suppressErrexit)
	}

	// `exec` with no command word applies its redirections to the shell
	// itself, permanently: the frame is deliberately discarded instead
	// of unwound, so the new bindings outlive the command.
	if words[0] == "exec" && len(words) == 1 {
		if _, err := redir.Apply(env.Sys, env.Redir, e.Expander, env, env.Config.Noclobber, c.Redirections); err != nil {
			status := 1
			var d divert.Divert
			if !env.Config.Interactive {
				d = divert.NewExit(&status)
			}
			return e.maybeErrexit(env, Result{Status: status, Divert: d}, suppressErrexit)
		}
		return e.maybeErrexit(env, Result{Status: 0}, suppressErrexit)
	}

	frame, err := redir.Apply(env.Sys, env.Redir, e.Expander, env, env.Config.Noclobber, c.Redirections)
	if err != nil {
		status := 1
		var d divert.Divert
		if e.Special.IsSpecial(words[0]) && !env.Config.Interactive {
			d = divert.NewExit(&status)
		}
		return e.maybeErrexit(env, Result{Status: status, Divert: d}, suppressErrexit)
	}
	defer frame.Unwind(env.Sys, env.Redir)

	res := e.dispatch(env, words)
	return e.maybeErrexit(env, res, suppressErrexit)
}

// dispatch resolves the command word: special builtin, function,
// regular builtin, PATH search, in that order. `command [-p]` bypasses
// function lookup.
func (e *Evaluator) dispatch(env *shellenv.Env, words []string) Result {
	name := words[0]

	if name == "exec" && len(words) > 1 {
		return e.execReplace(env, words[1:])
	}
	if name == "command" {
		rest := words[1:]
		for len(rest) > 0 && rest[0] == "-p" {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return Result{Status: 0}
		}
		return e.resolve(env, rest, false)
	}
	return e.resolve(env, words, true)
}

func (e *Evaluator) resolve(env *shellenv.Env, words []string, allowFunctions bool) Result {
	name := words[0]
	if fn, ok := e.Special.Lookup(name); ok {
		r := fn(env, words)
		return Result{Status: r.Status, Divert: r.Divert}
	}
	if allowFunctions {
		if fnDef, ok := env.Funcs.Lookup(name); ok {
			return e.callFunction(env, fnDef.Body, words)
		}
	}
	if e.Builtins != nil {
		if b, ok := e.Builtins.Lookup(name); ok {
			r := b.Run(env, words)
			return Result{Status: r.Status, Divert: r.Divert}
		}
	}
	return e.runExternal(env, words)
}

func (e *Evaluator) callFunction(env *shellenv.Env, body ast.Command, words []string) Result {
	savedPositional := env.Positional
	env.Vars.PushScope()
	env.Positional = append([]string(nil), words[1:]...)

	res := e.Eval(env, body)

	env.Vars.PopScope()
	env.Positional = savedPositional

	if res.Divert.Kind == divert.Return {
		status := res.Status
		if res.Divert.Status != nil {
			status = *res.Divert.Status
		}
		return Result{Status: status}
	}
	// A break/continue that escaped every loop inside the function body
	// does not propagate to whatever loop (if any) called the function:
	// it is reported as a usage error instead of silently no-op'ing or
	// reaching past the function boundary.
	if res.Divert.Kind == divert.Break || res.Divert.Kind == divert.Continue {
		env.Sys.Write(2, []byte(strayDivertName(res.Divert.Kind)+": only meaningful in a loop\n"))
		return Result{Status: 1}
	}
	return res
}

// execReplace implements `exec cmd args...`: on success this never
// returns (the calling process becomes cmd); on failure it aborts the
// shell in a non-interactive shell or reports failure in an interactive
// one.
func (e *Evaluator) execReplace(env *shellenv.Env, words []string) Result {
	path, err := lookupExternal(env, words[0])
	if err != nil {
		status := 127
		if !env.Config.Interactive {
			s := status
			return Result{Status: status, Divert: divert.NewExit(&s)}
		}
		return Result{Status: status}
	}
	argv := append([]string{words[0]}, words[1:]...)
	if err := env.Sys.Execve(path, argv, env.Vars.Environ()); err != nil {
		status := 126
		if !env.Config.Interactive {
			s := status
			return Result{Status: status, Divert: divert.NewExit(&s)}
		}
		return Result{Status: status}
	}
	return Result{Status: 0}
}

func strayDivertName(k divert.Kind) string {
	if k == divert.Continue {
		return "continue"
	}
	return "break"
}

func lookupExternal(env *shellenv.Env, name string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	return exec.LookPath(name)
}

// runExternal is the SimpleCommand external-utility path: resolve via
// PATH, launch through the Subshell launcher, and wait for it in the
// foreground. Requires env.Sys to be the real, OS-backed System (fd
// numbers are real file descriptors); the fake System used by unit
// tests exercises functions, special builtins, and the Internal
// subshell path instead, since there is no meaningful way to exec a
// real binary against an in-memory fd table.
func (e *Evaluator) runExternal(env *shellenv.Env, words []string) Result {
	path, err := lookupExternal(env, words[0])
	if err != nil {
		env.Sys.Write(2, []byte(words[0]+": command not found\n"))
		return Result{Status: 127}
	}

	stdin := fdFile(0)
	stdout := fdFile(1)
	stderr := fdFile(2)

	j, err := e.Launcher.External(env.Jobs, strings.Join(words, " "), path, words, env.Vars.Environ(), stdin, stdout, stderr, subshell.Options{
		JobControlled: env.Config.Monitor,
		Foreground:    true,
	})
	if err != nil {
		log.Debugf("launch %s: %v", path, err)
		env.Sys.Write(2, []byte(path+": "+err.Error()+"\n"))
		return Result{Status: 126}
	}
	return e.waitForeground(env, j)
}

// fdFile wraps an already-open fd as an *os.File for handoff to
// os/exec without dup'ing it.
func fdFile(fd int) *os.File {
	return os.NewFile(uintptr(fd), fmt.Sprintf("fd%d", fd))
}

// waitForeground blocks for j to finish, running any traps that fire in
// the interim at the safe points immediately before and after the wait,
// per the drain-then-block wait loop (collapsed here to a single
// blocking call, since job.Table.Wait owns its own retry loop).
func (e *Evaluator) waitForeground(env *shellenv.Env, j *job.Job) Result {
	if d := e.RunPendingTraps(env); d.Kind == divert.Interrupt {
		return Result{Status: env.Status, Divert: d}
	}
	res, err := env.Jobs.WaitForeground(context.Background(), j.ID)
	if d := e.RunPendingTraps(env); d.Kind == divert.Interrupt {
		return Result{Status: env.Status, Divert: d}
	}
	if err != nil {
		return Result{Status: 1}
	}
	status := res.EncodedStatus()
	// A finished foreground command was explicitly waited for; it never
	// lingers in the table the way a background job does; removal
	// happens on reporting or an explicit wait. A stopped
	// one stays, newly promoted to the current job.
	if res.State.Terminal() {
		env.Jobs.Remove(j.ID)
	}
	return Result{Status: status}
}

// RunPendingTraps executes every trap whose signal fired since the last
// call, in signal-number order. It returns the divert that
// should propagate: the last trap body's own divert if any fired, else
// Interrupt if the shell is interactive and at least one signal with a
// user action was drained, so the interrupt unwinds to the
// read-eval loop only after the trap has run.
func (e *Evaluator) RunPendingTraps(env *shellenv.Env) divert.Divert {
	conds := env.Traps.TakeCaughtConditions()
	result := divert.NoDivert
	ranUserAction := false
	for _, c := range conds {
		action := env.Traps.ActionFor(c)
		if action.Kind != trap.ActionCommand {
			continue
		}
		ranUserAction = true
		res := e.Eval(env, action.Command)
		env.Status = res.Status
		if !res.Divert.IsNone() {
			result = res.Divert
		}
	}
	if ranUserAction && env.Config.Interactive && result.IsNone() {
		result = divert.NewInterrupt()
	}
	return result
}

// --- pipeline -----------------------------------------------------------

func describeCommands(p *ast.Pipeline) string {
	return "pipeline"
}

func (e *Evaluator) evalPipeline(env *shellenv.Env, p *ast.Pipeline, suppressErrexit bool) Result {
	if len(p.Commands) == 1 && !p.Async {
		res := e.eval(env, p.Commands[0], true)
		status := res.Status
		if p.Negate {
			status = negateStatus(status)
		}
		if !res.Divert.IsNone() {
			return Result{Status: status, Divert: res.Divert}
		}
		return e.maybeErrexit(env, Result{Status: status}, suppressErrexit)
	}

	runOnce := func(runEnv *shellenv.Env) int {
		statuses := e.runPipelineStages(runEnv, p.Commands)
		return pipelineStatus(statuses, runEnv.Config.Pipefail, p.Negate)
	}

	if p.Async {
		j, err := e.Launcher.Internal(env, describeCommands(p), subshell.Options{Async: true, JobControlled: env.Config.Monitor}, func(childEnv *shellenv.Env) int {
			return runOnce(childEnv)
		})
		if err == nil {
			e.noteBackgroundJob(env, j)
		}
		return Result{Status: 0}
	}

	status := runOnce(env)
	return e.maybeErrexit(env, Result{Status: status}, suppressErrexit)
}

func negateStatus(status int) int {
	if status == 0 {
		return 1
	}
	return 0
}

func pipelineStatus(statuses []int, pipefail, negate bool) int {
	if len(statuses) == 0 {
		return negateStatus(0)
	}
	status := statuses[len(statuses)-1]
	if pipefail {
		status = 0
		for _, s := range statuses {
			if s != 0 {
				status = s
			}
		}
	}
	if negate {
		status = negateStatus(status)
	}
	return status
}

// runPipelineStages wires n-1 pipes between n commands and runs the
// pipeline in phases. Every member that resolves to an external utility
// is started first, without waiting, so upstream and downstream stages
// run concurrently and share one process group under job control.
// Members that must run in the shell itself (builtins, functions,
// compound commands) then run in index order against the live pipes;
// the shell has one fd table, so those members cannot overlap each
// other, and two in-shell members exchanging more than a pipe buffer is
// the one shape the no-fork accommodation cannot express. Finally all
// external members are waited for together; their completion order is
// arbitrary, and the status vector is assembled per stage afterward.
func (e *Evaluator) runPipelineStages(env *shellenv.Env, commands []ast.Command) []int {
	n := len(commands)
	statuses := make([]int, n)
	type pipeEnds struct{ r, w int }
	pipes := make([]pipeEnds, 0, n-1)
	for i := 0; i < n-1; i++ {
		r, w, err := env.Sys.Pipe()
		if err != nil {
			for _, p := range pipes {
				env.Sys.Close(p.r)
				env.Sys.Close(p.w)
			}
			for j := range statuses {
				statuses[j] = 1
			}
			return statuses
		}
		pipes = append(pipes, pipeEnds{r, w})
	}

	stageIn := func(i int) int {
		if i > 0 {
			return pipes[i-1].r
		}
		return 0
	}
	stageOut := func(i int) int {
		if i < n-1 {
			return pipes[i].w
		}
		return 1
	}

	jobs := make([]*job.Job, n)
	inShell := make([]bool, n)
	pgid := 0
	for i, cmd := range commands {
		status, j, external := e.startExternalStage(env, cmd, stageIn(i), stageOut(i), &pgid)
		if !external {
			inShell[i] = true
			continue
		}
		statuses[i] = status
		jobs[i] = j
	}

	// Release the shell's copies of pipe ends now owned by external
	// children: a write end left open here would rob the downstream
	// reader of EOF. Ends feeding an in-shell member stay open until
	// that member has run.
	for i := 0; i < n-1; i++ {
		if !inShell[i] {
			env.Sys.Close(pipes[i].w)
		}
		if !inShell[i+1] {
			env.Sys.Close(pipes[i].r)
		}
	}

	for i, cmd := range commands {
		if !inShell[i] {
			continue
		}
		statuses[i] = e.runInShellStage(env, cmd, stageIn(i), stageOut(i))
		if i > 0 {
			env.Sys.Close(pipes[i-1].r)
		}
		if i < n-1 {
			env.Sys.Close(pipes[i].w)
		}
	}

	for i, j := range jobs {
		if j == nil {
			continue
		}
		res := e.waitForeground(env, j)
		statuses[i] = res.Status
	}
	return statuses
}

// runInShellStage runs a pipeline member that cannot become its own
// process (a builtin, function, or compound command) against the live
// pipe ends, with a dup2-then-restore of the shell's own stdin/stdout.
func (e *Evaluator) runInShellStage(env *shellenv.Env, cmd ast.Command, stdinFD, stdoutFD int) int {
	savedIn, inErr := env.Sys.Dup(0)
	savedOut, outErr := env.Sys.Dup(1)
	if stdinFD != 0 {
		env.Sys.Dup2(stdinFD, 0)
	}
	if stdoutFD != 1 {
		env.Sys.Dup2(stdoutFD, 1)
	}
	res := e.eval(env, cmd, true)
	if inErr == nil {
		env.Sys.Dup2(savedIn, 0)
		env.Sys.Close(savedIn)
	}
	if outErr == nil {
		env.Sys.Dup2(savedOut, 1)
		env.Sys.Close(savedOut)
	}
	return res.Status
}

// startExternalStage starts a pipeline member that resolves directly to
// an external utility, handing the pipe ends over as Stdin/Stdout via
// os/exec and NOT waiting for it — the caller waits for the whole
// pipeline once every member is running. external is false when cmd
// must run in the shell itself (a special builtin, function, regular
// builtin, or compound command), in which case nothing has started.
func (e *Evaluator) startExternalStage(env *shellenv.Env, cmd ast.Command, stdinFD, stdoutFD int, pgid *int) (status int, j *job.Job, external bool) {
	sc, ok := cmd.(*ast.SimpleCommand)
	if !ok || len(sc.Words) == 0 {
		return 0, nil, false
	}
	words, err := e.expandWords(env, sc.Words, shellapi.ModeSplit)
	if err != nil || len(words) == 0 {
		return 1, nil, true
	}
	name := words[0]
	if e.Special.IsSpecial(name) {
		return 0, nil, false
	}
	if _, ok := env.Funcs.Lookup(name); ok {
		return 0, nil, false
	}
	if e.Builtins != nil {
		if _, ok := e.Builtins.Lookup(name); ok {
			return 0, nil, false
		}
	}
	path, err := lookupExternal(env, name)
	if err != nil {
		env.Sys.Write(2, []byte(name+": command not found\n"))
		return 127, nil, true
	}

	started, err := e.Launcher.External(env.Jobs, strings.Join(words, " "), path, words, env.Vars.Environ(), fdFile(stdinFD), fdFile(stdoutFD), fdFile(2), subshell.Options{
		JobControlled: env.Config.Monitor,
		ExistingPGID:  *pgid,
	})
	if err != nil {
		env.Sys.Write(2, []byte(path+": "+err.Error()+"\n"))
		return 126, nil, true
	}
	if *pgid == 0 {
		*pgid = started.PGID
	}
	return 0, started, true
}

// --- and-or, loops, conditionals, case, func def, sequence -------------

func (e *Evaluator) evalAndOr(env *shellenv.Env, a *ast.AndOr, suppressErrexit bool) Result {
	var last Result
	for i, elem := range a.Elements {
		isLast := i == len(a.Elements)-1
		res := e.eval(env, elem.Command, !isLast || suppressErrexit)
		env.Status = res.Status
		last = res
		if !res.Divert.IsNone() {
			return res
		}
		if isLast {
			break
		}
		if elem.Op == ast.OpAnd && res.Status != 0 {
			return res
		}
		if elem.Op == ast.OpOr && res.Status == 0 {
			return res
		}
	}
	return last
}

func (e *Evaluator) evalBraceGroup(env *shellenv.Env, b *ast.BraceGroup) Result {
	if len(b.Redirections) == 0 {
		return e.Eval(env, b.Body)
	}
	frame, err := redir.Apply(env.Sys, env.Redir, e.Expander, env, env.Config.Noclobber, b.Redirections)
	if err != nil {
		return Result{Status: 1}
	}
	defer frame.Unwind(env.Sys, env.Redir)
	return e.Eval(env, b.Body)
}

func (e *Evaluator) evalSubshell(env *shellenv.Env, s *ast.Subshell) Result {
	var frame *redir.Frame
	if len(s.Redirections) > 0 {
		f, err := redir.Apply(env.Sys, env.Redir, e.Expander, env, env.Config.Noclobber, s.Redirections)
		if err != nil {
			return Result{Status: 1}
		}
		frame = f
		defer frame.Unwind(env.Sys, env.Redir)
	}

	j, err := e.Launcher.Internal(env, "( subshell )", subshell.Options{JobControlled: env.Config.Monitor}, func(childEnv *shellenv.Env) int {
		res := e.Eval(childEnv, s.Body)
		return runExitTrap(e, childEnv, res.Status)
	})
	if err != nil {
		return Result{Status: 1}
	}
	return e.waitForeground(env, j)
}

// runExitTrap executes the EXIT pseudo-trap exactly once, used both by
// a terminating subshell and the read-eval loop.
// An `exit` inside the trap action overrides the original status.
func runExitTrap(e *Evaluator, env *shellenv.Env, status int) int {
	env.Status = status
	action := env.Traps.ActionFor(trap.ExitCondition())
	if action.Kind == trap.ActionCommand && action.Command != nil {
		res := e.Eval(env, action.Command)
		if res.Divert.Kind == divert.Exit {
			if res.Divert.Status != nil {
				return *res.Divert.Status
			}
			return res.Status
		}
	}
	return status
}

// RunExitTrap is runExitTrap exported for internal/readeval's use at
// normal loop termination ("run the EXIT trap exactly once,
// then terminate").
func (e *Evaluator) RunExitTrap(env *shellenv.Env, status int) int {
	return runExitTrap(e, env, status)
}

func (e *Evaluator) evalFor(env *shellenv.Env, f *ast.For) Result {
	var words []string
	if f.HasInClause {
		w, err := e.expandWords(env, f.Words, shellapi.ModeSplit)
		if err != nil {
			return Result{Status: 1}
		}
		words = w
	} else {
		words = env.Positional
	}

	var frame *redir.Frame
	if len(f.Redirections) > 0 {
		fr, err := redir.Apply(env.Sys, env.Redir, e.Expander, env, env.Config.Noclobber, f.Redirections)
		if err != nil {
			return Result{Status: 1}
		}
		frame = fr
		defer frame.Unwind(env.Sys, env.Redir)
	}

	status := 0
	for _, w := range words {
		env.Vars.Set(f.Name, vars.Scalar(w), false)
		res := e.Eval(env, f.Body)
		status = res.Status
		if !res.Divert.IsNone() {
			if consumed, next := res.Divert.Decremented(); res.Divert.Kind == divert.Break {
				if consumed {
					return Result{Status: status}
				}
				return Result{Status: status, Divert: next}
			} else if res.Divert.Kind == divert.Continue {
				if consumed {
					continue
				}
				return Result{Status: status, Divert: next}
			} else {
				return res
			}
		}
	}
	return Result{Status: status}
}

func (e *Evaluator) evalWhile(env *shellenv.Env, w *ast.While) Result {
	var frame *redir.Frame
	if len(w.Redirections) > 0 {
		fr, err := redir.Apply(env.Sys, env.Redir, e.Expander, env, env.Config.Noclobber, w.Redirections)
		if err != nil {
			return Result{Status: 1}
		}
		frame = fr
		defer frame.Unwind(env.Sys, env.Redir)
	}

	status := 0
	for {
		cond := e.eval(env, w.Cond, true)
		if !cond.Divert.IsNone() {
			return cond
		}
		match := cond.Status == 0
		if w.Kind == ast.LoopUntil {
			match = !match
		}
		if !match {
			break
		}
		res := e.Eval(env, w.Body)
		status = res.Status
		if !res.Divert.IsNone() {
			if res.Divert.Kind == divert.Break {
				consumed, next := res.Divert.Decremented()
				if consumed {
					return Result{Status: status}
				}
				return Result{Status: status, Divert: next}
			}
			if res.Divert.Kind == divert.Continue {
				consumed, next := res.Divert.Decremented()
				if consumed {
					continue
				}
				return Result{Status: status, Divert: next}
			}
			return res
		}
	}
	return Result{Status: status}
}

func (e *Evaluator) evalIf(env *shellenv.Env, f *ast.If) Result {
	var frame *redir.Frame
	if len(f.Redirections) > 0 {
		fr, err := redir.Apply(env.Sys, env.Redir, e.Expander, env, env.Config.Noclobber, f.Redirections)
		if err != nil {
			return Result{Status: 1}
		}
		frame = fr
		defer frame.Unwind(env.Sys, env.Redir)
	}

	for _, branch := range f.Branches {
		cond := e.eval(env, branch.Cond, true)
		if !cond.Divert.IsNone() {
			return cond
		}
		if cond.Status == 0 {
			return e.Eval(env, branch.Body)
		}
	}
	if f.Else != nil {
		return e.Eval(env, f.Else)
	}
	return Result{Status: 0}
}

func (e *Evaluator) evalCase(env *shellenv.Env, c *ast.Case) Result {
	var frame *redir.Frame
	if len(c.Redirections) > 0 {
		fr, err := redir.Apply(env.Sys, env.Redir, e.Expander, env, env.Config.Noclobber, c.Redirections)
		if err != nil {
			return Result{Status: 1}
		}
		frame = fr
		defer frame.Unwind(env.Sys, env.Redir)
	}

	words, err := e.expandWords(env, []ast.Word{c.Word}, shellapi.ModeScalar)
	if err != nil || len(words) == 0 {
		return Result{Status: 1}
	}
	subject := words[0]

	status := 0
	for i := 0; i < len(c.Items); i++ {
		item := c.Items[i]
		if !e.caseMatches(env, subject, item.Patterns) {
			continue
		}
		for {
			if item.Body != nil {
				res := e.Eval(env, item.Body)
				status = res.Status
				if !res.Divert.IsNone() {
					return res
				}
			}
			switch item.Terminator {
			case ast.TermFallthrough:
				i++
				if i >= len(c.Items) {
					return Result{Status: status}
				}
				item = c.Items[i]
				continue
			case ast.TermResumeMatch:
				i++
				goto resumeOuter
			default:
				return Result{Status: status}
			}
		}
	resumeOuter:
		for ; i < len(c.Items); i++ {
			if e.caseMatches(env, subject, c.Items[i].Patterns) {
				i--
				break
			}
		}
	}
	return Result{Status: status}
}

func (e *Evaluator) caseMatches(env *shellenv.Env, subject string, patterns []ast.Word) bool {
	for _, p := range patterns {
		expanded, err := e.expandWords(env, []ast.Word{p}, shellapi.ModeGlob)
		if err != nil {
			continue
		}
		for _, pat := range expanded {
			if m, err := e.Expander.Match(pat, subject); err == nil && m {
				return true
			}
		}
	}
	return false
}

func (e *Evaluator) evalFuncDef(env *shellenv.Env, f *ast.FuncDef) Result {
	names, err := e.expandWords(env, []ast.Word{f.Name}, shellapi.ModeScalar)
	if err != nil || len(names) == 0 {
		return Result{Status: 1}
	}
	if err := env.Funcs.Define(names[0], f.Body); err != nil {
		return Result{Status: 1}
	}
	return Result{Status: 0}
}

func (e *Evaluator) evalSequence(env *shellenv.Env, s *ast.Sequence, suppressErrexit bool) Result {
	var last Result
	for _, item := range s.Items {
		if item.Separator == ast.SeparatorAsync {
			if err := e.launchAsyncItem(env, item.Command); err != nil {
				last = Result{Status: 1}
			} else {
				last = Result{Status: 0}
			}
			continue
		}
		res := e.eval(env, item.Command, suppressErrexit)
		env.Status = res.Status
		last = res
		if !res.Divert.IsNone() {
			return res
		}
	}
	return last
}

func (e *Evaluator) launchAsyncItem(env *shellenv.Env, cmd ast.Command) error {
	if !env.Config.Monitor {
		cmd = withNullStdin(cmd)
	}
	if p, ok := cmd.(*ast.Pipeline); ok {
		async := *p
		async.Async = true
		e.evalPipeline(env, &async, true)
		return nil
	}
	j, err := e.Launcher.Internal(env, "async", subshell.Options{Async: true, JobControlled: env.Config.Monitor}, func(childEnv *shellenv.Env) int {
		res := e.Eval(childEnv, cmd)
		return res.Status
	})
	if err != nil {
		return err
	}
	e.noteBackgroundJob(env, j)
	return nil
}

// noteBackgroundJob records `$!` and, in an interactive shell, prints
// the `[n] pid` start notice for a freshly launched background job.
func (e *Evaluator) noteBackgroundJob(env *shellenv.Env, j *job.Job) {
	env.BGPid = j.LeaderPID
	if env.Config.Interactive {
		env.Sys.Write(2, []byte(fmt.Sprintf("[%d] %d\n", j.ID, j.LeaderPID)))
	}
}

// withNullStdin rewrites an async command run without job control to
// read stdin from /dev/null unless it redirects fd 0 itself.
// Only a simple command (or the head of a pipeline) can own
// stdin, so only those shapes are rewritten.
func withNullStdin(cmd ast.Command) ast.Command {
	switch c := cmd.(type) {
	case *ast.SimpleCommand:
		for _, r := range c.Redirections {
			if redirectsStdin(r) {
				return cmd
			}
		}
		cp := *c
		cp.Redirections = append(append([]ast.Redirection(nil), c.Redirections...),
			ast.Redirection{FD: 0, Op: ast.RedirInput, Target: ast.Word{Raw: "/dev/null"}})
		return &cp
	case *ast.Pipeline:
		if len(c.Commands) == 0 {
			return cmd
		}
		cp := *c
		cp.Commands = append([]ast.Command(nil), c.Commands...)
		cp.Commands[0] = withNullStdin(cp.Commands[0])
		return &cp
	default:
		return cmd
	}
}

func redirectsStdin(r ast.Redirection) bool {
	if r.FD == 0 {
		return true
	}
	if r.FD >= 0 {
		return false
	}
	switch r.Op {
	case ast.RedirInput, ast.RedirDupInput, ast.RedirHeredoc, ast.RedirHeredocStrip, ast.RedirHeredocQuoted:
		return true
	default:
		return false
	}
}
