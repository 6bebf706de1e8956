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

// Package subshell implements the subshell launcher: it starts a unit
// of work against a cloned Env and registers it in the job table, under
// either job-control or non-job-control policy.
//
// Two kinds of "process" exist here:
//
//   - External utilities need a genuinely new process image, so
//     Launcher.External uses os/exec + unix.SysProcAttr: Setpgid, an
//     explicit target Pgid, Foreground via TcSetPgrp, capability
//     trimming via github.com/syndtr/gocapability before the exec.
//   - Compound-command subshells (`( ... )`, async `&` of a non-simple
//     command) run a Go closure, not another ELF image. A real fork()
//     of a multi-threaded Go runtime is unsafe, so the closure runs
//     in-process against its already-cloned Env, either synchronously
//     (foreground subshell) or on its own goroutine (async), and is
//     still registered in the job table under a synthetic pid so
//     wait/jobs/kill %n behave uniformly.
package subshell

import (
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"

	"github.com/syndtr/gocapability/capability"

	"github.com/posh-shell/posh/internal/job"
	"github.com/posh-shell/posh/internal/logging"
	"github.com/posh-shell/posh/internal/shellenv"
	"github.com/posh-shell/posh/internal/system"
)

var log = logging.Named("subshell")

// Options controls job-control and stdin policy for a launch.
type Options struct {
	JobControlled bool
	Async         bool
	// Foreground requests the terminal be granted to the new process
	// group before waiting: only meaningful when JobControlled and
	// !Async.
	Foreground bool
	// NullStdin redirects stdin to /dev/null, the default for an async
	// command with no redirection of its own in a non-job-controlled
	// shell.
	NullStdin bool
	// ExistingPGID, if non-zero, joins the new process to an existing
	// group instead of starting one (used for pipeline members after
	// the first).
	ExistingPGID int
}

// Launcher owns the synthetic-pid counter for in-process subshells.
// Jobs register into whichever table the caller passes: a subshell's
// own externals belong to the subshell's job table, not its parent's.
type Launcher struct {
	sys      system.System
	nextFake int64
}

func New(sys system.System) *Launcher {
	return &Launcher{sys: sys, nextFake: 1 << 30}
}

// External launches argv[0] as a new process image, resolved to an
// absolute path by the caller (PATH search happens in
// internal/eval, not here). env supplies the already-merged
// export+temporary-assignment environment. The child is reaped by the
// job table's own waitpid drain, never here.
func (l *Launcher) External(jobs *job.Table, commandString string, path string, argv, env []string, stdin, stdout, stderr *os.File, opts Options) (*job.Job, error) {
	cmd := exec.Command(path, argv[1:]...)
	cmd.Path = path
	cmd.Args = argv
	cmd.Env = env
	if opts.NullStdin {
		devnull, err := os.Open(os.DevNull)
		if err != nil {
			return nil, fmt.Errorf("subshell: opening %s: %w", os.DevNull, err)
		}
		defer devnull.Close()
		stdin = devnull
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr

	attr := &syscall.SysProcAttr{}
	if opts.JobControlled {
		attr.Setpgid = true
		attr.Pgid = opts.ExistingPGID
	}
	cmd.SysProcAttr = attr

	dropAmbientCapabilities()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("subshell: starting %s: %w", path, err)
	}

	pgid := opts.ExistingPGID
	if opts.JobControlled && pgid == 0 {
		pgid = cmd.Process.Pid
	}
	if pgid == 0 {
		pgid, _ = l.sys.Getpgrp(l.sys.Getpid())
	}

	j := jobs.Add(pgid, cmd.Process.Pid, commandString, opts.JobControlled)
	if opts.JobControlled && opts.Foreground && !opts.Async {
		if err := l.sys.TcSetPgrp(0, pgid); err != nil {
			log.Debugf("could not grant terminal to pgid %d: %v", pgid, err)
		}
	}
	return j, nil
}

// dropAmbientCapabilities clears the ambient capability set before
// exec'ing an external utility, so a privileged shell never leaks
// ambient capabilities into arbitrary children. Best-effort: a shell
// running unprivileged has nothing to drop, and failures here must
// never block command execution.
func dropAmbientCapabilities() {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return
	}
	if err := caps.Load(); err != nil {
		return
	}
	caps.Clear(capability.AMBIENT)
	_ = caps.Apply(capability.AMBIENT)
}

// Internal runs body (a closure over a freshly-cloned child env) as a
// job-table entry without a real OS process, per the package doc above.
// The job registers in the calling env's own table. For a synchronous
// (non-async) subshell the body runs immediately and the returned job
// is already in a terminal state; for async the body runs on its own
// goroutine and completion is reported through job.Table.ReportInternal,
// folded in at the table's next Drain exactly like a SIGCHLD-driven
// transition for an external job.
func (l *Launcher) Internal(env *shellenv.Env, commandString string, opts Options, body func(*shellenv.Env) int) (*job.Job, error) {
	fakePid := int(atomic.AddInt64(&l.nextFake, 1))
	pgid := fakePid
	if opts.ExistingPGID != 0 {
		pgid = opts.ExistingPGID
	}
	jobs := env.Jobs
	j := jobs.Add(pgid, fakePid, commandString, opts.JobControlled)

	run := func() system.ProcState {
		// CloneForSubshell is the domain-aware value clone:
		// variables, functions, aliases, traps, and fd bookkeeping
		// by value, a fresh job table, never shared references.
		cloned := env.CloneForSubshell()
		status := body(cloned)
		return system.ProcState{Kind: system.Exited, ExitStatus: status & 0xff}
	}

	if opts.Async {
		go func() {
			jobs.ReportInternal(fakePid, run())
		}()
		return j, nil
	}

	jobs.ReportInternal(fakePid, run())
	jobs.Drain()
	return j, nil
}
