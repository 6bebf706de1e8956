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

// Package job implements the job table: an indexed list of jobs with
// current/previous designations, %-spec resolution, and a wait loop
// that drains WNOHANG-style checks through github.com/cenkalti/backoff
// instead of blocking forever in the kernel.
package job

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/posh-shell/posh/internal/logging"
	"github.com/posh-shell/posh/internal/system"
)

var log = logging.Named("job")

// State is a job's lifecycle state.
type State int

const (
	Running State = iota
	Stopped
	Exited
	Signaled
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Exited:
		return "Done"
	case Signaled:
		return "Terminated"
	default:
		return "Unknown"
	}
}

func (s State) Halted() bool { return s != Running }

// Terminal reports whether the job has finished for good (Exited or
// Signaled), as opposed to being merely Stopped.
func (s State) Terminal() bool { return s == Exited || s == Signaled }

// ID is a job number, unique while the job lives and reused only
// after removal.
type ID int

// Job is one job-table entry.
type Job struct {
	ID            ID
	PGID          int
	LeaderPID     int
	CommandString string
	State         State
	Expected      State
	JobControlled bool
	Reported      bool

	lastSignal system.Signal
	exitStatus int
}

// EncodedStatus returns the job's wait status, encoding a
// signal-terminated job as 256+signal so the full result survives
// propagation through 8-bit exit statuses. A stopped job reports the stop signal the
// same way, so the caller can tell which signal suspended it.
func (j *Job) EncodedStatus() int {
	if j.State == Signaled || j.State == Stopped {
		return 256 + int(j.lastSignal)
	}
	return j.exitStatus
}

// DeliveryMode selects how Signal routes a signal: to the leader
// process alone, to the whole process group, or to whichever group
// currently owns the terminal.
type DeliveryMode int

const (
	ToProcess DeliveryMode = iota
	ToProcessGroup
	ToForegroundGroup
)

// Table is the job table.
type Table struct {
	sys    system.System
	ttyFD  int
	jobs   map[ID]*Job
	nextID ID

	current  ID
	previous ID

	pollInterval time.Duration

	// internal holds state transitions reported by in-process subshell
	// closures (synthetic pids the kernel knows nothing about). The map
	// is the only part of the table touched from another goroutine, so
	// it has its own lock; Drain folds entries into the table proper at
	// the shell task's next safe point.
	mu       sync.Mutex
	internal map[int]system.ProcState
}

// NewTable creates an empty job table. ttyFD is the controlling
// terminal's fd, used for foreground-group signal delivery and -1 if
// the shell has no controlling terminal.
func NewTable(sys system.System, ttyFD int) *Table {
	return &Table{sys: sys, ttyFD: ttyFD, jobs: map[ID]*Job{}, nextID: 1, pollInterval: 20 * time.Millisecond, internal: map[int]system.ProcState{}}
}

// SetPollInterval tunes the wait loop's backoff between drains,
// surfaced as the job_poll_interval_ms option in shellconfig.
func (t *Table) SetPollInterval(d time.Duration) {
	if d > 0 {
		t.pollInterval = d
	}
}

// Add registers a newly launched job and updates the current/previous
// designations.
func (t *Table) Add(pgid, leaderPID int, commandString string, jobControlled bool) *Job {
	id := t.nextID
	t.nextID++
	j := &Job{ID: id, PGID: pgid, LeaderPID: leaderPID, CommandString: commandString, State: Running, Expected: Running, JobControlled: jobControlled}
	t.jobs[id] = j
	t.promote(id)
	return j
}

// promote implements the designation rule: on stop, the stopped job
// becomes current and the old current becomes previous; on
// resume/remove, reassign so current is stopped whenever any stopped
// job exists.
func (t *Table) promote(id ID) {
	if t.current != id {
		t.previous = t.current
	}
	t.current = id
	t.fixupInvariant()
}

func (t *Table) fixupInvariant() {
	anyStopped := false
	for _, j := range t.jobs {
		if j.State == Stopped {
			anyStopped = true
			break
		}
	}
	if cur, ok := t.jobs[t.current]; anyStopped && (!ok || cur.State != Stopped) {
		for id, j := range t.jobs {
			if j.State == Stopped {
				if t.current != id {
					t.previous = t.current
				}
				t.current = id
				break
			}
		}
	}
	if t.previous == t.current {
		for id := range t.jobs {
			if id != t.current {
				t.previous = id
				break
			}
		}
	}
}

// Remove deletes a job from the table; callers only do this after
// automatic reporting (interactive, before the next prompt) or an
// explicit jobs/wait query.
func (t *Table) Remove(id ID) {
	delete(t.jobs, id)
	if t.current == id || t.previous == id {
		t.reassignDesignations()
	}
}

func (t *Table) reassignDesignations() {
	ids := t.sortedIDs()
	t.current, t.previous = 0, 0
	for _, id := range ids {
		t.promote(id)
	}
}

func (t *Table) sortedIDs() []ID {
	ids := make([]ID, 0, len(t.jobs))
	for id := range t.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get returns the job with the given id.
func (t *Table) Get(id ID) (*Job, bool) {
	j, ok := t.jobs[id]
	return j, ok
}

// Current and Previous report the `+` and `-` designated jobs.
func (t *Table) Current() (*Job, bool)  { return t.lookup(t.current) }
func (t *Table) Previous() (*Job, bool) { return t.lookup(t.previous) }

func (t *Table) lookup(id ID) (*Job, bool) {
	j, ok := t.jobs[id]
	return j, ok
}

// All returns every job, sorted by ID.
func (t *Table) All() []*Job {
	out := make([]*Job, 0, len(t.jobs))
	for _, id := range t.sortedIDs() {
		out = append(out, t.jobs[id])
	}
	return out
}

// Resolve implements the %-job-ID grammar: %%/%+ current,
// %- previous, %n by number, %name/%?name by command-string
// prefix/substring.
func (t *Table) Resolve(spec string) (*Job, error) {
	spec = strings.TrimPrefix(spec, "%")
	switch spec {
	case "", "%", "+":
		if j, ok := t.Current(); ok {
			return j, nil
		}
		return nil, fmt.Errorf("no current job")
	case "-":
		if j, ok := t.Previous(); ok {
			return j, nil
		}
		return nil, fmt.Errorf("no previous job")
	}
	if strings.HasPrefix(spec, "?") {
		needle := spec[1:]
		for _, j := range t.All() {
			if strings.Contains(j.CommandString, needle) {
				return j, nil
			}
		}
		return nil, fmt.Errorf("no job matches %%?%s", needle)
	}
	var n int
	if _, err := fmt.Sscanf(spec, "%d", &n); err == nil {
		if j, ok := t.Get(ID(n)); ok {
			return j, nil
		}
		return nil, fmt.Errorf("no such job %%%d", n)
	}
	for _, j := range t.All() {
		if strings.HasPrefix(j.CommandString, spec) {
			return j, nil
		}
	}
	return nil, fmt.Errorf("no job matches %%%s", spec)
}

// ReportInternal records a state transition for an in-process subshell
// closure, keyed by its synthetic leader pid. Safe to call from the
// goroutine running an async closure; the table itself is only mutated
// when Drain folds the report in.
func (t *Table) ReportInternal(pid int, st system.ProcState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.internal[pid] = st
}

func (t *Table) takeInternal(pid int) (system.ProcState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.internal[pid]
	if ok {
		delete(t.internal, pid)
	}
	return st, ok
}

// FindByPID returns the job whose leader pid is pid, used by `wait`
// with a pid operand and by `$!` bookkeeping.
func (t *Table) FindByPID(pid int) (*Job, bool) {
	for _, id := range t.sortedIDs() {
		if t.jobs[id].LeaderPID == pid {
			return t.jobs[id], true
		}
	}
	return nil, false
}

// Drain performs one non-blocking waitpid sweep over all tracked jobs,
// updating the table with every transition. Jobs are visited, and the
// changed ones returned, in job-id order.
// Waiting targets each job's leader pid rather than -pgid so that one
// job's drain can never reap and misattribute a sibling job's process.
func (t *Table) Drain() []*Job {
	var changed []*Job
	for _, id := range t.sortedIDs() {
		j := t.jobs[id]
		if j.State.Terminal() {
			continue
		}
		if st, ok := t.takeInternal(j.LeaderPID); ok {
			t.applyTransition(j, st)
			changed = append(changed, j)
			continue
		}
		res, err := t.sys.Waitpid(j.LeaderPID, system.WaitOptions{NoHang: true, Untraced: true, Continued: true})
		if err != nil || res.NoChild || res.Pid == 0 {
			continue
		}
		t.applyTransition(j, res.State)
		changed = append(changed, j)
	}
	return changed
}

func (t *Table) applyTransition(j *Job, ps system.ProcState) {
	switch ps.Kind {
	case system.Exited:
		j.State = Exited
		j.exitStatus = ps.ExitStatus
		j.Reported = false
		t.promoteAfterHalt(j)
	case system.Signaled:
		j.State = Signaled
		j.lastSignal = ps.Signal
		j.Reported = false
		t.promoteAfterHalt(j)
	case system.Stopped:
		j.State = Stopped
		j.lastSignal = ps.Signal
		j.Reported = false
		t.promote(j.ID)
	case system.Running:
		if j.State != Running {
			j.State = Running
			t.promote(j.ID)
		}
	}
}

func (t *Table) promoteAfterHalt(j *Job) {
	t.fixupInvariant()
}

// Wait blocks until every job in ids reaches a terminal state (Exited
// or Signaled), draining then polling: drain via
// WNOHANG, then block on the System's bounded wait (here approximated by
// a constant backoff), repeating until done or ctx is canceled.
func (t *Table) Wait(ctx context.Context, ids ...ID) ([]*Job, error) {
	return t.waitUntil(ctx, func(j *Job) bool { return j.State.Terminal() }, ids...)
}

// WaitForeground blocks until the job halts: a foreground wait is
// satisfied by a stop as well as a termination, since a stopped
// foreground job hands the terminal back to the shell.
func (t *Table) WaitForeground(ctx context.Context, id ID) (*Job, error) {
	results, err := t.waitUntil(ctx, func(j *Job) bool { return j.State.Halted() }, id)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func (t *Table) waitUntil(ctx context.Context, done func(*Job) bool, ids ...ID) ([]*Job, error) {
	results := make([]*Job, 0, len(ids))
	bo := backoff.WithContext(backoff.NewConstantBackOff(t.pollInterval), ctx)

	op := func() error {
		t.Drain()
		results = results[:0]
		allDone := true
		for _, id := range ids {
			j, ok := t.Get(id)
			if !ok {
				// Already reported-and-removed: the last status is not
				// recoverable, so this is a caller error.
				return backoff.Permanent(fmt.Errorf("wait: no such job %%%d", id))
			}
			results = append(results, j)
			if !done(j) {
				allDone = false
			}
		}
		if !allDone {
			return fmt.Errorf("jobs still running")
		}
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return results, nil
}

// Signal sends sig to the job per the DeliveryMode.
func (t *Table) Signal(id ID, sig system.Signal, mode DeliveryMode) error {
	j, ok := t.Get(id)
	if !ok {
		return fmt.Errorf("signal: no such job %%%d", id)
	}
	log.Debugf("signal job %%%d (pgid=%d): %s mode=%v", id, j.PGID, t.sys.SignalName(sig), mode)
	switch mode {
	case ToProcess:
		return t.sys.Kill(j.LeaderPID, sig)
	case ToProcessGroup:
		return t.sys.Kill(-j.PGID, sig)
	case ToForegroundGroup:
		if t.ttyFD < 0 {
			return t.sys.Kill(-j.PGID, sig)
		}
		fg, err := t.sys.TcGetPgrp(t.ttyFD)
		if err != nil {
			return t.sys.Kill(-j.PGID, sig)
		}
		return t.sys.Kill(-fg, sig)
	default:
		return fmt.Errorf("signal: unknown delivery mode %v", mode)
	}
}
