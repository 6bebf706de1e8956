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

// Package fakesys is a fully in-memory implementation of system.System
// used by every other package's tests: the shell core runs identically
// against a real kernel or this deterministic fake.
package fakesys

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/posh-shell/posh/internal/system"
)

// Well-known signal numbers, matching POSIX values closely enough for
// tests; fakesys does not need to match the host kernel's numbering.
const (
	SIGHUP  system.Signal = 1
	SIGINT  system.Signal = 2
	SIGQUIT system.Signal = 3
	SIGILL  system.Signal = 4
	SIGTRAP system.Signal = 5
	SIGABRT system.Signal = 6
	SIGBUS  system.Signal = 7
	SIGFPE  system.Signal = 8
	SIGKILL system.Signal = 9
	SIGUSR1 system.Signal = 10
	SIGSEGV system.Signal = 11
	SIGUSR2 system.Signal = 12
	SIGPIPE system.Signal = 13
	SIGALRM system.Signal = 14
	SIGTERM system.Signal = 15
	SIGCHLD system.Signal = 17
	SIGCONT system.Signal = 18
	SIGSTOP system.Signal = 19
	SIGTSTP system.Signal = 20
	SIGTTIN system.Signal = 21
	SIGTTOU system.Signal = 22
)

var nameToSignal = map[string]system.Signal{
	"HUP": SIGHUP, "INT": SIGINT, "QUIT": SIGQUIT, "ILL": SIGILL,
	"TRAP": SIGTRAP, "ABRT": SIGABRT, "BUS": SIGBUS, "FPE": SIGFPE,
	"KILL": SIGKILL, "USR1": SIGUSR1, "SEGV": SIGSEGV, "USR2": SIGUSR2,
	"PIPE": SIGPIPE, "ALRM": SIGALRM, "TERM": SIGTERM, "CHLD": SIGCHLD,
	"CONT": SIGCONT, "STOP": SIGSTOP, "TSTP": SIGTSTP, "TTIN": SIGTTIN,
	"TTOU": SIGTTOU,
}

var signalToName = func() map[system.Signal]string {
	m := make(map[system.Signal]string, len(nameToSignal))
	for n, s := range nameToSignal {
		m[s] = n
	}
	return m
}()

type fakeFD struct {
	path   string
	flags  system.OpenFlag
	closed bool
	buf    []byte
	pos    int
}

type fakeProc struct {
	pid    int
	pgid   int
	state  system.ProcState
	waited bool
}

// System is the in-memory system.System implementation.
type System struct {
	mu sync.Mutex

	nextFD  int
	fds     map[int]*fakeFD
	nextPid int
	procs   map[int]*fakeProc
	pgrp    int
	fgpgrp  map[int]int // terminal fd -> foreground pgid

	dispositions map[system.Signal]system.Disposition
	blocked      map[system.Signal]bool
	pending      []system.Signal

	clock time.Duration
}

// New creates a fake System seeded with stdin/stdout/stderr and a shell
// pid of 1 in its own process group.
func New() *System {
	s := &System{
		nextFD:       3,
		fds:          map[int]*fakeFD{0: {path: "/dev/stdin"}, 1: {path: "/dev/stdout"}, 2: {path: "/dev/stderr"}},
		nextPid:      2,
		procs:        map[int]*fakeProc{1: {pid: 1, pgid: 1, state: system.ProcState{Kind: system.Running}}},
		pgrp:         1,
		fgpgrp:       map[int]int{0: 1},
		dispositions: map[system.Signal]system.Disposition{},
		blocked:      map[system.Signal]bool{},
	}
	return s
}

func (s *System) Open(path string, flags system.OpenFlag, _ uint32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flags&system.OExcl != 0 {
		for _, f := range s.fds {
			if f.path == path && !f.closed {
				return -1, fmt.Errorf("open %s: file exists", path)
			}
		}
	}
	fd := s.nextFD
	s.nextFD++
	s.fds[fd] = &fakeFD{path: path, flags: flags}
	return fd, nil
}

func (s *System) Dup(fd int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fds[fd]
	if !ok || f.closed {
		return -1, fmt.Errorf("dup: bad file descriptor %d", fd)
	}
	nfd := s.nextFD
	s.nextFD++
	cp := *f
	s.fds[nfd] = &cp
	return nfd, nil
}

func (s *System) Dup2(oldFd, newFd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fds[oldFd]
	if !ok || f.closed {
		return fmt.Errorf("dup2: bad file descriptor %d", oldFd)
	}
	cp := *f
	s.fds[newFd] = &cp
	return nil
}

func (s *System) Close(fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fds[fd]
	if !ok || f.closed {
		return fmt.Errorf("close: bad file descriptor %d", fd)
	}
	f.closed = true
	delete(s.fds, fd)
	return nil
}

func (s *System) Pipe() (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.nextFD
	s.nextFD++
	w := s.nextFD
	s.nextFD++
	shared := &fakeFD{path: "pipe"}
	s.fds[r] = shared
	wfd := &fakeFD{path: "pipe"}
	s.fds[w] = wfd
	return r, w, nil
}

func (s *System) GetFlags(fd int) (system.OpenFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fds[fd]
	if !ok {
		return 0, fmt.Errorf("bad file descriptor %d", fd)
	}
	return f.flags, nil
}

func (s *System) SetFlags(fd int, flags system.OpenFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fds[fd]
	if !ok {
		return fmt.Errorf("bad file descriptor %d", fd)
	}
	f.flags = flags
	return nil
}

func (s *System) Read(fd int, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fds[fd]
	if !ok || f.closed {
		return 0, fmt.Errorf("bad file descriptor %d", fd)
	}
	n := copy(buf, f.buf[f.pos:])
	f.pos += n
	return n, nil
}

func (s *System) Write(fd int, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fds[fd]
	if !ok || f.closed {
		return 0, fmt.Errorf("bad file descriptor %d", fd)
	}
	f.buf = append(f.buf, buf...)
	return len(buf), nil
}

func (s *System) IsATTY(fd int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.fgpgrp[fd]
	return ok
}

// Fork records a new Running proc; the fake has no real concurrency, so
// the test (standing in for the child's own execution) calls Advance to
// move it to a halted state later.
func (s *System) Fork() (system.ForkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pid := s.nextPid
	s.nextPid++
	s.procs[pid] = &fakeProc{pid: pid, pgid: s.pgrp, state: system.ProcState{Kind: system.Running}}
	return system.ForkResult{Pid: pid, IsChild: false}, nil
}

func (s *System) Execve(string, []string, []string) error {
	return fmt.Errorf("execve not supported on fake system outside a forked child")
}

// Advance moves a pid to a new ProcState, creating the proc entry if
// the pid was never Fork'd; it is the fake's stand-in for an
// asynchronous SIGCHLD-reported transition.
func (s *System) Advance(pid int, st system.ProcState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok {
		p = &fakeProc{pid: pid, pgid: pid}
		s.procs[pid] = p
	}
	p.state = st
	p.waited = false
	if st.Kind != system.Running {
		s.pending = append(s.pending, SIGCHLD)
	}
}

// SeedPgid is a test helper to seed a child's process group directly.
func (s *System) SeedPgid(pid, pgid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.procs[pid]; ok {
		p.pgid = pgid
	}
}

func (s *System) Waitpid(pid int, opts system.WaitOptions) (system.WaitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.matchingPids(pid)
	if len(candidates) == 0 {
		return system.WaitResult{NoChild: true}, nil
	}
	sort.Ints(candidates)
	for _, cpid := range candidates {
		p := s.procs[cpid]
		if p.waited {
			continue
		}
		switch p.state.Kind {
		case system.Exited, system.Signaled:
			p.waited = true
			delete(s.procs, cpid)
			return system.WaitResult{Pid: cpid, State: p.state}, nil
		case system.Stopped:
			if opts.Untraced {
				p.waited = true
				return system.WaitResult{Pid: cpid, State: p.state}, nil
			}
		case system.Running:
			if p.state.Kind == system.Running && opts.Continued {
				// no continued-tracking in the fake beyond Running
			}
		}
	}
	return system.WaitResult{}, nil
}

func (s *System) matchingPids(pid int) []int {
	var out []int
	switch {
	case pid == -1:
		for p := range s.procs {
			out = append(out, p)
		}
	case pid < -1:
		want := -pid
		for p, proc := range s.procs {
			if proc.pgid == want {
				out = append(out, p)
			}
		}
	default:
		if _, ok := s.procs[pid]; ok {
			out = append(out, pid)
		}
	}
	return out
}

func (s *System) Kill(pid int, sig system.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sig == 0 {
		if _, ok := s.procs[pid]; !ok {
			return fmt.Errorf("kill: no such process %d", pid)
		}
		return nil
	}
	for _, cpid := range s.matchingPids(pid) {
		p := s.procs[cpid]
		switch sig {
		case SIGSTOP, SIGTSTP:
			p.state = system.ProcState{Kind: system.Stopped, Signal: sig}
		case SIGCONT:
			p.state = system.ProcState{Kind: system.Running}
		case SIGKILL, SIGTERM, SIGINT, SIGQUIT:
			p.state = system.ProcState{Kind: system.Signaled, Signal: sig}
		}
		p.waited = false
		s.pending = append(s.pending, SIGCHLD)
	}
	return nil
}

func (s *System) Getpid() int { return 1 }

func (s *System) Getpgrp(pid int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pid == 1 {
		return s.pgrp, nil
	}
	p, ok := s.procs[pid]
	if !ok {
		return 0, fmt.Errorf("no such process %d", pid)
	}
	return p.pgid, nil
}

func (s *System) Setpgid(pid, pgid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pgid == 0 {
		pgid = pid
	}
	if p, ok := s.procs[pid]; ok {
		p.pgid = pgid
		return nil
	}
	if pid == 1 {
		s.pgrp = pgid
		return nil
	}
	return fmt.Errorf("no such process %d", pid)
}

func (s *System) TcGetPgrp(fd int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pg, ok := s.fgpgrp[fd]
	if !ok {
		return 0, fmt.Errorf("not a controlling terminal: fd %d", fd)
	}
	return pg, nil
}

func (s *System) TcSetPgrp(fd int, pgid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fgpgrp[fd]; !ok {
		return fmt.Errorf("not a controlling terminal: fd %d", fd)
	}
	s.fgpgrp[fd] = pgid
	return nil
}

func (s *System) Exit(int) {}

func (s *System) GetDisposition(sig system.Signal) (system.Disposition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dispositions[sig]; ok {
		return d, nil
	}
	return system.Default, nil
}

func (s *System) SetDisposition(sig system.Signal, d system.Disposition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == system.Catch {
		s.blocked[sig] = true
	}
	s.dispositions[sig] = d
	if d != system.Catch {
		s.blocked[sig] = false
	}
	return nil
}

func (s *System) BlockSignal(sig system.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[sig] = true
	return nil
}

func (s *System) UnblockSignal(sig system.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[sig] = false
	return nil
}

func (s *System) ResolveSignal(name string) (system.Signal, error) {
	if sig, ok := nameToSignal[name]; ok {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal: %s", name)
}

func (s *System) SignalName(sig system.Signal) string {
	if n, ok := signalToName[sig]; ok {
		return n
	}
	return fmt.Sprintf("SIG%d", sig)
}

func (s *System) Times() (time.Duration, time.Duration) { return 0, 0 }

func (s *System) Monotonic() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock += time.Millisecond
	return s.clock
}

// Raise lets a test inject an asynchronous signal delivery, simulating
// a handler having recorded an arrival flag.
func (s *System) Raise(sig system.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, sig)
}

func (s *System) Wait(ctx context.Context, watch []int, timeout time.Duration) ([]system.Signal, []int, error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if len(pending) > 0 {
		return pending, nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}
	return nil, nil, nil
}

var _ system.System = (*System)(nil)
