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

// Package possys is the real, POSIX-syscall-backed implementation of
// system.System: direct, errno-checked calls into golang.org/x/sys/unix
// with no silent retries beyond documented EINTR handling.
package possys

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unsafe"

	"github.com/containerd/console"
	"golang.org/x/sys/unix"

	"github.com/posh-shell/posh/internal/logging"
	"github.com/posh-shell/posh/internal/system"
)

var log = logging.Named("possys")

var nameToSignal = map[string]system.Signal{
	"HUP": system.Signal(unix.SIGHUP), "INT": system.Signal(unix.SIGINT),
	"QUIT": system.Signal(unix.SIGQUIT), "ILL": system.Signal(unix.SIGILL),
	"TRAP": system.Signal(unix.SIGTRAP), "ABRT": system.Signal(unix.SIGABRT),
	"BUS": system.Signal(unix.SIGBUS), "FPE": system.Signal(unix.SIGFPE),
	"KILL": system.Signal(unix.SIGKILL), "USR1": system.Signal(unix.SIGUSR1),
	"SEGV": system.Signal(unix.SIGSEGV), "USR2": system.Signal(unix.SIGUSR2),
	"PIPE": system.Signal(unix.SIGPIPE), "ALRM": system.Signal(unix.SIGALRM),
	"TERM": system.Signal(unix.SIGTERM), "CHLD": system.Signal(unix.SIGCHLD),
	"CONT": system.Signal(unix.SIGCONT), "STOP": system.Signal(unix.SIGSTOP),
	"TSTP": system.Signal(unix.SIGTSTP), "TTIN": system.Signal(unix.SIGTTIN),
	"TTOU": system.Signal(unix.SIGTTOU), "WINCH": system.Signal(unix.SIGWINCH),
	"USR": system.Signal(unix.SIGUSR1),
}

var signalToName = func() map[system.Signal]string {
	m := make(map[system.Signal]string, len(nameToSignal))
	for n, s := range nameToSignal {
		if _, exists := m[s]; !exists {
			m[s] = n
		}
	}
	return m
}()

// System is the real, syscall-backed implementation.
type System struct {
	// selfPipeR/W back the bounded-wait primitive: the signal relay
	// writes one byte per arrival here, and Wait selects on it via
	// ppoll.
	selfPipeR, selfPipeW int
	sigCh                chan os.Signal
}

// New creates the self-pipe and the channel caught signals arrive on.
// It relays nothing itself: a signal reaches Signals() once
// SetDisposition installs Catch for it, and the caller's relay
// goroutine forwards it to WakeSelfPipe.
func New() (*System, error) {
	r, w, err := osPipe()
	if err != nil {
		return nil, fmt.Errorf("possys: creating self-pipe: %w", err)
	}
	return &System{selfPipeR: r, selfPipeW: w, sigCh: make(chan os.Signal, 16)}, nil
}

func osPipe() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

func toOpenFlags(f system.OpenFlag) int {
	var o int
	switch {
	case f&system.ORead != 0 && f&system.OWrite != 0:
		o = unix.O_RDWR
	case f&system.OWrite != 0:
		o = unix.O_WRONLY
	default:
		o = unix.O_RDONLY
	}
	if f&system.OAppend != 0 {
		o |= unix.O_APPEND
	}
	if f&system.OCreate != 0 {
		o |= unix.O_CREAT
	}
	if f&system.OTrunc != 0 {
		o |= unix.O_TRUNC
	}
	if f&system.OExcl != 0 {
		o |= unix.O_EXCL
	}
	if f&system.OCloseOnExec != 0 {
		o |= unix.O_CLOEXEC
	}
	return o
}

func (s *System) Open(path string, flags system.OpenFlag, perm uint32) (int, error) {
	fd, err := unix.Open(path, toOpenFlags(flags), perm)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

func (s *System) Dup(fd int) (int, error) {
	return unix.Dup(fd)
}

func (s *System) Dup2(oldFd, newFd int) error {
	return unix.Dup2(oldFd, newFd)
}

func (s *System) Close(fd int) error {
	return unix.Close(fd)
}

func (s *System) Pipe() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func (s *System) GetFlags(fd int) (system.OpenFlag, error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return 0, err
	}
	var out system.OpenFlag
	if flags&unix.O_APPEND != 0 {
		out |= system.OAppend
	}
	switch flags & unix.O_ACCMODE {
	case unix.O_RDONLY:
		out |= system.ORead
	case unix.O_WRONLY:
		out |= system.OWrite
	case unix.O_RDWR:
		out |= system.ORead | system.OWrite
	}
	return out, nil
}

func (s *System) SetFlags(fd int, flags system.OpenFlag) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, toOpenFlags(flags))
	return err
}

func (s *System) Read(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func (s *System) Write(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

func (s *System) IsATTY(fd int) bool {
	_, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	return err == nil
}

// Fork is intentionally unsupported here: the real implementation forks
// through os/exec + unix.SysProcAttr inside internal/subshell, which
// gives each child its own clean goroutine-free address space. A bare fork() in a
// Go process able to run arbitrary goroutines is unsafe, so System.Fork
// exists only for fakesys's deterministic simulation.
func (s *System) Fork() (system.ForkResult, error) {
	return system.ForkResult{}, fmt.Errorf("possys: Fork is not supported directly; use internal/subshell.Launcher")
}

func (s *System) Execve(path string, argv, envv []string) error {
	return unix.Exec(path, argv, envv)
}

func (s *System) Waitpid(pid int, opts system.WaitOptions) (system.WaitResult, error) {
	var flags int
	if opts.NoHang {
		flags |= unix.WNOHANG
	}
	if opts.Untraced {
		flags |= unix.WUNTRACED
	}
	if opts.Continued {
		flags |= unix.WCONTINUED
	}
	var ws unix.WaitStatus
	gotPid, err := unix.Wait4(pid, &ws, flags, nil)
	if err != nil {
		if err == unix.ECHILD {
			return system.WaitResult{NoChild: true}, nil
		}
		return system.WaitResult{}, err
	}
	if gotPid == 0 {
		return system.WaitResult{}, nil
	}
	return system.WaitResult{Pid: gotPid, State: decodeWaitStatus(ws)}, nil
}

func decodeWaitStatus(ws unix.WaitStatus) system.ProcState {
	switch {
	case ws.Exited():
		return system.ProcState{Kind: system.Exited, ExitStatus: ws.ExitStatus()}
	case ws.Signaled():
		return system.ProcState{Kind: system.Signaled, Signal: system.Signal(ws.Signal()), CoreDumped: ws.CoreDump()}
	case ws.Stopped():
		return system.ProcState{Kind: system.Stopped, Signal: system.Signal(ws.StopSignal())}
	default:
		return system.ProcState{Kind: system.Running}
	}
}

func (s *System) Kill(pid int, sig system.Signal) error {
	return unix.Kill(pid, unix.Signal(sig))
}

func (s *System) Getpid() int { return unix.Getpid() }

func (s *System) Getpgrp(pid int) (int, error) {
	return unix.Getpgid(pid)
}

func (s *System) Setpgid(pid, pgid int) error {
	return unix.Setpgid(pid, pgid)
}

func (s *System) TcGetPgrp(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCGPGRP)
}

func (s *System) TcSetPgrp(fd int, pgid int) error {
	return unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgid)
}

func (s *System) Exit(status int) {
	os.Exit(status)
}

// kernelSigaction mirrors the kernel's struct sigaction for
// rt_sigaction(2). golang.org/x/sys/unix wraps the mask calls
// (PthreadSigmask) but not disposition queries, so the query goes
// through the raw syscall.
type kernelSigaction struct {
	handler  uintptr
	flags    uint64
	restorer uintptr
	mask     uint64
}

const (
	handlerDefault uintptr = 0 // SIG_DFL
	handlerIgnore  uintptr = 1 // SIG_IGN
)

func rtSigaction(sig system.Signal, act, oact *kernelSigaction) error {
	// The final literal is the kernel's sigsetsize (bytes in sigset_t).
	_, _, errno := unix.Syscall6(unix.SYS_RT_SIGACTION,
		uintptr(sig),
		uintptr(unsafe.Pointer(act)),
		uintptr(unsafe.Pointer(oact)),
		8, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (s *System) GetDisposition(sig system.Signal) (system.Disposition, error) {
	var oact kernelSigaction
	if err := rtSigaction(sig, nil, &oact); err != nil {
		return system.Default, err
	}
	switch oact.handler {
	case handlerDefault:
		return system.Default, nil
	case handlerIgnore:
		return system.Ignore, nil
	default:
		return system.Catch, nil
	}
}

// SetDisposition installs the effective kernel disposition, honoring a
// mask-then-action / action-then-unmask ordering so no signal is lost
// mid-transition: Catch blocks first, then installs the handler;
// Default/Ignore install first, then unblock. Handler installation
// itself goes through os/signal, which owns the async-signal-safe
// part: the runtime handler only records arrival onto s.sigCh, and all
// real work happens when the embedder drains Signals() at a safe
// point.
func (s *System) SetDisposition(sig system.Signal, d system.Disposition) error {
	osSig := syscall.Signal(sig)
	switch d {
	case system.Catch:
		if err := s.BlockSignal(sig); err != nil {
			return err
		}
		signal.Notify(s.sigCh, osSig)
		return s.UnblockSignal(sig)
	case system.Ignore:
		signal.Ignore(osSig)
		return s.UnblockSignal(sig)
	default:
		signal.Reset(osSig)
		return s.UnblockSignal(sig)
	}
}

// Signals exposes the channel caught signals arrive on. The embedder
// (cmd/posh) drains it, marks arrival in the signal core, and wakes the
// bounded wait via WakeSelfPipe.
func (s *System) Signals() <-chan os.Signal { return s.sigCh }

func (s *System) BlockSignal(sig system.Signal) error {
	var set unix.Sigset_t
	sigaddset(&set, unix.Signal(sig))
	return unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil)
}

func (s *System) UnblockSignal(sig system.Signal) error {
	var set unix.Sigset_t
	sigaddset(&set, unix.Signal(sig))
	return unix.PthreadSigmask(unix.SIG_UNBLOCK, &set, nil)
}

func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	word := (sig - 1) / 64
	bit := uint64(1) << (uint((sig - 1) % 64))
	set.Val[word] |= bit
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

func (s *System) Times() (time.Duration, time.Duration) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		log.Warnf("getrusage failed: %v", err)
		return 0, 0
	}
	return timevalToDuration(ru.Utime), timevalToDuration(ru.Stime)
}

func timevalToDuration(tv unix.Timeval) time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}

func (s *System) Monotonic() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec)*time.Nanosecond
}

// Wait implements the bounded-wait primitive over a self-pipe plus
// caller-supplied fds via ppoll.
func (s *System) Wait(ctx context.Context, watch []int, timeout time.Duration) ([]system.Signal, []int, error) {
	fds := make([]unix.PollFd, 0, len(watch)+1)
	fds = append(fds, unix.PollFd{Fd: int32(s.selfPipeR), Events: unix.POLLIN})
	for _, fd := range watch {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}

	var ts *unix.Timespec
	if timeout > 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	if ctx != nil {
		if dl, ok := ctx.Deadline(); ok {
			remaining := time.Until(dl)
			if remaining < 0 {
				remaining = 0
			}
			t := unix.NsecToTimespec(int64(remaining))
			ts = &t
		}
	}

	n, err := unix.Ppoll(fds, ts, nil)
	if err != nil && err != unix.EINTR {
		return nil, nil, err
	}
	if n <= 0 {
		return nil, nil, nil
	}

	var signals []system.Signal
	var ready []int
	for i, pfd := range fds {
		if pfd.Revents&unix.POLLIN == 0 {
			continue
		}
		if i == 0 {
			buf := make([]byte, 64)
			if m, _ := unix.Read(s.selfPipeR, buf); m > 0 {
				for _, b := range buf[:m] {
					signals = append(signals, system.Signal(b))
				}
			}
			continue
		}
		ready = append(ready, watch[i-1])
	}
	return signals, ready, nil
}

// WakeSelfPipe lets the os/signal relay goroutine (started by the
// caller, since Go's signal delivery is not async-signal-safe from
// inside this package) record an arrival without allocating, matching
// the handler-only-sets-a-flag constraint.
func (s *System) WakeSelfPipe(sig system.Signal) {
	b := byte(sig)
	_, _ = unix.Write(s.selfPipeW, []byte{b})
}

// TerminalSize reports the current terminal dimensions via
// containerd/console. No other package of the shell calls it.
func TerminalSize(fd int) (width, height int, err error) {
	c, err := console.ConsoleFromFile(os.NewFile(uintptr(fd), "tty"))
	if err != nil {
		return 0, 0, err
	}
	sz, err := c.Size()
	if err != nil {
		return 0, 0, err
	}
	return int(sz.Width), int(sz.Height), nil
}

var _ system.System = (*System)(nil)
