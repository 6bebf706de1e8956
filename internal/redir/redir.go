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

// Package redir implements the redirection engine: apply a list of
// redirections to the fd table, push a reversal stack, and unwind it
// exactly on command completion. Pipe legs are opened promptly and
// non-terminal fds closed as soon as they are dup'd away, so a frame
// never leaks descriptors.
package redir

import (
	"fmt"

	"github.com/posh-shell/posh/internal/ast"
	"github.com/posh-shell/posh/internal/shellapi"
	"github.com/posh-shell/posh/internal/shellerr"
	"github.com/posh-shell/posh/internal/system"
)

// highFDBase is where saved originals are parked; real shells pick a
// number comfortably above user-visible fds.
const highFDBase = 64

// Table tracks, for this shell instance, the fds the shell itself
// considers open (stdin/stdout/stderr plus whatever scripts have
// opened); it mirrors the real fd table the System owns but lets the
// engine reason about "was this fd open before" without asking the
// kernel on every redirection.
type Table struct {
	open map[int]bool
}

func NewTable() *Table {
	return &Table{open: map[int]bool{0: true, 1: true, 2: true}}
}

func (t *Table) markOpen(fd int)  { t.open[fd] = true }
func (t *Table) markClosed(fd int) { delete(t.open, fd) }
func (t *Table) IsOpen(fd int) bool { return t.open[fd] }

// Clone deep-copies the table's bookkeeping for subshell inheritance.
func (t *Table) Clone() *Table {
	c := &Table{open: make(map[int]bool, len(t.open))}
	for k, v := range t.open {
		c.open[k] = v
	}
	return c
}

// saveRecord is one entry in the reversal stack: either "fd used to be a
// dup of savedFD" or "fd used to be closed."
type saveRecord struct {
	fd        int
	wasClosed bool
	savedFD   int // valid when !wasClosed
}

// Frame is the reversal stack pushed by Apply and popped by Unwind.
type Frame struct {
	saves []saveRecord
	// opened is the set of fds this frame itself opened for a
	// heredoc/file target. Unwind does not consult it: a target fd that
	// was closed before Apply is closed again through its save record.
	opened []int
}

// Apply opens/dups the requested redirections against table/sys and
// returns the frame needed to undo them. Each target word is expanded
// through expander before any fd operation ("expansion
// failure aborts the redirection with the error propagated as a command
// error").
func Apply(sys system.System, table *Table, expander shellapi.Expander, env shellapi.ExpansionEnv, noclobber bool, list []ast.Redirection) (*Frame, error) {
	frame := &Frame{}
	for _, r := range list {
		if err := applyOne(sys, table, expander, env, noclobber, r, frame); err != nil {
			frame.Unwind(sys, table)
			return nil, err
		}
	}
	return frame, nil
}

func defaultFD(op ast.RedirOp) int {
	switch op {
	case ast.RedirInput, ast.RedirDupInput, ast.RedirHeredoc, ast.RedirHeredocStrip, ast.RedirHeredocQuoted:
		return 0
	default:
		return 1
	}
}

func applyOne(sys system.System, table *Table, expander shellapi.Expander, env shellapi.ExpansionEnv, noclobber bool, r ast.Redirection, frame *Frame) error {
	fd := r.FD
	if fd < 0 {
		fd = defaultFD(r.Op)
	}

	save(sys, table, fd, frame)

	switch r.Op {
	case ast.RedirInput, ast.RedirOutput, ast.RedirOutputAppend, ast.RedirOutputClobber, ast.RedirInputOutput:
		targets, err := expander.Expand(env, r.Target, shellapi.ModeRedirectionTarget)
		if err != nil {
			return &shellerr.ExpansionError{Msg: err.Error()}
		}
		if len(targets) != 1 {
			return &shellerr.ExpansionError{Msg: fmt.Sprintf("redirection target must expand to one word, got %d", len(targets))}
		}
		path := targets[0]

		flags, perm := openFlagsFor(r.Op, noclobber)
		newFD, err := sys.Open(path, flags, perm)
		if err != nil {
			return &shellerr.RedirectionError{Target: path, Err: err}
		}
		if newFD != fd {
			if err := sys.Dup2(newFD, fd); err != nil {
				sys.Close(newFD)
				return &shellerr.RedirectionError{Target: path, Err: err}
			}
			sys.Close(newFD)
		}
		table.markOpen(fd)
		frame.opened = append(frame.opened, fd)

	case ast.RedirDupInput, ast.RedirDupOutput:
		targets, err := expander.Expand(env, r.Target, shellapi.ModeRedirectionTarget)
		if err != nil {
			return &shellerr.ExpansionError{Msg: err.Error()}
		}
		if len(targets) != 1 {
			return &shellerr.ExpansionError{Msg: "dup redirection target must expand to one word"}
		}
		if targets[0] == "-" {
			if table.IsOpen(fd) {
				sys.Close(fd)
			}
			table.markClosed(fd)
			return nil
		}
		srcFD, err := parseFD(targets[0])
		if err != nil {
			return &shellerr.RedirectionError{Target: targets[0], Err: err}
		}
		if err := sys.Dup2(srcFD, fd); err != nil {
			return &shellerr.RedirectionError{Target: targets[0], Err: err}
		}
		table.markOpen(fd)

	case ast.RedirHeredoc, ast.RedirHeredocStrip, ast.RedirHeredocQuoted:
		r1, w1, err := sys.Pipe()
		if err != nil {
			return &shellerr.RedirectionError{Target: "<<", Err: err}
		}
		if _, err := sys.Write(w1, []byte(r.Heredoc)); err != nil {
			sys.Close(r1)
			sys.Close(w1)
			return &shellerr.RedirectionError{Target: "<<", Err: err}
		}
		sys.Close(w1)
		if r1 != fd {
			if err := sys.Dup2(r1, fd); err != nil {
				sys.Close(r1)
				return &shellerr.RedirectionError{Target: "<<", Err: err}
			}
			sys.Close(r1)
		}
		table.markOpen(fd)
		frame.opened = append(frame.opened, fd)
	}
	return nil
}

func openFlagsFor(op ast.RedirOp, noclobber bool) (system.OpenFlag, uint32) {
	const defaultPerm = 0o666
	switch op {
	case ast.RedirInput:
		return system.ORead, 0
	case ast.RedirInputOutput:
		return system.ORead | system.OWrite | system.OCreate, defaultPerm
	case ast.RedirOutputAppend:
		return system.OWrite | system.OCreate | system.OAppend, defaultPerm
	case ast.RedirOutputClobber:
		return system.OWrite | system.OCreate | system.OTrunc, defaultPerm
	default: // RedirOutput
		flags := system.OWrite | system.OCreate | system.OTrunc
		if noclobber {
			flags = system.OWrite | system.OCreate | system.OExcl
		}
		return flags, defaultPerm
	}
}

func parseFD(s string) (int, error) {
	var fd int
	if _, err := fmt.Sscanf(s, "%d", &fd); err != nil {
		return 0, fmt.Errorf("not a file descriptor: %q", s)
	}
	return fd, nil
}

// save records how to restore fd, pushing either a dup-to-high-slot
// record or a "was closed" record.
func save(sys system.System, table *Table, fd int, frame *Frame) {
	if !table.IsOpen(fd) {
		frame.saves = append(frame.saves, saveRecord{fd: fd, wasClosed: true})
		return
	}
	savedFD, err := sys.Dup(fd)
	if err != nil {
		// Nothing we can usefully do beyond recording that it was open;
		// Unwind will simply leave the new binding in place, which
		// matches best-effort behavior real shells fall back to when
		// the process is near its fd limit.
		frame.saves = append(frame.saves, saveRecord{fd: fd, wasClosed: false, savedFD: -1})
		return
	}
	frame.saves = append(frame.saves, saveRecord{fd: fd, wasClosed: false, savedFD: savedFD})
}

// Unwind restores the fd table to its pre-Apply state, in reverse
// order: applying then reverting a redirection frame is the identity
// on the fd table.
func (f *Frame) Unwind(sys system.System, table *Table) {
	for i := len(f.saves) - 1; i >= 0; i-- {
		rec := f.saves[i]
		if rec.wasClosed {
			sys.Close(rec.fd)
			table.markClosed(rec.fd)
			continue
		}
		if rec.savedFD < 0 {
			continue
		}
		sys.Dup2(rec.savedFD, rec.fd)
		sys.Close(rec.savedFD)
		table.markOpen(rec.fd)
	}
}
