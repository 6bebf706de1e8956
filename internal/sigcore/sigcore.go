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

// Package sigcore owns the reconciliation between user-installed signal
// dispositions and the internal needs the shell itself has (SIGCHLD,
// terminators, stoppers). The effective kernel disposition composes
// from both concerns, so installing a trap and declaring an internal
// need can never clobber one another.
package sigcore

import (
	"fmt"
	"sync"

	"github.com/posh-shell/posh/internal/logging"
	"github.com/posh-shell/posh/internal/system"
)

var log = logging.Named("sigcore")

// need names the internal subsystems that can request a disposition.
type need int

const (
	needSIGCHLD need = iota
	needTerminators
	needStoppers
)

type signalState struct {
	userWants   system.Disposition
	caught      bool
	internalRef map[need]int
}

// Core reconciles, for every signal, the disposition the kernel should
// see given both what the user wants (via trap) and what the shell
// itself needs.
type Core struct {
	sys system.System

	mu     sync.Mutex
	states map[system.Signal]*signalState

	chldSignals      []system.Signal
	terminatorSignals []system.Signal
	stopperSignals    []system.Signal
}

// New creates a Core bound to the given System. The three internal
// signal groups are resolved once at construction, as the System is the
// sole authority mapping names to numbers.
func New(sys system.System) (*Core, error) {
	c := &Core{sys: sys, states: map[system.Signal]*signalState{}}

	groups := []struct {
		names *[]system.Signal
		list  []string
	}{
		{&c.chldSignals, []string{"CHLD"}},
		{&c.terminatorSignals, []string{"INT", "QUIT", "TERM"}},
		{&c.stopperSignals, []string{"TSTP", "TTIN", "TTOU"}},
	}
	for _, g := range groups {
		for _, name := range g.list {
			sig, err := sys.ResolveSignal(name)
			if err != nil {
				return nil, fmt.Errorf("sigcore: resolving SIG%s: %w", name, err)
			}
			*g.names = append(*g.names, sig)
		}
	}
	return c, nil
}

func (c *Core) stateFor(sig system.Signal) *signalState {
	st, ok := c.states[sig]
	if !ok {
		st = &signalState{userWants: system.Default, internalRef: map[need]int{}}
		c.states[sig] = st
	}
	return st
}

// SetUserDisposition records what the user wants for sig (via trap) and
// reconciles. It does not itself decide trap-installation legality
// (non-interactive + prior Ignore); that policy lives in internal/trap.
func (c *Core) SetUserDisposition(sig system.Signal, d system.Disposition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFor(sig).userWants = d
	return c.reconcileLocked(sig)
}

// UserDisposition returns the disposition the user has asked for,
// without the internal-need overlay.
func (c *Core) UserDisposition(sig system.Signal) system.Disposition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateFor(sig).userWants
}

// MarkCaught flags that a signal was observed to arrive (set by the
// async-signal-safe handler; here invoked by cmd/posh's os/signal
// relay goroutine instead, since Go's os/signal already does the
// safe part).
func (c *Core) MarkCaught(sig system.Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFor(sig).caught = true
}

// TakeCaught returns and clears the set of signals observed since the
// last call, in signal-number order (trap actions run in
// signal-number order at the next safe point).
func (c *Core) TakeCaught() []system.Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []system.Signal
	for sig, st := range c.states {
		if st.caught {
			out = append(out, sig)
			st.caught = false
		}
	}
	sortSignals(out)
	return out
}

func sortSignals(s []system.Signal) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// needEnable/needDisable are the idempotent ref-counted internal-need
// toggles.
func (c *Core) needEnable(n need, sig system.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stateFor(sig)
	st.internalRef[n]++
	return c.reconcileLocked(sig)
}

func (c *Core) needDisable(n need, sig system.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stateFor(sig)
	if st.internalRef[n] > 0 {
		st.internalRef[n]--
	}
	return c.reconcileLocked(sig)
}

// NeedSIGCHLD enables or disables the shell's own need to observe child
// status changes (always enabled while the shell runs).
func (c *Core) NeedSIGCHLD(enable bool) error { return c.toggleGroup(needSIGCHLD, c.chldSignals, enable) }

// NeedTerminators enables or disables the shell's internal interest in
// SIGINT/SIGQUIT/SIGTERM (enabled in interactive mode).
func (c *Core) NeedTerminators(enable bool) error {
	return c.toggleGroup(needTerminators, c.terminatorSignals, enable)
}

// NeedStoppers enables or disables SIGTSTP/SIGTTIN/SIGTTOU interest
// (enabled under interactive job control).
func (c *Core) NeedStoppers(enable bool) error {
	return c.toggleGroup(needStoppers, c.stopperSignals, enable)
}

func (c *Core) toggleGroup(n need, sigs []system.Signal, enable bool) error {
	for _, sig := range sigs {
		var err error
		if enable {
			err = c.needEnable(n, sig)
		} else {
			err = c.needDisable(n, sig)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) hasInternalNeedLocked(st *signalState) bool {
	for _, n := range st.internalRef {
		if n > 0 {
			return true
		}
	}
	return false
}

// reconcileLocked implements the central reconciliation rule: Catch if
// either the user wants Catch or the shell needs it internally; Ignore
// if the user explicitly wants Ignore and there is no internal need;
// Default otherwise. Ordering (mask-then-action for Catch,
// action-then-unmask otherwise) is the responsibility of
// System.SetDisposition.
func (c *Core) reconcileLocked(sig system.Signal) error {
	st := c.stateFor(sig)
	internal := c.hasInternalNeedLocked(st)

	var effective system.Disposition
	switch {
	case st.userWants == system.Catch || internal:
		effective = system.Catch
	case st.userWants == system.Ignore && !internal:
		effective = system.Ignore
	default:
		effective = system.Default
	}

	current, err := c.sys.GetDisposition(sig)
	if err != nil {
		return fmt.Errorf("sigcore: querying disposition of %s: %w", c.sys.SignalName(sig), err)
	}
	if current == effective {
		return nil
	}
	log.Debugf("reconcile %s: %s -> %s (user=%s internal=%v)", c.sys.SignalName(sig), current, effective, st.userWants, internal)
	return c.sys.SetDisposition(sig, effective)
}

// Peek queries the System for sig's current disposition without
// changing any state, used by trap.Set.Peek to detect inherited-ignore
// the first time a condition is examined.
func (c *Core) Peek(sig system.Signal) (system.Disposition, error) {
	return c.sys.GetDisposition(sig)
}
