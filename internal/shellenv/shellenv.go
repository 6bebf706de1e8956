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

// Package shellenv defines Env, the bundle of mutable state threaded
// explicitly through evaluation ("the Env value is threaded
// explicitly through evaluation; subshells receive a cloned Env by
// value"). It has no behavior of its own beyond construction and
// cloning; internal/eval, internal/job, and internal/subshell each
// operate on the pieces they own.
package shellenv

import (
	"github.com/posh-shell/posh/internal/alias"
	"github.com/posh-shell/posh/internal/funcs"
	"github.com/posh-shell/posh/internal/job"
	"github.com/posh-shell/posh/internal/redir"
	"github.com/posh-shell/posh/internal/shellconfig"
	"github.com/posh-shell/posh/internal/sigcore"
	"github.com/posh-shell/posh/internal/system"
	"github.com/posh-shell/posh/internal/trap"
	"github.com/posh-shell/posh/internal/vars"
)

// Env is the full shell execution environment.
type Env struct {
	Sys    system.System
	Config *shellconfig.Config

	Vars  *vars.Store
	Funcs *funcs.Table
	Alias *alias.Table
	Traps *trap.Set
	Redir *redir.Table
	Jobs  *job.Table

	Positional []string
	Status     int
	BGPid      int

	// TTYFd is the controlling terminal fd, or -1 if none.
	TTYFd int
}

// New constructs a fresh top-level Env.
func New(sys system.System, cfg *shellconfig.Config, core *sigcore.Core, ttyFD int) *Env {
	return &Env{
		Sys:    sys,
		Config: cfg,
		Vars:   vars.New(),
		Funcs:  funcs.New(),
		Alias:  alias.New(),
		Traps:  trap.New(core, sys, cfg.Interactive),
		Redir:  redir.NewTable(),
		Jobs:   job.NewTable(sys, ttyFD),
		TTYFd:  ttyFD,
	}
}

// CloneForSubshell returns a deep copy of e for a `( ... )` subshell or
// async launch: variables, functions, aliases, redirection bookkeeping,
// and a subshell-reset trap set are cloned by value; the job table is
// intentionally NOT inherited ("do not inherit the job
// table"), so the clone gets a fresh, empty one sharing the same System
// and terminal fd.
func (e *Env) CloneForSubshell() *Env {
	clone := &Env{
		Sys:        e.Sys,
		Config:     e.Config.Clone(),
		Vars:       e.Vars.Clone(),
		Funcs:      e.Funcs.Clone(),
		Alias:      e.Alias.Clone(),
		Traps:      e.Traps.EnterSubshell(),
		Redir:      e.Redir.Clone(),
		Jobs:       job.NewTable(e.Sys, e.TTYFd),
		Positional: append([]string(nil), e.Positional...),
		Status:     e.Status,
		BGPid:      e.BGPid,
		TTYFd:      e.TTYFd,
	}
	return clone
}

// Getvar implements shellapi.ExpansionEnv.
func (e *Env) Getvar(name string) (string, bool, []string, bool) {
	v, ok := e.Vars.Lookup(name)
	if !ok {
		return "", false, nil, false
	}
	if arr, isArr := v.Value.(vars.Array); isArr {
		return "", true, []string(arr), true
	}
	return v.Value.String(), false, nil, true
}

// Getparam implements shellapi.ExpansionEnv ($1, $2, ...; $0 is not part
// of Positional and is handled by the caller).
func (e *Env) Getparam(n int) (string, bool) {
	if n < 1 || n > len(e.Positional) {
		return "", false
	}
	return e.Positional[n-1], true
}

func (e *Env) NumParams() int         { return len(e.Positional) }
func (e *Env) LastStatus() int        { return e.Status }
func (e *Env) LastBackgroundPID() int { return e.BGPid }
