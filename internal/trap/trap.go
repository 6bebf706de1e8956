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

// Package trap implements the trap set: an ordered mapping from
// condition (a signal, or a pseudo-condition like EXIT) to the action
// the user has installed, reconciled against internal signal needs
// through sigcore.
package trap

import (
	"fmt"
	"sort"

	"github.com/mohae/deepcopy"

	"github.com/posh-shell/posh/internal/ast"
	"github.com/posh-shell/posh/internal/sigcore"
	"github.com/posh-shell/posh/internal/system"
)

// Condition identifies what a trap is attached to: either a real signal
// or one of the three pseudo-conditions.
type Condition struct {
	Signal system.Signal
	Pseudo Pseudo
}

// Pseudo enumerates the non-signal trap conditions.
type Pseudo int

const (
	NotPseudo Pseudo = iota
	Exit
	Err
	Debug
)

func SignalCondition(sig system.Signal) Condition { return Condition{Signal: sig} }
func ExitCondition() Condition                     { return Condition{Pseudo: Exit} }
func ErrCondition() Condition                      { return Condition{Pseudo: Err} }
func DebugCondition() Condition                    { return Condition{Pseudo: Debug} }

func (c Condition) String() string {
	switch c.Pseudo {
	case Exit:
		return "EXIT"
	case Err:
		return "ERR"
	case Debug:
		return "DEBUG"
	default:
		return fmt.Sprintf("SIG%d", c.Signal)
	}
}

// ActionKind discriminates a trap Action.
type ActionKind int

const (
	ActionDefault ActionKind = iota
	ActionIgnore
	ActionCommand
)

// Action is what runs (or doesn't) when a condition fires.
type Action struct {
	Kind    ActionKind
	Command ast.Command // valid when Kind == ActionCommand
}

// Origin records why a trap has the action it has, needed to answer
// "trap -p" faithfully.
type Origin int

const (
	OriginSetByUser Origin = iota
	OriginInheritedIgnore
	OriginInternal
)

// State is the per-condition trap record.
type State struct {
	Action       Action
	Origin       Origin
	ParentAction *Action
}

// Set is the ordered condition -> State map plus the sigcore.Core it
// reconciles against.
type Set struct {
	core        *sigcore.Core
	sys         system.System
	interactive bool

	order []Condition
	table map[Condition]*State
}

// New creates an empty trap set bound to core. interactive controls
// the "may not set a trap over an inherited Ignore" rule.
func New(core *sigcore.Core, sys system.System, interactive bool) *Set {
	return &Set{core: core, sys: sys, interactive: interactive, table: map[Condition]*State{}}
}

func (s *Set) ensure(cond Condition) *State {
	st, ok := s.table[cond]
	if !ok {
		st = &State{}
		s.table[cond] = st
		s.order = append(s.order, cond)
	}
	return st
}

// Peek queries the condition's state, consulting the System lazily the
// first time so an inherited Ignore disposition is detected.
// Pseudo-conditions have no kernel disposition to query.
func (s *Set) Peek(cond Condition) (*State, error) {
	st, known := s.table[cond]
	if known {
		return st, nil
	}
	st = s.ensure(cond)
	if cond.Pseudo != NotPseudo {
		return st, nil
	}
	d, err := s.core.Peek(cond.Signal)
	if err != nil {
		return nil, fmt.Errorf("trap: peeking %s: %w", cond, err)
	}
	if d == system.Ignore {
		st.Action = Action{Kind: ActionIgnore}
		st.Origin = OriginInheritedIgnore
	}
	return st, nil
}

// SetAction installs action for cond. It fails if the prior disposition
// is Ignore and the shell is non-interactive: a non-interactive shell
// must not override an ignored signal it inherited, since POSIX
// reserves that for the invoker's intent.
func (s *Set) SetAction(cond Condition, action Action) error {
	prior, err := s.Peek(cond)
	if err != nil {
		return err
	}
	if !s.interactive && prior.Origin == OriginInheritedIgnore && cond.Pseudo == NotPseudo {
		return fmt.Errorf("trap: cannot override inherited ignore for %s in a non-interactive shell", cond)
	}

	st := s.ensure(cond)
	st.Action = action
	st.Origin = OriginSetByUser

	if cond.Pseudo != NotPseudo {
		return nil
	}
	switch action.Kind {
	case ActionCommand:
		return s.core.SetUserDisposition(cond.Signal, system.Catch)
	case ActionIgnore:
		return s.core.SetUserDisposition(cond.Signal, system.Ignore)
	default:
		return s.core.SetUserDisposition(cond.Signal, system.Default)
	}
}

// Iter returns conditions with a user-visible action, in a stable order,
// for `trap` invoked with no arguments.
func (s *Set) Iter() []Condition {
	out := make([]Condition, 0, len(s.order))
	for _, c := range s.order {
		st := s.table[c]
		if st.Origin == OriginSetByUser {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return conditionRank(out[i]) < conditionRank(out[j])
	})
	return out
}

func conditionRank(c Condition) int {
	if c.Pseudo != NotPseudo {
		return 1_000_000 + int(c.Pseudo)
	}
	return int(c.Signal)
}

// EnterSubshell returns a child Set for entering a subshell:
// Catch-actions reset to Default except EXIT, which is preserved until
// executed once; ParentAction is snapshotted for `trap -p` reporting in
// the child. Deep-copying the Action (rather than sharing the parent's
// ast.Command pointer) keeps the snapshot immune to later mutation of
// the parent's trap table.
func (s *Set) EnterSubshell() *Set {
	child := New(s.core, s.sys, s.interactive)
	for _, cond := range s.order {
		parent := s.table[cond]
		parentSnapshot := deepcopy.Copy(parent.Action).(Action)

		childState := &State{ParentAction: &parentSnapshot}
		if cond.Pseudo == Exit {
			childState.Action = parent.Action
			childState.Origin = parent.Origin
		} else if parent.Action.Kind == ActionCommand {
			childState.Action = Action{Kind: ActionDefault}
			childState.Origin = OriginSetByUser
		} else {
			childState.Action = parent.Action
			childState.Origin = parent.Origin
		}
		child.table[cond] = childState
		child.order = append(child.order, cond)
	}
	return child
}

// ActionFor returns the action currently installed for cond, or the
// zero Action (Default) if none was ever set.
func (s *Set) ActionFor(cond Condition) Action {
	if st, ok := s.table[cond]; ok {
		return st.Action
	}
	return Action{}
}

// TakeCaughtConditions drains the signal core's caught-signal queue
// (signal-number order) and returns the corresponding
// trap conditions, for the read-eval loop and evaluator to run pending
// trap actions at a safe point.
func (s *Set) TakeCaughtConditions() []Condition {
	sigs := s.core.TakeCaught()
	out := make([]Condition, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, SignalCondition(sig))
	}
	return out
}
