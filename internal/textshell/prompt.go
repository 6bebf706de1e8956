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

package textshell

import (
	"github.com/posh-shell/posh/internal/shellapi"
)

// Prompt renders PS1/PS2/PS4 as the literal strings POSIX specifies as
// defaults (`$ ` for a non-root PS1, `> ` for PS2, `+ ` for PS4),
// without the `!`/`$`-history-number substitution a full prompt engine
// would do; that substitution is parser/expander territory out of
// scope here.
type Prompt struct {
	Root bool
}

func NewPrompt(root bool) *Prompt { return &Prompt{Root: root} }

func (p *Prompt) NextPrompt(_ shellapi.ExpansionEnv, kind shellapi.PromptKind) string {
	switch kind {
	case shellapi.PS2:
		return "> "
	case shellapi.PS4:
		return "+ "
	default:
		if p.Root {
			return "# "
		}
		return "$ "
	}
}
