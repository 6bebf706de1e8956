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

package sigcore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/posh-shell/posh/internal/system"
	"github.com/posh-shell/posh/internal/system/fakesys"
)

func TestUserIgnoreWithNoInternalNeedIsEffectiveIgnore(t *testing.T) {
	sys := fakesys.New()
	core, err := New(sys)
	require.NoError(t, err)

	require.NoError(t, core.SetUserDisposition(fakesys.SIGINT, system.Ignore))
	d, err := sys.GetDisposition(fakesys.SIGINT)
	require.NoError(t, err)
	require.Equal(t, system.Ignore, d)
}

func TestInternalNeedOverridesUserIgnore(t *testing.T) {
	sys := fakesys.New()
	core, err := New(sys)
	require.NoError(t, err)

	require.NoError(t, core.SetUserDisposition(fakesys.SIGINT, system.Ignore))
	require.NoError(t, core.NeedTerminators(true))

	d, err := sys.GetDisposition(fakesys.SIGINT)
	require.NoError(t, err)
	require.Equal(t, system.Catch, d)
}

func TestNeedDisableReturnsToUserWant(t *testing.T) {
	sys := fakesys.New()
	core, err := New(sys)
	require.NoError(t, err)

	require.NoError(t, core.SetUserDisposition(fakesys.SIGINT, system.Ignore))
	require.NoError(t, core.NeedTerminators(true))
	require.NoError(t, core.NeedTerminators(false))

	d, err := sys.GetDisposition(fakesys.SIGINT)
	require.NoError(t, err)
	require.Equal(t, system.Ignore, d)
}

func TestNeedRefCountRequiresBalancedDisable(t *testing.T) {
	sys := fakesys.New()
	core, err := New(sys)
	require.NoError(t, err)

	require.NoError(t, core.NeedStoppers(true))
	require.NoError(t, core.NeedStoppers(true))
	require.NoError(t, core.NeedStoppers(false))

	d, err := sys.GetDisposition(fakesys.SIGTSTP)
	require.NoError(t, err)
	require.Equal(t, system.Catch, d, "still ref-counted as needed once")

	require.NoError(t, core.NeedStoppers(false))
	d, err = sys.GetDisposition(fakesys.SIGTSTP)
	require.NoError(t, err)
	require.Equal(t, system.Default, d)
}

func TestMarkCaughtAndTakeCaughtInSignalOrder(t *testing.T) {
	sys := fakesys.New()
	core, err := New(sys)
	require.NoError(t, err)

	core.MarkCaught(fakesys.SIGTERM)
	core.MarkCaught(fakesys.SIGINT)
	got := core.TakeCaught()
	require.Equal(t, []system.Signal{fakesys.SIGINT, fakesys.SIGTERM}, got)

	require.Empty(t, core.TakeCaught())
}

func TestUserDispositionReportsWithoutInternalOverlay(t *testing.T) {
	sys := fakesys.New()
	core, err := New(sys)
	require.NoError(t, err)

	require.NoError(t, core.SetUserDisposition(fakesys.SIGINT, system.Ignore))
	require.NoError(t, core.NeedTerminators(true))
	require.Equal(t, system.Ignore, core.UserDisposition(fakesys.SIGINT))
}
