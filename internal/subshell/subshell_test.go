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

package subshell

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/posh-shell/posh/internal/shellconfig"
	"github.com/posh-shell/posh/internal/shellenv"
	"github.com/posh-shell/posh/internal/sigcore"
	"github.com/posh-shell/posh/internal/system/fakesys"
	"github.com/posh-shell/posh/internal/vars"
)

func newEnv(t *testing.T) (*shellenv.Env, *fakesys.System) {
	t.Helper()
	sys := fakesys.New()
	core, err := sigcore.New(sys)
	require.NoError(t, err)
	return shellenv.New(sys, shellconfig.Default(), core, -1), sys
}

func TestInternalSyncReportsExitStatus(t *testing.T) {
	env, sys := newEnv(t)
	l := New(sys)

	j, err := l.Internal(env, "( exit 7 )", Options{}, func(*shellenv.Env) int { return 7 })
	require.NoError(t, err)

	got, ok := env.Jobs.Get(j.ID)
	require.True(t, ok)
	require.Equal(t, 7, got.EncodedStatus())
}

func TestInternalAsyncCompletesThroughWait(t *testing.T) {
	env, sys := newEnv(t)
	l := New(sys)

	j, err := l.Internal(env, "slow &", Options{Async: true}, func(*shellenv.Env) int {
		time.Sleep(10 * time.Millisecond)
		return 3
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results, err := env.Jobs.Wait(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, 3, results[0].EncodedStatus())
}

func TestInternalChildEnvIsIsolatedFromParent(t *testing.T) {
	env, sys := newEnv(t)
	l := New(sys)
	require.NoError(t, env.Vars.Set("SHARED", vars.Scalar("parent"), false))

	_, err := l.Internal(env, "( ... )", Options{}, func(child *shellenv.Env) int {
		require.NoError(t, child.Vars.Set("SHARED", vars.Scalar("child"), false))
		require.NoError(t, child.Vars.Set("NEW", vars.Scalar("x"), false))
		return 0
	})
	require.NoError(t, err)

	v, ok := env.Vars.Lookup("SHARED")
	require.True(t, ok)
	require.Equal(t, "parent", v.Value.String())
	_, ok = env.Vars.Lookup("NEW")
	require.False(t, ok)
}

func TestInternalRegistersJobInCallersTable(t *testing.T) {
	env, sys := newEnv(t)
	l := New(sys)

	j, err := l.Internal(env, "( : )", Options{}, func(*shellenv.Env) int { return 0 })
	require.NoError(t, err)
	_, ok := env.Jobs.Get(j.ID)
	require.True(t, ok)
}
