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

package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/posh-shell/posh/internal/system"
	"github.com/posh-shell/posh/internal/system/fakesys"
)

func TestAddPromotesCurrentAndPrevious(t *testing.T) {
	sys := fakesys.New()
	tbl := NewTable(sys, -1)

	j1 := tbl.Add(10, 10, "sleep 1", true)
	cur, ok := tbl.Current()
	require.True(t, ok)
	require.Equal(t, j1.ID, cur.ID)

	j2 := tbl.Add(11, 11, "sleep 2", true)
	cur, ok = tbl.Current()
	require.True(t, ok)
	require.Equal(t, j2.ID, cur.ID)
	prev, ok := tbl.Previous()
	require.True(t, ok)
	require.Equal(t, j1.ID, prev.ID)
}

func TestResolveGrammar(t *testing.T) {
	sys := fakesys.New()
	tbl := NewTable(sys, -1)
	j1 := tbl.Add(10, 10, "sleep 1", true)
	j2 := tbl.Add(11, 11, "make build", true)

	got, err := tbl.Resolve("%%")
	require.NoError(t, err)
	require.Equal(t, j2.ID, got.ID)

	got, err = tbl.Resolve("%-")
	require.NoError(t, err)
	require.Equal(t, j1.ID, got.ID)

	got, err = tbl.Resolve("%1")
	require.NoError(t, err)
	require.Equal(t, j1.ID, got.ID)

	got, err = tbl.Resolve("%make")
	require.NoError(t, err)
	require.Equal(t, j2.ID, got.ID)

	got, err = tbl.Resolve("%?build")
	require.NoError(t, err)
	require.Equal(t, j2.ID, got.ID)

	_, err = tbl.Resolve("%99")
	require.Error(t, err)
}

func TestDrainReportsExitedJob(t *testing.T) {
	sys := fakesys.New()
	tbl := NewTable(sys, -1)

	fr, err := sys.Fork()
	require.NoError(t, err)
	sys.SeedPgid(fr.Pid, fr.Pid)
	j := tbl.Add(fr.Pid, fr.Pid, "true", true)

	require.Empty(t, tbl.Drain())

	sys.Advance(fr.Pid, system.ProcState{Kind: system.Exited, ExitStatus: 0})
	changed := tbl.Drain()
	require.Len(t, changed, 1)
	require.Equal(t, j.ID, changed[0].ID)
	require.Equal(t, Exited, j.State)
	require.Equal(t, 0, j.EncodedStatus())
}

func TestWaitBlocksUntilExitedThenReturns(t *testing.T) {
	sys := fakesys.New()
	tbl := NewTable(sys, -1)

	fr, err := sys.Fork()
	require.NoError(t, err)
	sys.SeedPgid(fr.Pid, fr.Pid)
	j := tbl.Add(fr.Pid, fr.Pid, "sleep 1", true)

	done := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		sys.Advance(fr.Pid, system.ProcState{Kind: system.Exited, ExitStatus: 3})
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	results, err := tbl.Wait(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, Exited, results[0].State)
	require.Equal(t, 3, results[0].EncodedStatus())
	<-done
}

func TestSignalToProcessGroup(t *testing.T) {
	sys := fakesys.New()
	tbl := NewTable(sys, -1)

	fr, err := sys.Fork()
	require.NoError(t, err)
	sys.SeedPgid(fr.Pid, fr.Pid)
	j := tbl.Add(fr.Pid, fr.Pid, "cat", true)

	require.NoError(t, tbl.Signal(j.ID, fakesys.SIGTERM, ToProcessGroup))

	changed := tbl.Drain()
	require.Len(t, changed, 1)
	require.Equal(t, Signaled, j.State)
	require.Equal(t, 256+int(fakesys.SIGTERM), j.EncodedStatus())
}

func TestRemoveReassignsDesignations(t *testing.T) {
	sys := fakesys.New()
	tbl := NewTable(sys, -1)
	j1 := tbl.Add(10, 10, "a", true)
	j2 := tbl.Add(11, 11, "b", true)

	tbl.Remove(j2.ID)
	cur, ok := tbl.Current()
	require.True(t, ok)
	require.Equal(t, j1.ID, cur.ID)
}
