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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineInputReadsLinesThenEOF(t *testing.T) {
	in := NewLineInput(strings.NewReader("one\ntwo\n"))

	line, eof, err := in.ReadLine()
	require.NoError(t, err)
	require.False(t, eof)
	require.Equal(t, "one", line)

	line, eof, err = in.ReadLine()
	require.NoError(t, err)
	require.False(t, eof)
	require.Equal(t, "two", line)

	line, eof, err = in.ReadLine()
	require.NoError(t, err)
	require.True(t, eof)
	require.Empty(t, line)
}

func TestLineInputFinalLineWithoutTrailingNewline(t *testing.T) {
	in := NewLineInput(strings.NewReader("only"))
	line, eof, err := in.ReadLine()
	require.NoError(t, err)
	require.True(t, eof)
	require.Equal(t, "only", line)
}

func TestStringInputYieldsOnceThenEOF(t *testing.T) {
	in := NewStringInput("echo hi")
	line, eof, err := in.ReadLine()
	require.NoError(t, err)
	require.True(t, eof)
	require.Equal(t, "echo hi", line)

	line, eof, err = in.ReadLine()
	require.NoError(t, err)
	require.True(t, eof)
	require.Empty(t, line)
}
