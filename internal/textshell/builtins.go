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
	"fmt"
	"strings"

	"github.com/posh-shell/posh/internal/shellapi"
)

// BuiltinRegistry supplies the small set of regular (non-special)
// builtin utilities (dispatch order puts these after functions and
// the fixed special-builtin set in internal/builtin):
// echo, printf, true, false, and a minimal test/[. A production shell
// embeds a much larger utility set; this is enough surface for the
// evaluator's dispatch path to exercise a regular builtin.
type BuiltinRegistry struct {
	write func(fd int, p []byte)
}

func NewBuiltinRegistry(write func(fd int, p []byte)) *BuiltinRegistry {
	return &BuiltinRegistry{write: write}
}

func (r *BuiltinRegistry) Lookup(name string) (shellapi.BuiltinUtility, bool) {
	switch name {
	case "echo":
		return regularFunc(r.biEcho), true
	case "printf":
		return regularFunc(r.biPrintf), true
	case "true":
		return regularFunc(biTrue), true
	case "false":
		return regularFunc(biFalse), true
	case "test", "[":
		return regularFunc(biTest), true
	}
	return nil, false
}

type regularFunc func(env shellapi.ExpansionEnv, argv []string) shellapi.BuiltinResult

func (f regularFunc) Kind() shellapi.BuiltinKind { return shellapi.BuiltinRegular }
func (f regularFunc) Run(env shellapi.ExpansionEnv, argv []string) shellapi.BuiltinResult {
	return f(env, argv)
}

func (r *BuiltinRegistry) biEcho(_ shellapi.ExpansionEnv, argv []string) shellapi.BuiltinResult {
	args := argv[1:]
	suppressNewline := false
	if len(args) > 0 && args[0] == "-n" {
		suppressNewline = true
		args = args[1:]
	}
	out := strings.Join(args, " ")
	if !suppressNewline {
		out += "\n"
	}
	r.write(1, []byte(out))
	return shellapi.BuiltinResult{Status: 0}
}

func (r *BuiltinRegistry) biPrintf(_ shellapi.ExpansionEnv, argv []string) shellapi.BuiltinResult {
	if len(argv) < 2 {
		return shellapi.BuiltinResult{Status: 1}
	}
	format := argv[1]
	rest := make([]interface{}, 0, len(argv)-2)
	for _, a := range argv[2:] {
		rest = append(rest, a)
	}
	r.write(1, []byte(posixPrintf(format, rest)))
	return shellapi.BuiltinResult{Status: 0}
}

// posixPrintf handles the handful of conversions (%s, %d, %%, \n, \t)
// this stand-in needs; it is not a full printf(1) implementation.
func posixPrintf(format string, args []interface{}) string {
	var out strings.Builder
	argi := 0
	next := func() interface{} {
		if argi < len(args) {
			v := args[argi]
			argi++
			return v
		}
		return ""
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c == '\\' && i+1 < len(format) {
			switch format[i+1] {
			case 'n':
				out.WriteByte('\n')
				i++
				continue
			case 't':
				out.WriteByte('\t')
				i++
				continue
			}
		}
		if c == '%' && i+1 < len(format) {
			switch format[i+1] {
			case 's':
				out.WriteString(fmt.Sprintf("%v", next()))
				i++
				continue
			case 'd':
				out.WriteString(fmt.Sprintf("%v", next()))
				i++
				continue
			case '%':
				out.WriteByte('%')
				i++
				continue
			}
		}
		out.WriteByte(c)
	}
	return out.String()
}

func biTrue(_ shellapi.ExpansionEnv, _ []string) shellapi.BuiltinResult {
	return shellapi.BuiltinResult{Status: 0}
}

func biFalse(_ shellapi.ExpansionEnv, _ []string) shellapi.BuiltinResult {
	return shellapi.BuiltinResult{Status: 1}
}

// biTest implements the string/integer-comparison subset of test(1)
// most scripts actually use: -z, -n, =, !=, and the numeric comparators.
func biTest(_ shellapi.ExpansionEnv, argv []string) shellapi.BuiltinResult {
	args := argv[1:]
	if len(args) > 0 && argv[0] == "[" && args[len(args)-1] == "]" {
		args = args[:len(args)-1]
	}
	status := 1
	switch len(args) {
	case 0:
		status = 1
	case 1:
		if args[0] != "" {
			status = 0
		}
	case 2:
		if args[0] == "-z" && args[1] == "" {
			status = 0
		} else if args[0] == "-n" && args[1] != "" {
			status = 0
		}
	case 3:
		if evalTestBinary(args[0], args[1], args[2]) {
			status = 0
		}
	}
	return shellapi.BuiltinResult{Status: status}
}

func evalTestBinary(a, op, b string) bool {
	switch op {
	case "=", "==":
		return a == b
	case "!=":
		return a != b
	case "-eq", "-ne", "-lt", "-le", "-gt", "-ge":
		return compareNumeric(a, op, b)
	}
	return false
}

func compareNumeric(a, op, b string) bool {
	av, aok := parseIntLoose(a)
	bv, bok := parseIntLoose(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case "-eq":
		return av == bv
	case "-ne":
		return av != bv
	case "-lt":
		return av < bv
	case "-le":
		return av <= bv
	case "-gt":
		return av > bv
	case "-ge":
		return av >= bv
	}
	return false
}

func parseIntLoose(s string) (int, bool) {
	n := 0
	neg := false
	i := 0
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		i = 1
	}
	if i == len(s) {
		return 0, false
	}
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}
