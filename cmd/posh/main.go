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

// Binary posh is a POSIX.1-2024 shell-interpreter core: a read-eval
// loop over the evaluator, job table, trap machinery, and variable
// store defined under internal/. Its parser, word-expansion engine,
// builtin registry, and prompt renderer are the minimal concrete
// stand-ins in internal/textshell (a full POSIX grammar and
// expansion engine are out of scope).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/posh-shell/posh/internal/builtin"
	"github.com/posh-shell/posh/internal/eval"
	"github.com/posh-shell/posh/internal/logging"
	"github.com/posh-shell/posh/internal/readeval"
	"github.com/posh-shell/posh/internal/shellapi"
	"github.com/posh-shell/posh/internal/shellconfig"
	"github.com/posh-shell/posh/internal/shellenv"
	"github.com/posh-shell/posh/internal/sigcore"
	"github.com/posh-shell/posh/internal/subshell"
	"github.com/posh-shell/posh/internal/system"
	"github.com/posh-shell/posh/internal/system/possys"
	"github.com/posh-shell/posh/internal/textshell"
)

// version is the binary's own version string, unrelated to anything
// it interprets.
const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "config") {
		os.Exit(runAdmin(os.Args[1:]))
	}
	os.Exit(runShell())
}

// runAdmin handles posh's non-POSIX admin surface via
// google/subcommands: register each command onto the package-level
// commander, then defer to subcommands.Execute.
func runAdmin(args []string) int {
	subcommands.Register(&versionCmd{}, "")
	subcommands.Register(&configCmd{}, "")
	flag.CommandLine.Parse(args)
	return int(subcommands.Execute(context.Background()))
}

type versionCmd struct{}

func (*versionCmd) Name() string           { return "version" }
func (*versionCmd) Synopsis() string       { return "print posh's version" }
func (*versionCmd) Usage() string          { return "version\n" }
func (*versionCmd) SetFlags(*flag.FlagSet) {}
func (*versionCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(os.Stdout, "posh version %s\n", version)
	return subcommands.ExitSuccess
}

type configCmd struct{ profile string }

func (*configCmd) Name() string     { return "config" }
func (*configCmd) Synopsis() string { return "print the resolved option profile" }
func (*configCmd) Usage() string    { return "config [-profile path]\n" }
func (c *configCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.profile, "profile", "", "TOML option profile to load instead of defaults")
}
func (c *configCmd) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	cfg := shellconfig.Default()
	if c.profile != "" {
		file, err := os.Open(c.profile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		defer file.Close()
		loaded, err := shellconfig.LoadProfile(file)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		cfg = loaded
	}
	fmt.Fprintf(os.Stdout, "errexit=%v nounset=%v noclobber=%v pipefail=%v monitor=%v interactive=%v verbose=%v xtrace=%v noexec=%v\n",
		cfg.Errexit, cfg.Nounset, cfg.Noclobber, cfg.Pipefail, cfg.Monitor, cfg.Interactive, cfg.Verbose, cfg.Xtrace, cfg.Noexec)
	return subcommands.ExitSuccess
}

// runShell implements posh's actual POSIX invocation: an interactive
// terminal, a `-c command` string, or a script file.
func runShell() int {
	cFlag := flag.String("c", "", "run command string instead of reading a script")
	iFlag := flag.Bool("i", false, "force interactive mode")
	profileFlag := flag.String("profile", "", "TOML option profile (see `posh config`)")
	flag.Parse()

	sys, err := possys.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "posh: %v\n", err)
		return 1
	}

	core, err := sigcore.New(sys)
	if err != nil {
		fmt.Fprintf(os.Stderr, "posh: %v\n", err)
		return 1
	}

	cfg := shellconfig.Default()
	if *profileFlag != "" {
		file, err := os.Open(*profileFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "posh: %v\n", err)
			return 1
		}
		loaded, err := shellconfig.LoadProfile(file)
		file.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "posh: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	hasTTY := sys.IsATTY(0)
	interactive := *iFlag || (*cFlag == "" && flag.NArg() == 0 && hasTTY)
	cfg.Interactive = interactive
	cfg.Monitor = cfg.Monitor || interactive
	if cfg.Verbose || cfg.Xtrace {
		logging.SetLevel(logrus.DebugLevel)
	}

	ttyFD := -1
	if hasTTY {
		ttyFD = 0
	}
	env := shellenv.New(sys, cfg, core, ttyFD)
	env.Jobs.SetPollInterval(time.Duration(cfg.JobPollIntervalMillis) * time.Millisecond)

	// Declare the shell's own signal interests: SIGCHLD
	// always, terminators in interactive mode, stoppers when job control
	// is on at an interactive terminal.
	if err := core.NeedSIGCHLD(true); err != nil {
		fmt.Fprintf(os.Stderr, "posh: %v\n", err)
		return 1
	}
	if interactive {
		if err := core.NeedTerminators(true); err != nil {
			fmt.Fprintf(os.Stderr, "posh: %v\n", err)
			return 1
		}
		if cfg.Monitor {
			if err := core.NeedStoppers(true); err != nil {
				fmt.Fprintf(os.Stderr, "posh: %v\n", err)
				return 1
			}
		}
	}

	// Relay caught signals into the signal core's arrival flags and wake
	// the bounded wait; trap actions themselves run only at the
	// read-eval loop's safe points.
	go func() {
		for osSig := range sys.Signals() {
			sig, ok := osSig.(syscall.Signal)
			if !ok {
				continue
			}
			core.MarkCaught(system.Signal(sig))
			sys.WakeSelfPipe(system.Signal(sig))
		}
	}()

	var input shellapi.ScriptInput
	switch {
	case *cFlag != "":
		env.Positional = flag.Args()
		input = textshell.NewStringInput(*cFlag)
	case flag.NArg() > 0:
		file, err := os.Open(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "posh: %v\n", err)
			return 127
		}
		defer file.Close()
		env.Positional = flag.Args()[1:]
		input = textshell.NewLineInput(file)
	default:
		input = textshell.NewLineInput(os.Stdin)
	}

	launcher := subshell.New(sys)
	expander := textshell.NewExpander()
	builtins := textshell.NewBuiltinRegistry(func(fd int, p []byte) { sys.Write(fd, p) })
	parser := textshell.NewParser(env.Alias)
	special := builtin.New(parser)
	evaluator := eval.New(expander, builtins, special, launcher)
	prompt := textshell.NewPrompt(os.Geteuid() == 0)

	loop := &readeval.Loop{
		Parser: parser,
		Prompt: prompt,
		Eval:   evaluator,
		Input:  input,
		Stderr: func(msg string) { fmt.Fprintf(os.Stderr, "posh: %s\n", msg) },
	}
	return loop.Run(env)
}
