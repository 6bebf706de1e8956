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

// Package shellconfig models the shell's runtime options (`set -o
// errexit`, etc.). These are shell options, not CLI flags: argv parsing
// belongs to the surrounding CLI layer, so a Config is only ever seeded
// from defaults or an optional on-disk profile, never from os.Args.
package shellconfig

import (
	"io"

	"github.com/BurntSushi/toml"
)

// Config holds every `set -o`-style runtime option the evaluator and
// read-eval loop consult.
type Config struct {
	Errexit     bool `toml:"errexit"`
	Nounset     bool `toml:"nounset"`
	Noclobber   bool `toml:"noclobber"`
	Pipefail    bool `toml:"pipefail"`
	Monitor     bool `toml:"monitor"` // job control
	Interactive bool `toml:"-"`       // set by the CLI layer, never from a profile
	Verbose     bool `toml:"verbose"`
	Xtrace      bool `toml:"xtrace"`
	Noexec      bool `toml:"noexec"`

	// JobPollIntervalMillis tunes internal/job.Table.Wait's backoff; exposed
	// so tests can shrink it.
	JobPollIntervalMillis int `toml:"job_poll_interval_ms"`
}

// Default returns the POSIX default option set.
func Default() *Config {
	return &Config{JobPollIntervalMillis: 20}
}

// LoadProfile decodes an optional ~/.poshrc.toml-shaped profile from r,
// overlaying it onto Default(). r is injected so tests never touch the
// real filesystem.
func LoadProfile(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeReader(r, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Clone returns a shallow copy, sufficient since Config has no pointer
// or slice fields; used when a subshell clones its parent's options
// (subshells inherit the enclosing shell's option state).
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
