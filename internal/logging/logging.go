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

// Package logging provides the structured logger shared by every shell
// subsystem: a small set of level methods over logrus plus named,
// field-scoped sub-loggers.
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	root  = newRoot()
	mu    sync.Mutex
	level = logrus.InfoLevel
)

func newRoot() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel adjusts the global verbosity. Called at startup from
// cmd/posh, which raises it to debug when the verbose or xtrace option
// is set.
func SetLevel(l logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
	root.SetLevel(l)
}

// Logger is the subset of *logrus.Entry every subsystem logs through.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
}

type entryLogger struct {
	*logrus.Entry
}

func (e entryLogger) WithField(key string, value interface{}) Logger {
	return entryLogger{e.Entry.WithField(key, value)}
}

// Named returns a sub-logger carrying a "component" field so each
// subsystem's lines can be filtered independently.
func Named(component string) Logger {
	return entryLogger{root.WithField("component", component)}
}
