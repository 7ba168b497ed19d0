// Copyright 2026 The CrateRun Authors.
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

// Package logging is craterun's thin wrapper around logrus, shaped to
// match the Debugf/Warningf call sites the teacher runtime uses
// throughout its container lifecycle code.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetDebug toggles debug-level logging, driven by the CLI's --debug flag.
func SetDebug(on bool) {
	if on {
		std.SetLevel(logrus.DebugLevel)
	} else {
		std.SetLevel(logrus.InfoLevel)
	}
}

// SetJSON switches the wire format between text (default) and JSON,
// driven by the CLI's --log-format flag.
func SetJSON(on bool) {
	if on {
		std.SetFormatter(&logrus.JSONFormatter{})
	} else {
		std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Debugf logs at debug level.
func Debugf(format string, args ...any) { std.Debugf(format, args...) }

// Infof logs at info level.
func Infof(format string, args ...any) { std.Infof(format, args...) }

// Warningf logs at warning level.
func Warningf(format string, args ...any) { std.Warningf(format, args...) }

// Errorf logs at error level.
func Errorf(format string, args ...any) { std.Errorf(format, args...) }
