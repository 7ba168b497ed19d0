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

package main

import (
	"os"

	"github.com/google/subcommands"

	"github.com/craterun/craterun/internal/craterr"
)

// stderr is the stream every subcommand writes its own error diagnostics
// to; broken out as a function so tests could substitute a buffer.
func stderr() *os.File { return os.Stderr }

// fail prints a namespaced error to stderr and converts it to the
// subcommands.ExitStatus spec.md §7's error taxonomy specifies.
func fail(cmdName string, err error) subcommands.ExitStatus {
	stderr().WriteString("craterun " + cmdName + ": " + err.Error() + "\n")
	return subcommands.ExitStatus(craterr.ExitCode(err))
}
