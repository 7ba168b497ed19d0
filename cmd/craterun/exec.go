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
	"context"
	"flag"

	"github.com/google/subcommands"

	"github.com/craterun/craterun/internal/craterr"
	"github.com/craterun/craterun/internal/lifecycle"
)

// execCmd implements `craterun exec <id-prefix> -- CMD ARGS...`.
type execCmd struct {
	engine *lifecycle.Engine
}

func (*execCmd) Name() string     { return "exec" }
func (*execCmd) Synopsis() string { return "run a command inside a running container's namespaces" }
func (*execCmd) Usage() string {
	return "exec <ID-prefix> -- CMD [ARGS...]: joins a running container's namespaces and execs CMD.\n"
}
func (*execCmd) SetFlags(*flag.FlagSet) {}

func (c *execCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	args := f.Args()
	if len(args) < 3 || args[1] != "--" {
		return fail("exec", craterr.Configf("exec", "usage: exec <ID-prefix> -- CMD [ARGS...]"))
	}
	prefix, cmdArgv := args[0], args[2:]

	exitCode, err := c.engine.Exec(prefix, cmdArgv)
	if err != nil {
		return fail("exec", err)
	}
	return subcommands.ExitStatus(exitCode)
}
