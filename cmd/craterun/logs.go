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
	"os"

	"github.com/google/subcommands"

	"github.com/craterun/craterun/internal/craterr"
	"github.com/craterun/craterun/internal/lifecycle"
)

// logsCmd implements `craterun logs <id-prefix>`.
type logsCmd struct {
	engine *lifecycle.Engine
}

func (*logsCmd) Name() string           { return "logs" }
func (*logsCmd) Synopsis() string       { return "print a container's captured stdout/stderr" }
func (*logsCmd) Usage() string          { return "logs <ID-prefix>: prints the container's log snapshot.\n" }
func (*logsCmd) SetFlags(*flag.FlagSet) {}

func (c *logsCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return fail("logs", craterr.Configf("logs", "expected exactly one <ID-prefix> argument"))
	}
	if err := c.engine.Logs(f.Arg(0), os.Stdout, os.Stderr); err != nil {
		return fail("logs", err)
	}
	return subcommands.ExitSuccess
}
