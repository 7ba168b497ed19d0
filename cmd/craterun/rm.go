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

// rmCmd implements `craterun rm [--force] <id-prefix>`.
type rmCmd struct {
	engine *lifecycle.Engine
	force  bool
}

func (*rmCmd) Name() string     { return "rm" }
func (*rmCmd) Synopsis() string { return "remove a container's on-disk record" }
func (*rmCmd) Usage() string {
	return "rm [--force] <ID-prefix>: removes a stopped container; --force kills a running one first.\n"
}
func (c *rmCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.force, "force", false, "kill a running container before removing it")
}

func (c *rmCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return fail("rm", craterr.Configf("rm", "expected exactly one <ID-prefix> argument"))
	}
	if err := c.engine.Rm(f.Arg(0), c.force); err != nil {
		return fail("rm", err)
	}
	return subcommands.ExitSuccess
}
