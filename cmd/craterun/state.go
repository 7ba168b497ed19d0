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
	"encoding/json"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/craterun/craterun/internal/craterr"
	"github.com/craterun/craterun/internal/id"
	"github.com/craterun/craterun/internal/state"
)

// stateCmd implements the supplemented `craterun state <id-prefix>`
// subcommand: an OCI-runtime-spec-shaped state document, the form
// higher-level tooling built against the opencontainers/runtime-spec
// conventions expects from `state`.
type stateCmd struct {
	store *state.Store
}

func (*stateCmd) Name() string           { return "state" }
func (*stateCmd) Synopsis() string       { return "print a container's OCI-shaped state document" }
func (*stateCmd) Usage() string          { return "state <ID-prefix>: prints an OCI runtime-spec State document.\n" }
func (*stateCmd) SetFlags(*flag.FlagSet) {}

func (c *stateCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return fail("state", craterr.Configf("state", "expected exactly one <ID-prefix> argument"))
	}
	ids, err := c.store.IDs()
	if err != nil {
		return fail("state", err)
	}
	fullID, err := id.Resolve(f.Arg(0), ids)
	if err != nil {
		return fail("state", err)
	}
	meta, err := c.store.Load(fullID)
	if err != nil {
		return fail("state", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta.State(c.store.ContainerDir(fullID))); err != nil {
		return fail("state", err)
	}
	return subcommands.ExitSuccess
}
