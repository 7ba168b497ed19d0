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
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/craterun/craterun/internal/lifecycle"
)

// psCmd implements `craterun ps`.
type psCmd struct {
	engine *lifecycle.Engine
}

func (*psCmd) Name() string           { return "ps" }
func (*psCmd) Synopsis() string       { return "list containers, repairing stale records" }
func (*psCmd) Usage() string          { return "ps: lists every known container and its status.\n" }
func (*psCmd) SetFlags(*flag.FlagSet) {}

func (c *psCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	entries, err := c.engine.Ps()
	if err != nil {
		return fail("ps", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPID\tEXIT\tCMD")
	for _, e := range entries {
		m := e.Meta
		exit := "-"
		if m.ExitCode != nil {
			exit = fmt.Sprintf("%d", *m.ExitCode)
		}
		pid := "-"
		if m.Pid != 0 {
			pid = fmt.Sprintf("%d", m.Pid)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.Status, pid, exit, strings.Join(m.Config.Cmd, " "))
	}
	w.Flush()
	return subcommands.ExitSuccess
}
