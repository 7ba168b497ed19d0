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

// Binary craterun is an educational single-host Linux container
// runtime: it isolates a command inside kernel namespaces, pivots it
// into a supplied root filesystem, applies cgroup v2 limits, and
// tracks its lifecycle on disk.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/craterun/craterun/internal/lifecycle"
	"github.com/craterun/craterun/internal/logging"
	"github.com/craterun/craterun/internal/state"
)

func main() {
	// Hidden re-exec entry points used by the lifecycle engine's
	// fork/exec protocol. These never reach the subcommands dispatcher.
	if lifecycle.IsChildInvocation(os.Args) {
		lifecycle.ChildMain(os.Args)
		return
	}
	if lifecycle.IsNsenterInvocation(os.Args) {
		lifecycle.NsenterMain(os.Args)
		return
	}

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	store, err := state.New(state.DefaultRoot())
	if err != nil {
		logging.Errorf("craterun: %v", err)
		os.Exit(1)
	}
	engine := lifecycle.New(store)

	subcommands.Register(&runCmd{engine: engine}, "")
	subcommands.Register(&psCmd{engine: engine}, "")
	subcommands.Register(&logsCmd{engine: engine}, "")
	subcommands.Register(&execCmd{engine: engine}, "")
	subcommands.Register(&rmCmd{engine: engine}, "")
	subcommands.Register(&stateCmd{store: store}, "")

	debug := flag.Bool("debug", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", `log output format: "text" or "json"`)
	flag.Parse()
	logging.SetDebug(*debug)
	logging.SetJSON(*logFormat == "json")

	os.Exit(int(subcommands.Execute(context.Background())))
}
