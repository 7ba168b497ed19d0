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
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"github.com/craterun/craterun/internal/container"
	"github.com/craterun/craterun/internal/craterr"
	"github.com/craterun/craterun/internal/lifecycle"
)

// runCmd implements `craterun run`.
type runCmd struct {
	engine *lifecycle.Engine

	rootfs   string
	memory   uint64
	pids     uint
	cpu      string
	hostname string
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "create and start a container, waiting for it to exit" }
func (*runCmd) Usage() string {
	return `run --rootfs PATH [--memory BYTES] [--pids N] [--cpu "QUOTA PERIOD"|PERCENT] [--hostname NAME] -- CMD [ARGS...]:
  Runs CMD inside a new container built from the rootfs at PATH.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.rootfs, "rootfs", "", "absolute path to the container root filesystem (required)")
	f.Uint64Var(&c.memory, "memory", 0, "memory limit in bytes (0 = unlimited)")
	f.UintVar(&c.pids, "pids", 0, "pids.max limit (0 = unlimited)")
	f.StringVar(&c.cpu, "cpu", "", `cpu.max limit as "QUOTA_US PERIOD_US", or a bare PERCENT of one core`)
	f.StringVar(&c.hostname, "hostname", "", "container hostname (defaults to the ID prefix)")
}

func (c *runCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.rootfs == "" {
		return fail("run", craterr.Configf("run", "missing --rootfs"))
	}
	cmdArgv := f.Args()
	if len(cmdArgv) == 0 {
		return fail("run", craterr.Configf("run", "no command given after --"))
	}

	limits, err := c.parseLimits()
	if err != nil {
		return fail("run", err)
	}

	cfg := container.Config{
		Rootfs:   c.rootfs,
		Cmd:      cmdArgv,
		Hostname: c.hostname,
		Limits:   limits,
	}

	result, err := c.engine.Run(cfg)
	if err != nil {
		return fail("run", err)
	}

	fmt.Println(result.ID)
	return subcommands.ExitStatus(normalizeExitCode(result.ExitCode))
}

// parseLimits builds a *container.Limits from the subcommand's flags, or
// nil if none were given.
func (c *runCmd) parseLimits() (*container.Limits, error) {
	var limits container.Limits
	hasLimits := false

	if c.memory > 0 {
		m := c.memory
		limits.MemoryBytes = &m
		hasLimits = true
	}
	if c.pids > 0 {
		p := uint32(c.pids)
		limits.PidsMax = &p
		hasLimits = true
	}
	if c.cpu != "" {
		fields := strings.Fields(c.cpu)
		switch len(fields) {
		case 1:
			pct, err := strconv.Atoi(fields[0])
			if err != nil {
				return nil, craterr.Configf("run", "invalid cpu percentage %q: %v", fields[0], err)
			}
			limits.CPUPercent = &pct
		case 2:
			quota, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return nil, craterr.Configf("run", "invalid cpu quota %q: %v", fields[0], err)
			}
			period, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, craterr.Configf("run", "invalid cpu period %q: %v", fields[1], err)
			}
			limits.CPU = &container.CPULimit{QuotaUs: quota, PeriodUs: period}
		default:
			return nil, craterr.Configf("run", `--cpu must be "QUOTA_US PERIOD_US" or a bare percentage, got %q`, c.cpu)
		}
		hasLimits = true
	}

	if !hasLimits {
		return nil, nil
	}
	return &limits, nil
}

// normalizeExitCode implements spec.md §6's CLI exit code contract: a
// normal exit keeps its status (0-255); a signal death maps to 128+signum.
func normalizeExitCode(exitCode int32) int {
	if exitCode < 0 {
		return 128 + int(-exitCode)
	}
	return int(exitCode)
}
