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

// Package container holds craterun's data model: the user-supplied
// ContainerConfig, the persisted ContainerMeta, and the Status lifecycle
// enum, following the shape of the teacher runtime's Container/Args
// structs and changeStatus/requireStatus discipline.
package container

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/craterun/craterun/internal/craterr"
)

// Status is a container's position in the Created -> Running -> Stopped
// lifecycle. Transitions are monotonic; see changeStatus.
type Status int

const (
	// Created is the initial state, persisted as soon as the ID is
	// allocated, before the init process is started.
	Created Status = iota
	// Running means the init process has been admitted to its cgroup and
	// released past the synchronization barrier toward execve'ing the
	// user command.
	Running
	// Stopped is terminal; a Stopped record is never revived.
	Stopped
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalJSON renders Status the way spec.md's metadata schema requires:
// one of "created"|"running"|"stopped".
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the schema's lowercase string form.
func (s *Status) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"created"`:
		*s = Created
	case `"running"`:
		*s = Running
	case `"stopped"`:
		*s = Stopped
	default:
		return fmt.Errorf("container: invalid status %s", data)
	}
	return nil
}

// CPULimit is the (quota_us, period_us) pair from spec.md's
// ContainerConfig.limits.cpu_quota.
type CPULimit struct {
	QuotaUs  int64 `json:"quota"`
	PeriodUs int64 `json:"period"`
}

// Limits is the optional resource-limit block of a ContainerConfig.
// Fields are pointers so the JSON encoding can represent "unset" the way
// spec.md's schema requires (each key nullable). CPUPercent is the
// SPEC_FULL.md §5 supplemented single-value CPU limit alias: mutually
// exclusive with CPU, it's translated to a quota/period pair by
// internal/cgroup.Handle.SetCPUPercent rather than spec.md's documented
// (quota_us, period_us) pair.
type Limits struct {
	MemoryBytes *uint64   `json:"memory"`
	PidsMax     *uint32   `json:"pids"`
	CPU         *CPULimit `json:"cpu"`
	CPUPercent  *int      `json:"cpu_percent"`
}

// Config is the immutable, user-supplied configuration for a container
// (spec.md §3's ContainerConfig).
type Config struct {
	Rootfs   string   `json:"rootfs"`
	Cmd      []string `json:"cmd"`
	Hostname string   `json:"hostname"`
	Limits   *Limits  `json:"limits"`
}

// requiredRootDirs are the directories spec.md's rootfs invariant checks
// for; a valid rootfs must contain at least one of them.
var requiredRootDirs = []string{"bin", "usr", "etc"}

// Validate canonicalizes Rootfs to an absolute path and checks spec.md's
// rootfs invariant: not "/", and containing at least one of bin/, usr/,
// etc/. It also rejects an empty Cmd. Validate mutates c.Rootfs in place
// to the canonical form on success.
func (c *Config) Validate() error {
	if len(c.Cmd) == 0 {
		return craterr.Configf("validate", "cmd must be a non-empty argv")
	}
	abs, err := filepath.Abs(c.Rootfs)
	if err != nil {
		return craterr.New(craterr.KindConfig, "validate", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return craterr.New(craterr.KindConfig, "validate", err)
	}
	if err := validateRootfsPath(real); err != nil {
		return err
	}
	c.Rootfs = real
	return nil
}

// validateRootfsPath implements the rootfs invariant independent of
// symlink resolution, so it can be unit tested against plain temp dirs.
func validateRootfsPath(path string) error {
	if path == "/" || path == "" {
		return craterr.Configf("validate", "rootfs must not be \"/\"")
	}
	info, err := os.Stat(path)
	if err != nil {
		return craterr.New(craterr.KindConfig, "validate", err)
	}
	if !info.IsDir() {
		return craterr.Configf("validate", "rootfs %q is not a directory", path)
	}
	for _, d := range requiredRootDirs {
		if fi, err := os.Stat(filepath.Join(path, d)); err == nil && fi.IsDir() {
			return nil
		}
	}
	return craterr.Configf("validate", "rootfs %q contains none of bin/, usr/, etc/", path)
}

// Meta is the mutable, persisted record of a container's lifecycle
// (spec.md §3's ContainerMeta). Config is embedded anonymously rather
// than nested under a "config" key so its fields (rootfs, cmd, hostname,
// limits) marshal as flat siblings of id/pid/status/..., matching
// spec.md §6's metadata JSON schema literally.
type Meta struct {
	ID string `json:"id"`
	Config
	Pid       int        `json:"pid,omitempty"`
	Status    Status     `json:"status"`
	ExitCode  *int32     `json:"exit_code"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at"`
}

// Hostname returns the effective hostname: the configured value, or the
// container ID's first 12 characters if unset.
func (m *Meta) Hostname() string {
	if m.Config.Hostname != "" {
		return m.Config.Hostname
	}
	if len(m.ID) >= 12 {
		return m.ID[:12]
	}
	return m.ID
}

// changeStatus performs a monotonic status transition, panicking on any
// transition the lifecycle isn't allowed to make. This mirrors the
// teacher runtime's Container.changeStatus: invalid transitions are a
// programmer error, not a recoverable condition.
func (m *Meta) changeStatus(s Status) {
	switch s {
	case Created:
		panic(fmt.Sprintf("container: invalid state transition %v => %v", m.Status, s))
	case Running:
		if m.Status != Created {
			panic(fmt.Sprintf("container: invalid state transition %v => %v", m.Status, s))
		}
	case Stopped:
		// Every state may transition to Stopped; a Stopped record is
		// terminal and must never be revived (spec.md §3 invariant 2).
		if m.Status == Stopped {
			panic("container: attempted to re-stop an already-stopped container")
		}
	default:
		panic(fmt.Sprintf("container: invalid new status %v", s))
	}
	m.Status = s
}

// MarkRunning transitions Created -> Running, recording the init
// process's host PID and start time.
func (m *Meta) MarkRunning(pid int, startedAt time.Time) {
	m.changeStatus(Running)
	m.Pid = pid
	m.StartedAt = &startedAt
}

// MarkStopped transitions (Created|Running) -> Stopped, recording the
// exit code and stop time.
func (m *Meta) MarkStopped(exitCode int32, stoppedAt time.Time) {
	m.changeStatus(Stopped)
	m.ExitCode = &exitCode
	m.StoppedAt = &stoppedAt
	m.Pid = 0
}

// State renders an OCI-runtime-spec-shaped state document for the
// `craterun state` subcommand, mirroring the teacher runtime's
// Container.State().
func (m *Meta) State(bundle string) specs.State {
	pid := m.Pid
	if m.Status == Stopped {
		pid = 0
	}
	return specs.State{
		Version: specs.Version,
		ID:      m.ID,
		Status:  m.Status.String(),
		Pid:     pid,
		Bundle:  bundle,
	}
}
