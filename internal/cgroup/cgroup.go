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

// Package cgroup implements craterun's CgroupController: creating,
// populating, and tearing down a cgroup v2 subtree per container. The
// mechanics (raw cgroupfs file writes) follow the pattern both
// gclone/gocker's setupCgroup/cleanupCgroup and ccrun's
// cgroup.SetupAndEnter/Cleanup use, rather than a client library --
// see DESIGN.md for why no library from the example corpus could be
// grounded at the pinned containerd/cgroups version.
package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"

	"github.com/craterun/craterun/internal/craterr"
	"github.com/craterun/craterun/internal/logging"
)

// Root is the mount point of the unified cgroup v2 hierarchy.
var Root = "/sys/fs/cgroup"

const groupPrefix = "craterun-"

// drainTimeout bounds how long destroy() waits for cgroup.procs to empty
// after a kill before giving up and rmdir'ing anyway.
const drainTimeout = 5 * time.Second

// Handle is a created cgroup v2 subtree for a single container.
type Handle struct {
	id   string
	path string
}

// Path returns the handle's absolute cgroupfs directory.
func (h *Handle) Path() string { return h.path }

// IsV2 reports whether Root is mounted as a cgroup v2 (unified)
// hierarchy, by checking for the cgroup.controllers file that only
// exists under the unified hierarchy.
func IsV2() bool {
	_, err := os.Stat(filepath.Join(Root, "cgroup.controllers"))
	return err == nil
}

// Create creates /sys/fs/cgroup/craterun-<id>/. It fails if the
// directory already exists or the mounted hierarchy isn't v2.
func Create(id string) (*Handle, error) {
	if !IsV2() {
		return nil, craterr.Configf("cgroup.Create", "%s is not a cgroup v2 (unified) hierarchy", Root)
	}
	path := filepath.Join(Root, groupPrefix+id)
	if _, err := os.Stat(path); err == nil {
		return nil, craterr.Configf("cgroup.Create", "cgroup %s already exists", path)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, craterr.New(craterr.KindPermission, "cgroup.Create", err)
	}
	return &Handle{id: id, path: path}, nil
}

func (h *Handle) write(file, value string) error {
	path := filepath.Join(h.path, file)
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return craterr.New(craterr.KindKernel, "cgroup."+file, err)
	}
	return nil
}

// SetMemoryMax writes the memory.max limit, in bytes.
func (h *Handle) SetMemoryMax(bytes uint64) error {
	return h.write("memory.max", strconv.FormatUint(bytes, 10))
}

// SetPidsMax writes the pids.max limit.
func (h *Handle) SetPidsMax(n uint32) error {
	return h.write("pids.max", strconv.FormatUint(uint64(n), 10))
}

// SetCPUMax writes the cpu.max limit as "<quota_us> <period_us>".
func (h *Handle) SetCPUMax(quotaUs, periodUs int64) error {
	return h.write("cpu.max", fmt.Sprintf("%d %d", quotaUs, periodUs))
}

// SetCPUPercent is the additional convenience form SPEC_FULL.md's
// supplemented-features section documents: a bare percentage of one core, translated to
// a quota at the default 100ms period.
func (h *Handle) SetCPUPercent(pct int) error {
	const defaultPeriodUs = 100000
	quota := int64(pct) * defaultPeriodUs / 100
	return h.SetCPUMax(quota, defaultPeriodUs)
}

// Admit appends pid to cgroup.procs; the process and all its descendants
// now belong to the subtree.
func (h *Handle) Admit(pid int) error {
	return h.write("cgroup.procs", strconv.Itoa(pid))
}

// ApplyResources applies an OCI-shaped LinuxResources block to the
// handle, mirroring how OCI runtimes plumb resource limits down to the
// cgroup layer (see SPEC_FULL.md's domain-stack grounding for
// opencontainers/runtime-spec).
func ApplyResources(h *Handle, res *specs.LinuxResources) error {
	if res == nil {
		return nil
	}
	if res.Memory != nil && res.Memory.Limit != nil {
		if *res.Memory.Limit < 0 {
			return craterr.Configf("cgroup.ApplyResources", "negative memory limit")
		}
		if err := h.SetMemoryMax(uint64(*res.Memory.Limit)); err != nil {
			return err
		}
	}
	if res.Pids != nil {
		if err := h.SetPidsMax(uint32(res.Pids.Limit)); err != nil {
			return err
		}
	}
	if res.CPU != nil && res.CPU.Quota != nil && res.CPU.Period != nil {
		if err := h.SetCPUMax(*res.CPU.Quota, int64(*res.CPU.Period)); err != nil {
			return err
		}
	}
	return nil
}

// Destroy best-effort tears down the subtree: freeze/kill it by writing
// 1 to cgroup.kill if present, wait briefly for cgroup.procs to drain,
// then rmdir the directory. Errors are logged, never returned, per
// spec.md's failure policy that cgroup teardown must never mask the
// container's own exit code.
func Destroy(id string) {
	path := filepath.Join(Root, groupPrefix+id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	killFile := filepath.Join(path, "cgroup.kill")
	if _, err := os.Stat(killFile); err == nil {
		if err := os.WriteFile(killFile, []byte("1"), 0o644); err != nil {
			logging.Warningf("cgroup: failed to write cgroup.kill for %s: %v", id, err)
		}
	}

	if err := waitForDrain(path); err != nil {
		logging.Warningf("cgroup: %s did not drain before timeout: %v", id, err)
	}

	if err := os.Remove(path); err != nil {
		logging.Warningf("cgroup: failed to rmdir %s: %v", path, err)
	}
}

func waitForDrain(path string) error {
	op := func() error {
		procs, err := os.ReadFile(filepath.Join(path, "cgroup.procs"))
		if err != nil {
			// The directory may already be gone; treat as drained.
			return nil
		}
		if strings.TrimSpace(string(procs)) != "" {
			return fmt.Errorf("cgroup.procs is not empty")
		}
		return nil
	}
	b := backoff.NewConstantBackOff(50 * time.Millisecond)
	return backoff.Retry(op, backoff.WithMaxRetries(b, uint64(drainTimeout/(50*time.Millisecond))))
}

// SweepOrphans best-effort rmdir's any craterun-* cgroup directory under
// Root whose container ID isn't in knownIDs. This is the additive `ps`
// cleanup SPEC_FULL.md documents for spec.md §9's "orphan cgroups left by
// a crashed run" open question: it never blocks or fails the caller, only
// logs a warning per directory it can't remove.
func SweepOrphans(knownIDs []string) {
	entries, err := os.ReadDir(Root)
	if err != nil {
		return
	}
	known := make(map[string]bool, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = true
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), groupPrefix) {
			continue
		}
		id := strings.TrimPrefix(e.Name(), groupPrefix)
		if known[id] {
			continue
		}
		path := filepath.Join(Root, e.Name())
		if err := os.Remove(path); err != nil {
			logging.Warningf("cgroup: failed to sweep orphan %s: %v", path, err)
		}
	}
}

// Kill sends SIGKILL to every PID currently listed in the cgroup's
// cgroup.procs. Used by `rm --force` as a belt-and-braces measure
// alongside directly signaling the container's recorded PID.
func Kill(id string) error {
	path := filepath.Join(Root, groupPrefix+id)
	data, err := os.ReadFile(filepath.Join(path, "cgroup.procs"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return craterr.New(craterr.KindKernel, "cgroup.Kill", err)
	}
	for _, line := range strings.Fields(string(data)) {
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		if err := unix.Kill(pid, unix.SIGKILL); err != nil {
			logging.Warningf("cgroup: failed to kill pid %d in %s: %v", pid, id, err)
		}
	}
	return nil
}
