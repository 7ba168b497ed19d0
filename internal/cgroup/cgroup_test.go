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

package cgroup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// newFakeHierarchy points Root at a temp directory seeded with the
// handful of files a real cgroup v2 subtree exposes, so Create/write
// paths can be exercised without a real kernel cgroupfs mount.
func newFakeHierarchy(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cgroup.controllers"), []byte("cpu memory pids\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := Root
	Root = dir
	t.Cleanup(func() { Root = old })
	return dir
}

func TestIsV2(t *testing.T) {
	newFakeHierarchy(t)
	if !IsV2() {
		t.Fatalf("IsV2() = false, want true")
	}
}

func TestCreateRejectsNonV2(t *testing.T) {
	Root = t.TempDir()
	defer func() { Root = "/sys/fs/cgroup" }()
	if _, err := Create("abc"); err == nil {
		t.Fatalf("Create() on a non-v2 root should have failed")
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	newFakeHierarchy(t)
	if _, err := Create("dup"); err != nil {
		t.Fatalf("first Create() error: %v", err)
	}
	if _, err := Create("dup"); err == nil {
		t.Fatalf("second Create() of the same id should have failed")
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestSetLimitsWriteExpectedFiles(t *testing.T) {
	newFakeHierarchy(t)
	h, err := Create("limits")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetMemoryMax(1 << 20); err != nil {
		t.Fatalf("SetMemoryMax() error: %v", err)
	}
	if got := readFile(t, filepath.Join(h.Path(), "memory.max")); got != "1048576" {
		t.Fatalf("memory.max = %q, want 1048576", got)
	}

	if err := h.SetPidsMax(32); err != nil {
		t.Fatalf("SetPidsMax() error: %v", err)
	}
	if got := readFile(t, filepath.Join(h.Path(), "pids.max")); got != "32" {
		t.Fatalf("pids.max = %q, want 32", got)
	}

	if err := h.SetCPUMax(50000, 100000); err != nil {
		t.Fatalf("SetCPUMax() error: %v", err)
	}
	if got := readFile(t, filepath.Join(h.Path(), "cpu.max")); got != "50000 100000" {
		t.Fatalf("cpu.max = %q, want \"50000 100000\"", got)
	}
}

func TestSetCPUPercentTranslatesToQuota(t *testing.T) {
	newFakeHierarchy(t)
	h, err := Create("pct")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.SetCPUPercent(50); err != nil {
		t.Fatalf("SetCPUPercent() error: %v", err)
	}
	if got := readFile(t, filepath.Join(h.Path(), "cpu.max")); got != "50000 100000" {
		t.Fatalf("cpu.max = %q, want \"50000 100000\"", got)
	}
}

func TestAdmitWritesCgroupProcs(t *testing.T) {
	newFakeHierarchy(t)
	h, err := Create("admit")
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Admit(4242); err != nil {
		t.Fatalf("Admit() error: %v", err)
	}
	if got := readFile(t, filepath.Join(h.Path(), "cgroup.procs")); got != "4242" {
		t.Fatalf("cgroup.procs = %q, want 4242", got)
	}
}

func int64p(v int64) *int64 { return &v }
func uint64p(v uint64) *uint64 { return &v }

func TestApplyResourcesWiresOCIShape(t *testing.T) {
	newFakeHierarchy(t)
	h, err := Create("oci")
	if err != nil {
		t.Fatal(err)
	}
	res := &specs.LinuxResources{
		Memory: &specs.LinuxMemory{Limit: int64p(2048)},
		Pids:   &specs.LinuxPids{Limit: 10},
		CPU:    &specs.LinuxCPU{Quota: int64p(20000), Period: uint64p(100000)},
	}
	if err := ApplyResources(h, res); err != nil {
		t.Fatalf("ApplyResources() error: %v", err)
	}
	if got := readFile(t, filepath.Join(h.Path(), "memory.max")); got != "2048" {
		t.Fatalf("memory.max = %q, want 2048", got)
	}
	if got := readFile(t, filepath.Join(h.Path(), "pids.max")); got != "10" {
		t.Fatalf("pids.max = %q, want 10", got)
	}
	if got := readFile(t, filepath.Join(h.Path(), "cpu.max")); got != "20000 100000" {
		t.Fatalf("cpu.max = %q, want \"20000 100000\"", got)
	}
}

func TestApplyResourcesNilIsNoop(t *testing.T) {
	newFakeHierarchy(t)
	h, err := Create("nores")
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyResources(h, nil); err != nil {
		t.Fatalf("ApplyResources(nil) error: %v", err)
	}
}

func TestDestroyDrainsAndRemoves(t *testing.T) {
	newFakeHierarchy(t)
	h, err := Create("destroy")
	if err != nil {
		t.Fatal(err)
	}
	// The fake hierarchy is a plain directory, so it holds no
	// cgroup.procs file: a real cgroupfs lets rmdir remove a group with
	// its interface files in place, but a plain directory with a file in
	// it cannot be rmdir'd. waitForDrain treats the unreadable
	// cgroup.procs as already drained.
	if _, err := os.Stat(filepath.Join(h.Path(), "cgroup.procs")); !os.IsNotExist(err) {
		t.Fatalf("fake cgroup unexpectedly has a cgroup.procs file")
	}
	Destroy("destroy")
	if _, err := os.Stat(h.Path()); !os.IsNotExist(err) {
		t.Fatalf("Destroy() left %s behind", h.Path())
	}
}

func TestDestroyOnMissingCgroupIsNoop(t *testing.T) {
	newFakeHierarchy(t)
	Destroy("never-created")
}

func TestKillSkipsMalformedLines(t *testing.T) {
	newFakeHierarchy(t)
	h, err := Create("killtest")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(h.Path(), "cgroup.procs"), []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Kill("killtest"); err != nil {
		t.Fatalf("Kill() error: %v", err)
	}
}

func TestKillOnMissingCgroupIsNoop(t *testing.T) {
	newFakeHierarchy(t)
	if err := Kill("never-created"); err != nil {
		t.Fatalf("Kill() on a missing cgroup should be a no-op, got: %v", err)
	}
}

func TestSweepOrphansRemovesUnknownOnly(t *testing.T) {
	newFakeHierarchy(t)
	if _, err := Create("known"); err != nil {
		t.Fatal(err)
	}
	if _, err := Create("orphan"); err != nil {
		t.Fatal(err)
	}
	SweepOrphans([]string{"known"})

	if _, err := os.Stat(filepath.Join(Root, groupPrefix+"known")); err != nil {
		t.Fatalf("SweepOrphans() removed a known container's cgroup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(Root, groupPrefix+"orphan")); !os.IsNotExist(err) {
		t.Fatalf("SweepOrphans() left the orphan cgroup behind")
	}
}

func TestGroupPrefixIsStable(t *testing.T) {
	if !strings.HasPrefix(groupPrefix, "craterun") {
		t.Fatalf("groupPrefix changed unexpectedly: %q", groupPrefix)
	}
}
