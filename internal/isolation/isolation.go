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

// Package isolation implements craterun's IsolationPrimitives: namespace
// unsharing, hostname assignment, and the mount/pivot_root sequence that
// swaps a process into a container's root filesystem. The sequencing
// follows containish's handleChildStage and gocker's
// setupNamespaces/mountProc/pivotRoot, adapted to spec.md §4.D's
// six-step ordering.
package isolation

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/craterun/craterun/internal/craterr"
)

// NamespaceFlags is the set of namespaces unshared simultaneously for a
// new container's init process: PID, mount, UTS, IPC, network.
const NamespaceFlags = unix.CLONE_NEWPID |
	unix.CLONE_NEWNS |
	unix.CLONE_NEWUTS |
	unix.CLONE_NEWIPC |
	unix.CLONE_NEWNET

// devNodes are bind-mounted from the host's /dev into the container's
// /dev per spec.md §4.D step 5.
var devNodes = []string{"null", "zero", "random", "urandom", "tty"}

// SetHostname sets the kernel hostname inside the (already unshared)
// UTS namespace.
func SetHostname(name string) error {
	if err := unix.Sethostname([]byte(name)); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.SetHostname", err)
	}
	return nil
}

// SetupMounts performs spec.md §4.D's mount sequence, steps 1-6,
// culminating in pivot_root. rootfs must already have passed
// container.Config.Validate. Must run inside the already-unshared mount
// namespace (CLONE_NEWNS), before execve.
func SetupMounts(rootfs string) error {
	// Step 1: mark / private-recursive so nothing here propagates back
	// to the host's mount namespace.
	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.mount(private)", err)
	}

	// Step 2: bind-mount rootfs onto itself. pivot_root requires both
	// new_root and put_old to be mount points.
	if err := unix.Mount(rootfs, rootfs, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.mount(bind-self)", err)
	}

	// Step 3: put_old directory for pivot_root.
	oldroot := filepath.Join(rootfs, ".oldroot")
	if err := os.MkdirAll(oldroot, 0o700); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.mkdir(.oldroot)", err)
	}

	// Step 4: fresh procfs.
	procDir := filepath.Join(rootfs, "proc")
	if err := os.MkdirAll(procDir, 0o555); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.mkdir(proc)", err)
	}
	if err := unix.Mount("proc", procDir, "proc", 0, ""); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.mount(proc)", err)
	}

	// Step 5: minimal /dev via bind-mounted host device nodes.
	devDir := filepath.Join(rootfs, "dev")
	if err := os.MkdirAll(devDir, 0o755); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.mkdir(dev)", err)
	}
	for _, node := range devNodes {
		if err := bindDevNode(node, devDir); err != nil {
			return err
		}
	}

	// Step 6: pivot_root, chdir, detach and remove the old root.
	if err := unix.PivotRoot(rootfs, oldroot); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.pivot_root", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.chdir", err)
	}
	if err := unix.Unmount("/.oldroot", unix.MNT_DETACH); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.umount(.oldroot)", err)
	}
	if err := os.Remove("/.oldroot"); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.rmdir(.oldroot)", err)
	}
	return nil
}

func bindDevNode(name, devDir string) error {
	src := filepath.Join("/dev", name)
	dst := filepath.Join(devDir, name)
	f, err := os.OpenFile(dst, os.O_CREATE, 0o644)
	if err != nil {
		return craterr.New(craterr.KindKernel, fmt.Sprintf("isolation.touch(%s)", name), err)
	}
	f.Close()
	if err := unix.Mount(src, dst, "", unix.MS_BIND, ""); err != nil {
		return craterr.New(craterr.KindKernel, fmt.Sprintf("isolation.mount(%s)", name), err)
	}
	return nil
}

// NamespacePaths returns the five /proc/<pid>/ns/* paths a `craterun
// exec` joins via setns, in the order spec.md §4.F requires: pid must be
// joined (i.e. opened) before the exec helper forks, mnt last among the
// filesystem-affecting namespaces.
func NamespacePaths(pid int) []NamespaceFile {
	base := fmt.Sprintf("/proc/%d/ns", pid)
	return []NamespaceFile{
		{Type: unix.CLONE_NEWPID, Path: filepath.Join(base, "pid")},
		{Type: unix.CLONE_NEWUTS, Path: filepath.Join(base, "uts")},
		{Type: unix.CLONE_NEWIPC, Path: filepath.Join(base, "ipc")},
		{Type: unix.CLONE_NEWNET, Path: filepath.Join(base, "net")},
		{Type: unix.CLONE_NEWNS, Path: filepath.Join(base, "mnt")},
	}
}

// NamespaceFile pairs a namespace type constant with its /proc/<pid>/ns
// file, for ordered setns.
type NamespaceFile struct {
	Type int
	Path string
}

// JoinNamespaces opens and setns's into each namespace file in order.
// Must be called before the caller forks again so that CLONE_NEWPID
// takes effect on the next fork, per spec.md §4.F.
func JoinNamespaces(files []NamespaceFile) error {
	for _, nsf := range files {
		fd, err := unix.Open(nsf.Path, unix.O_RDONLY, 0)
		if err != nil {
			return craterr.New(craterr.KindKernel, "isolation.open(ns)", err)
		}
		err = unix.Setns(fd, nsf.Type)
		unix.Close(fd)
		if err != nil {
			return craterr.New(craterr.KindKernel, "isolation.setns", err)
		}
	}
	return nil
}

// JoinRoot re-roots the calling process into target's filesystem view
// after JoinNamespaces has already setns'd into target's mount
// namespace. setns(CLONE_NEWNS) alone does not touch the caller's
// fs_struct: its root and cwd keep pointing at whatever they resolved
// to before the call, so without this step a process that has "joined"
// the container's mount namespace still walks paths against its own,
// unpivoted root. /proc/<pid>/root is a magic symlink that resolves
// through target's root independent of the caller's current
// namespace, which is what nsenter(1)'s --root does; chdir into it and
// chroot "." makes the re-root atomic from the caller's point of view.
// Must run after JoinNamespaces and before any fork whose child is
// meant to execve inside the container.
func JoinRoot(pid int) error {
	root := fmt.Sprintf("/proc/%d/root", pid)
	if err := unix.Chdir(root); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.chdir(root)", err)
	}
	if err := unix.Chroot("."); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.chroot", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return craterr.New(craterr.KindKernel, "isolation.chdir(/)", err)
	}
	return nil
}
