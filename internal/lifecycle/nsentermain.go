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

package lifecycle

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"syscall"

	"github.com/craterun/craterun/internal/isolation"
)

// NsenterMain is the entry point re-executed by Exec to join a running
// container's namespaces and run a command inside them. spec.md §4.E.2
// requires the namespaces be joined (pid first, mnt last) before a
// fork, and the fork's child to execve -- not this process itself,
// since setns(CLONE_NEWPID) only affects the namespace membership of
// processes this one subsequently creates. Go's runtime ordinarily
// schedules goroutines across OS threads, which would make "the thread
// that called setns" and "the thread that forks" different threads; we
// pin both calls to the same OS thread with runtime.LockOSThread so the
// fork (via the raw fork+exec syscall pair, not exec.Command, to avoid
// the Go scheduler stepping between the two) inherits the setns state.
// Joining the mnt namespace alone doesn't move this process's root or
// cwd, so isolation.JoinRoot chroots into the target's /proc/<pid>/root
// right after; the fork+exec below then inherits that chroot the same
// way it inherits the namespace membership.
//
// argv layout: __craterun_nsenter__ <pid> -- <cmd...>
func NsenterMain(args []string) {
	runtime.LockOSThread()

	rest := args[2:]
	if len(rest) < 2 || rest[1] != "--" {
		fmt.Fprintln(os.Stderr, "craterun: malformed nsenter invocation")
		os.Exit(childExitDiagnostic)
	}
	pid, err := strconv.Atoi(rest[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "craterun: invalid pid: %v\n", err)
		os.Exit(childExitDiagnostic)
	}
	cmdArgv := rest[2:]
	if len(cmdArgv) == 0 {
		fmt.Fprintln(os.Stderr, "craterun: empty exec command")
		os.Exit(childExitDiagnostic)
	}

	if err := isolation.JoinNamespaces(isolation.NamespacePaths(pid)); err != nil {
		fmt.Fprintf(os.Stderr, "craterun: %v\n", err)
		os.Exit(childExitDiagnostic)
	}
	if err := isolation.JoinRoot(pid); err != nil {
		fmt.Fprintf(os.Stderr, "craterun: %v\n", err)
		os.Exit(childExitDiagnostic)
	}

	binPath, err := lookPathInRoot(pid, cmdArgv[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "craterun: %v\n", err)
		os.Exit(childExitExecFailed)
	}

	childPid, err := syscall.ForkExec(binPath, cmdArgv, &syscall.ProcAttr{
		Env:   os.Environ(),
		Files: []uintptr{0, 1, 2},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "craterun: exec %s: %v\n", cmdArgv[0], err)
		os.Exit(childExitExecFailed)
	}

	var ws syscall.WaitStatus
	for {
		_, err := syscall.Wait4(childPid, &ws, 0, nil)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "craterun: waitpid: %v\n", err)
			os.Exit(childExitDiagnostic)
		}
		break
	}
	os.Exit(int(exitCodeFromWaitStatus(ws)))
}

// lookPathInRoot returns argv0 unchanged, rejecting only an empty name.
// No $PATH search is done: a bare command name is passed to execve as
// is and resolves against the now-chrooted process's working directory.
// exec's argv[0] is almost always an absolute path in this runtime's
// scenarios (/bin/sh, etc.).
func lookPathInRoot(pid int, argv0 string) (string, error) {
	if argv0 == "" {
		return "", fmt.Errorf("empty command")
	}
	return argv0, nil
}
