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
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/craterun/craterun/internal/isolation"
)

// childExitDiagnostic is the exit code used when anything between the
// namespace clone and execve fails, per spec.md §7's propagation
// policy: distinguishable from 127 (exec not found) and from the user
// command's own codes.
const childExitDiagnostic = 125

// childExitExecFailed is used specifically when the final execve fails.
const childExitExecFailed = 127

// IsChildInvocation reports whether os.Args names the hidden init
// subcommand, so cmd/craterun's main() can dispatch to ChildMain before
// the normal CLI parser ever sees it.
func IsChildInvocation(args []string) bool {
	return len(args) > 1 && args[1] == childSubcommand
}

// IsNsenterInvocation is the Exec-side counterpart of IsChildInvocation.
func IsNsenterInvocation(args []string) bool {
	return len(args) > 1 && args[1] == nsenterSubcommand
}

// ChildMain is the entry point re-executed by Run inside the new
// namespaces (already PID 1 of its PID namespace, courtesy of
// exec.Command's Cloneflags). It blocks on the synchronization barrier,
// applies the hostname and mount sequence, then execve's the user
// command. It never returns: every path ends in os.Exit.
//
// argv layout: __craterun_init__ <id> <rootfs> <hostname> -- <cmd...>
func ChildMain(args []string) {
	rest := args[2:]
	if len(rest) < 4 {
		fmt.Fprintln(os.Stderr, "craterun: malformed init invocation")
		os.Exit(childExitDiagnostic)
	}
	rootfs, hostname := rest[1], rest[2]
	sep := 3
	if rest[sep] != "--" {
		fmt.Fprintln(os.Stderr, "craterun: malformed init invocation: missing --")
		os.Exit(childExitDiagnostic)
	}
	cmdArgv := rest[sep+1:]
	if len(cmdArgv) == 0 {
		fmt.Fprintln(os.Stderr, "craterun: empty command")
		os.Exit(childExitDiagnostic)
	}

	if err := waitBarrier(); err != nil {
		fmt.Fprintf(os.Stderr, "craterun: barrier wait failed: %v\n", err)
		os.Exit(childExitDiagnostic)
	}

	if err := isolation.SetHostname(hostname); err != nil {
		fmt.Fprintf(os.Stderr, "craterun: %v\n", err)
		os.Exit(childExitDiagnostic)
	}

	if err := isolation.SetupMounts(rootfs); err != nil {
		fmt.Fprintf(os.Stderr, "craterun: %v\n", err)
		os.Exit(childExitDiagnostic)
	}

	if err := unix.Exec(cmdArgv[0], cmdArgv, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "craterun: exec %s: %v\n", cmdArgv[0], err)
		os.Exit(childExitExecFailed)
	}
}

// waitBarrier blocks reading one byte from the inherited barrier fd,
// named by CRATERUN_BARRIER_FD. This is the ordering guarantee of
// spec.md §5: cgroup admission strictly precedes any user code.
func waitBarrier() error {
	fdStr := os.Getenv(barrierFDEnv)
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", barrierFDEnv, err)
	}
	f := os.NewFile(uintptr(fd), "barrier")
	defer f.Close()
	buf := make([]byte, 1)
	if _, err := f.Read(buf); err != nil {
		return fmt.Errorf("reading barrier byte: %w", err)
	}
	return nil
}
