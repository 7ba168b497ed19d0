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

// Package lifecycle implements craterun's LifecycleEngine: the
// orchestrator that forks, synchronizes, and reaps a container's init
// process, wiring together internal/id, internal/state,
// internal/cgroup, and internal/isolation. The fork/exec protocol is
// grounded on containish's handleParentStage/handleChildStage and
// gocker's runParentProcess/runChildProcess: the child namespace is not
// entered via a manual unshare+fork but via re-exec'ing this binary with
// os/exec's SysProcAttr.Cloneflags, which performs the unshare and the
// PID-namespace placement atomically in one clone(2) call, so the
// caller-visible cmd.Process.Pid is already the grandchild's host PID
// (no separate double-fork bookkeeping is needed on the Go side).
package lifecycle

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/craterun/craterun/internal/cgroup"
	"github.com/craterun/craterun/internal/container"
	"github.com/craterun/craterun/internal/craterr"
	"github.com/craterun/craterun/internal/id"
	"github.com/craterun/craterun/internal/isolation"
	"github.com/craterun/craterun/internal/logging"
	"github.com/craterun/craterun/internal/state"
)

// childSubcommand is the hidden argv[1] this binary recognizes to run
// ChildMain instead of the normal CLI, following ccrun's childSub
// convention ("__ccrun_child__").
const childSubcommand = "__craterun_init__"

// nsenterSubcommand is the hidden argv[1] for the exec-into-container
// helper process (see NsenterMain).
const nsenterSubcommand = "__craterun_nsenter__"

// barrierFDEnv names the environment variable the parent uses to tell
// the child which inherited fd is the synchronization pipe's read end.
const barrierFDEnv = "CRATERUN_BARRIER_FD"

// Engine is the LifecycleEngine: it owns a StateStore and drives
// container creation, inspection, exec, and removal.
type Engine struct {
	Store *state.Store
}

// New returns an Engine backed by store.
func New(store *state.Store) *Engine {
	return &Engine{Store: store}
}

// RunResult is returned by Run once the container has exited.
type RunResult struct {
	ID       string
	ExitCode int32
}

// Run implements spec.md §4.E.1: validate, allocate an ID, fork the
// init process into new namespaces, admit it to a cgroup before it runs
// any user code, wait for it to exit, and persist the final state.
func (e *Engine) Run(cfg container.Config) (*RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	newID, err := id.New()
	if err != nil {
		return nil, craterr.New(craterr.KindKernel, "lifecycle.Run", err)
	}

	meta := &container.Meta{
		ID:        newID,
		Config:    cfg,
		Status:    container.Created,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.Store.Save(meta); err != nil {
		return nil, err
	}

	stdout, err := e.Store.OpenLogForAppend(newID, state.Stdout)
	if err != nil {
		return nil, err
	}
	defer stdout.Close()
	stderr, err := e.Store.OpenLogForAppend(newID, state.Stderr)
	if err != nil {
		return nil, err
	}
	defer stderr.Close()

	barrierR, barrierW, err := os.Pipe()
	if err != nil {
		return nil, craterr.New(craterr.KindKernel, "lifecycle.Run(pipe)", err)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, craterr.New(craterr.KindKernel, "lifecycle.Run", err)
	}

	argv := append([]string{childSubcommand, newID, cfg.Rootfs, meta.Hostname(), "--"}, cfg.Cmd...)
	cmd := exec.Command(self, argv...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.ExtraFiles = []*os.File{barrierR}
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", barrierFDEnv, 3))
	cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: isolation.NamespaceFlags}

	if err := cmd.Start(); err != nil {
		barrierR.Close()
		barrierW.Close()
		return nil, craterr.New(craterr.KindKernel, "lifecycle.Run(start)", err)
	}
	barrierR.Close()
	pid := cmd.Process.Pid

	cg, cgErr := e.admit(newID, &cfg, pid)
	if cgErr != nil {
		barrierW.Close()
		cmd.Process.Kill()
		cmd.Wait()
		return nil, cgErr
	}

	if _, err := barrierW.Write([]byte{0}); err != nil {
		logging.Warningf("lifecycle: failed to release barrier for %s: %v", newID, err)
	}
	barrierW.Close()

	meta.MarkRunning(pid, time.Now().UTC())
	if err := e.Store.Save(meta); err != nil {
		logging.Warningf("lifecycle: failed to persist Running state for %s: %v", newID, err)
	}

	waitErr := cmd.Wait()
	exitCode := exitCodeFromError(waitErr)

	meta.MarkStopped(exitCode, time.Now().UTC())
	if err := e.Store.Save(meta); err != nil {
		logging.Warningf("lifecycle: failed to persist Stopped state for %s: %v", newID, err)
	}

	if cg != nil {
		cgroup.Destroy(newID)
	}

	return &RunResult{ID: newID, ExitCode: exitCode}, nil
}

// admit creates the container's cgroup, applies its configured limits,
// and admits pid, all before the synchronization byte is sent. A
// failure here is fatal to the run attempt per spec.md §4.C's failure
// policy.
func (e *Engine) admit(id string, cfg *container.Config, pid int) (*cgroup.Handle, error) {
	h, err := cgroup.Create(id)
	if err != nil {
		return nil, err
	}
	if cfg.Limits != nil {
		if cfg.Limits.MemoryBytes != nil {
			if err := h.SetMemoryMax(*cfg.Limits.MemoryBytes); err != nil {
				return h, err
			}
		}
		if cfg.Limits.PidsMax != nil {
			if err := h.SetPidsMax(*cfg.Limits.PidsMax); err != nil {
				return h, err
			}
		}
		if cfg.Limits.CPU != nil {
			if err := h.SetCPUMax(cfg.Limits.CPU.QuotaUs, cfg.Limits.CPU.PeriodUs); err != nil {
				return h, err
			}
		} else if cfg.Limits.CPUPercent != nil {
			if err := h.SetCPUPercent(*cfg.Limits.CPUPercent); err != nil {
				return h, err
			}
		}
	}
	if err := h.Admit(pid); err != nil {
		return h, err
	}
	return h, nil
}

// exitCodeFromError converts the result of cmd.Wait() into spec.md's
// exit-code encoding: a normal exit keeps its status; a signal death is
// the negative signal number.
func exitCodeFromError(err error) int32 {
	if err == nil {
		return 0
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1
	}
	return exitCodeFromWaitStatus(exitErr.Sys().(syscall.WaitStatus))
}

func exitCodeFromWaitStatus(ws syscall.WaitStatus) int32 {
	if ws.Signaled() {
		return int32(-ws.Signal())
	}
	return int32(ws.ExitStatus())
}

// PsEntry is one row of `craterun ps` output.
type PsEntry struct {
	Meta    *container.Meta
	Repaired bool
}

// procAlive reports whether pid currently exists, per /proc. It is a
// package variable so tests can substitute a fake without a real
// process table.
var procAlive = func(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}

// staleExitCode is the unknown-sentinel exit code spec.md §4.E.3 assigns
// to a Running record whose PID has silently disappeared (e.g. after a
// host crash), since the real exit status can no longer be recovered.
const staleExitCode = -1

// Ps implements spec.md §4.E.3: enumerate all metadata, repairing any
// Running record whose PID is no longer live. As an additive cleanup
// (spec.md §9's orphan-cgroup open question), it also sweeps any
// craterun-* cgroup directory with no matching metadata.
func (e *Engine) Ps() ([]PsEntry, error) {
	results, err := e.Store.List()
	if err != nil {
		return nil, err
	}
	entries := make([]PsEntry, 0, len(results))
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
		if r.Err != nil {
			logging.Warningf("lifecycle: skipping unreadable record %s: %v", r.ID, r.Err)
			continue
		}
		meta := r.Meta
		repaired := false
		if meta.Status == container.Running && !procAlive(meta.Pid) {
			meta.MarkStopped(staleExitCode, time.Now().UTC())
			if err := e.Store.Save(meta); err != nil {
				logging.Warningf("lifecycle: failed to persist repaired record %s: %v", meta.ID, err)
			}
			repaired = true
		}
		entries = append(entries, PsEntry{Meta: meta, Repaired: repaired})
	}
	cgroup.SweepOrphans(ids)
	return entries, nil
}

// Rm implements spec.md §4.E.5.
func (e *Engine) Rm(prefix string, force bool) error {
	fullID, err := e.resolve(prefix)
	if err != nil {
		return err
	}
	meta, err := e.Store.Load(fullID)
	if err != nil {
		return err
	}
	if meta.Status == container.Running {
		if !force {
			return craterr.Statef("lifecycle.Rm", "container %q is running; use --force", fullID)
		}
		if err := killAndWait(meta.Pid); err != nil {
			logging.Warningf("lifecycle: %v", err)
		}
		// killAndWait only reaches meta.Pid itself; cgroup.Kill sweeps
		// whatever else is left in the container's cgroup.procs, which
		// catches any descendant the init process forked before dying.
		if err := cgroup.Kill(fullID); err != nil {
			logging.Warningf("lifecycle: %v", err)
		}
		meta.MarkStopped(staleExitCode, time.Now().UTC())
		if err := e.Store.Save(meta); err != nil {
			logging.Warningf("lifecycle: failed to persist forced-stop record %s: %v", fullID, err)
		}
	}
	cgroup.Destroy(fullID)
	return e.Store.Delete(fullID)
}

// killAndWait sends SIGKILL to pid and polls for its disappearance for
// up to a 5s grace period, per spec.md §4.E.5.
func killAndWait(pid int) error {
	if pid == 0 {
		return nil
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("lifecycle.Rm: kill(%d): %w", pid, err)
	}
	op := func() error {
		if procAlive(pid) {
			return fmt.Errorf("pid %d still alive", pid)
		}
		return nil
	}
	b := backoff.NewConstantBackOff(100 * time.Millisecond)
	return backoff.Retry(op, backoff.WithMaxRetries(b, 50)) // ~5s grace period
}

// resolve resolves prefix against the full set of known IDs via
// internal/id.Resolve.
func (e *Engine) resolve(prefix string) (string, error) {
	ids, err := e.Store.IDs()
	if err != nil {
		return "", err
	}
	return id.Resolve(prefix, ids)
}

// Logs implements spec.md §4.E.4: stream the container's captured
// stdout/stderr snapshot to the caller's own streams.
func (e *Engine) Logs(prefix string, stdout, stderr *os.File) error {
	fullID, err := e.resolve(prefix)
	if err != nil {
		return err
	}
	out, err := e.Store.OpenLogForRead(fullID, state.Stdout)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(stdout, out); err != nil {
		return craterr.New(craterr.KindKernel, "lifecycle.Logs", err)
	}

	errLog, err := e.Store.OpenLogForRead(fullID, state.Stderr)
	if err != nil {
		return err
	}
	defer errLog.Close()
	if _, err := io.Copy(stderr, errLog); err != nil {
		return craterr.New(craterr.KindKernel, "lifecycle.Logs", err)
	}
	return nil
}

// Exec implements spec.md §4.E.2: resolve the prefix, refuse unless
// Running, then re-exec this binary as the nsenter helper to join the
// container's namespaces and run cmd. It does not create or join the
// container's cgroup (a known v1 limitation per spec.md §9).
func (e *Engine) Exec(prefix string, cmdArgv []string) (int, error) {
	fullID, err := e.resolve(prefix)
	if err != nil {
		return 0, err
	}
	meta, err := e.Store.Load(fullID)
	if err != nil {
		return 0, err
	}
	if meta.Status != container.Running {
		return 0, craterr.Statef("lifecycle.Exec", "container %q is not running", fullID)
	}

	self, err := os.Executable()
	if err != nil {
		return 0, craterr.New(craterr.KindKernel, "lifecycle.Exec", err)
	}
	argv := append([]string{nsenterSubcommand, fmt.Sprintf("%d", meta.Pid), "--"}, cmdArgv...)
	cmd := exec.Command(self, argv...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return 0, craterr.New(craterr.KindKernel, "lifecycle.Exec", err)
	}
	return 0, nil
}
