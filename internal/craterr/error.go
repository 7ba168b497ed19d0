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

// Package craterr defines the error taxonomy shared across craterun's
// internal packages, and the CLI exit codes each kind maps to.
package craterr

import "fmt"

// Kind distinguishes the handful of error categories a caller needs to
// branch on (mainly to pick an exit code or to decide whether a condition
// is expected, like an ambiguous ID prefix).
type Kind int

const (
	// KindConfig covers bad rootfs, empty cmd, unparseable limits.
	KindConfig Kind = iota
	// KindPermission covers EPERM and "not root" failures.
	KindPermission
	// KindKernel covers any other syscall failure.
	KindKernel
	// KindState covers missing, ambiguous, or corrupt container metadata.
	KindState
	// KindContainerExit isn't an error condition. No craterun package
	// returns it: run and exec hand back the container's own exit
	// status as a plain value, and ExitCode maps this kind to 1.
	KindContainerExit
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindPermission:
		return "permission"
	case KindKernel:
		return "kernel"
	case KindState:
		return "state"
	case KindContainerExit:
		return "container-exit"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every craterun package.
// Op names the operation that failed (e.g. "pivot_root", "resolve",
// "save"), and Err carries the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a craterr.Error of the given kind, naming the
// operation that failed. If err is nil, New returns nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configf builds a KindConfig error with a formatted message.
func Configf(op, format string, args ...any) error {
	return &Error{Kind: KindConfig, Op: op, Err: fmt.Errorf(format, args...)}
}

// Statef builds a KindState error with a formatted message.
func Statef(op, format string, args ...any) error {
	return &Error{Kind: KindState, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error. The second return is false if no *Error is found, in which case
// callers should treat the error as KindKernel.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return KindKernel, false
	}
	return e.Kind, true
}

// ExitCode maps an error returned by the lifecycle engine to the process
// exit code the CLI should use, per spec.md's error handling design.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	kind, _ := KindOf(err)
	switch kind {
	case KindConfig:
		return 2
	default:
		return 1
	}
}
