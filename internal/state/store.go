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

// Package state implements craterun's StateStore: atomic persistence and
// enumeration of ContainerMeta records on disk, following the
// tempfile-then-rename discipline spec.md §3 requires and the advisory
// per-container locking the teacher runtime takes around every metadata
// mutation.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/craterun/craterun/internal/container"
	"github.com/craterun/craterun/internal/craterr"
	"github.com/craterun/craterun/internal/logging"
)

const (
	metaFileName   = "metadata.json"
	tmpFileName    = "metadata.json.tmp"
	lockFileName   = "lock"
	stdoutFileName = "stdout.log"
	stderrFileName = "stderr.log"
)

// Which selects one of a container's two log streams.
type Which int

const (
	Stdout Which = iota
	Stderr
)

func (w Which) filename() string {
	if w == Stderr {
		return stderrFileName
	}
	return stdoutFileName
}

// Store is a StateStore rooted at a single directory, one subdirectory
// per container named by full ID.
type Store struct {
	Root string
}

// New returns a Store rooted at root, which is created if it doesn't
// exist.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o711); err != nil {
		return nil, craterr.New(craterr.KindKernel, "state.New", err)
	}
	return &Store{Root: root}, nil
}

// DefaultRoot returns spec.md's default state directory: /var/lib/craterun
// when running as root, else $HOME/.craterun.
func DefaultRoot() string {
	if os.Geteuid() == 0 {
		return "/var/lib/craterun"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".craterun")
}

func (s *Store) dir(id string) string       { return filepath.Join(s.Root, id) }
func (s *Store) metaPath(id string) string  { return filepath.Join(s.dir(id), metaFileName) }
func (s *Store) tmpPath(id string) string   { return filepath.Join(s.dir(id), tmpFileName) }
func (s *Store) lockPath(id string) string  { return filepath.Join(s.dir(id), lockFileName) }

// lock acquires an advisory flock on the container's lock file for the
// duration of a metadata mutation, mirroring the teacher runtime's
// Saver.lock()/UnlockOrDie() pattern around every Save.
func (s *Store) lock(id string) (*flock.Flock, error) {
	if err := os.MkdirAll(s.dir(id), 0o711); err != nil {
		return nil, craterr.New(craterr.KindKernel, "state.lock", err)
	}
	fl := flock.New(s.lockPath(id))
	if err := fl.Lock(); err != nil {
		return nil, craterr.New(craterr.KindKernel, "state.lock", err)
	}
	return fl, nil
}

// Save atomically persists meta: serialize to canonical JSON, write to
// metadata.json.tmp, fsync, rename over metadata.json. Creates the
// container directory if absent.
func (s *Store) Save(meta *container.Meta) error {
	fl, err := s.lock(meta.ID)
	if err != nil {
		return err
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			logging.Warningf("state: failed to unlock %s: %v", meta.ID, err)
		}
	}()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return craterr.New(craterr.KindKernel, "state.Save", err)
	}

	tmp := s.tmpPath(meta.ID)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return craterr.New(craterr.KindKernel, "state.Save", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return craterr.New(craterr.KindKernel, "state.Save", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return craterr.New(craterr.KindKernel, "state.Save", err)
	}
	if err := f.Close(); err != nil {
		return craterr.New(craterr.KindKernel, "state.Save", err)
	}
	if err := os.Rename(tmp, s.metaPath(meta.ID)); err != nil {
		return craterr.New(craterr.KindKernel, "state.Save", err)
	}
	return nil
}

// Load reads and decodes a container's metadata file. Returns a
// KindState *craterr.Error if the record doesn't exist or fails to
// parse.
func (s *Store) Load(id string) (*container.Meta, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, craterr.Statef("state.Load", "no such container: %q", id)
		}
		return nil, craterr.New(craterr.KindKernel, "state.Load", err)
	}
	var meta container.Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, craterr.Statef("state.Load", "corrupt metadata for %q: %v", id, err)
	}
	return &meta, nil
}

// ListResult pairs an entry's directory name with either its parsed Meta
// or the error encountered parsing it, so List can report per-entry
// failures without aborting the whole enumeration.
type ListResult struct {
	ID   string
	Meta *container.Meta
	Err  error
}

// List enumerates every container directory under Root. Entries that
// fail to load are reported individually via ListResult.Err rather than
// aborting the scan.
func (s *Store) List() ([]ListResult, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, craterr.New(craterr.KindKernel, "state.List", err)
	}

	var results []ListResult
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id := e.Name()
		meta, err := s.Load(id)
		results = append(results, ListResult{ID: id, Meta: meta, Err: err})
	}
	return results, nil
}

// IDs returns just the full container IDs currently on disk, for use
// with internal/id.Resolve.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, craterr.New(craterr.KindKernel, "state.IDs", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Delete removes a container's entire directory tree. Callers must have
// already verified (and, if necessary, ensured) that the container isn't
// Running.
func (s *Store) Delete(id string) error {
	meta, err := s.Load(id)
	if err == nil && meta.Status == container.Running {
		return craterr.Statef("state.Delete", "container %q is still running", id)
	}
	if err := os.RemoveAll(s.dir(id)); err != nil {
		return craterr.New(craterr.KindKernel, "state.Delete", err)
	}
	return nil
}

// OpenLogForAppend opens a container's stdout/stderr log file for
// append, creating it if absent. Used by the lifecycle engine when
// setting up the child's redirected stdio before fork.
func (s *Store) OpenLogForAppend(id string, which Which) (*os.File, error) {
	if err := os.MkdirAll(s.dir(id), 0o711); err != nil {
		return nil, craterr.New(craterr.KindKernel, "state.OpenLogForAppend", err)
	}
	path := filepath.Join(s.dir(id), which.filename())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, craterr.New(craterr.KindKernel, "state.OpenLogForAppend", err)
	}
	return f, nil
}

// OpenLogForRead opens a container's stdout/stderr log file for reading,
// used by `craterun logs`.
func (s *Store) OpenLogForRead(id string, which Which) (*os.File, error) {
	path := filepath.Join(s.dir(id), which.filename())
	f, err := os.Open(path)
	if err != nil {
		return nil, craterr.New(craterr.KindKernel, "state.OpenLogForRead", err)
	}
	return f, nil
}

// ContainerDir returns the on-disk directory for a container, for
// callers (like the `state` subcommand's bundle field) that need the raw
// path.
func (s *Store) ContainerDir(id string) string { return s.dir(id) }
