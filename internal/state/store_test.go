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

package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/craterun/craterun/internal/container"
	"github.com/craterun/craterun/internal/craterr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	meta := &container.Meta{
		ID:        "abcd000000000000",
		Config:    container.Config{Rootfs: "/rootfs", Cmd: []string{"/bin/sh"}},
		Status:    container.Created,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.Save(meta); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := s.Load(meta.ID)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.ID != meta.ID || got.Status != meta.Status || got.Config.Rootfs != meta.Config.Rootfs {
		t.Fatalf("Load() = %+v, want %+v", got, meta)
	}
}

// TestSaveWritesFlatMetadataSchema guards spec.md §6's documented
// metadata.json shape: rootfs/cmd/hostname/limits are siblings of
// id/pid/status/..., not nested under a "config" object.
func TestSaveWritesFlatMetadataSchema(t *testing.T) {
	s := newTestStore(t)
	meta := &container.Meta{
		ID:     "abcd000000000000",
		Config: container.Config{Rootfs: "/rootfs", Cmd: []string{"/bin/sh"}, Hostname: "box"},
		Pid:    7,
		Status: container.Created,
	}
	if err := s.Save(meta); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	raw, err := os.ReadFile(s.metaPath(meta.ID))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}

	if _, nested := doc["config"]; nested {
		t.Fatalf("metadata.json nests fields under \"config\": %s", raw)
	}
	for _, key := range []string{"id", "rootfs", "cmd", "hostname", "limits", "pid", "status", "exit_code", "created_at", "started_at", "stopped_at"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("metadata.json missing top-level key %q: %s", key, raw)
		}
	}
}

func TestLoadMissingIsStateError(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load("doesnotexist00")
	if err == nil {
		t.Fatalf("Load() of a missing container should have failed")
	}
	if kind, ok := craterr.KindOf(err); !ok || kind != craterr.KindState {
		t.Fatalf("Load() of a missing container returned %v, want a KindState error", err)
	}
}

func TestSaveIsAtomicAcrossSimulatedCrash(t *testing.T) {
	s := newTestStore(t)
	meta := &container.Meta{ID: "abcd000000000000", Status: container.Created}
	if err := s.Save(meta); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// Simulate a crash between tempfile write and rename: write garbage
	// to the tmp path only, leaving metadata.json untouched.
	if err := os.WriteFile(s.tmpPath(meta.ID), []byte("not valid json{{{"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(meta.ID)
	if err != nil {
		t.Fatalf("Load() after simulated crash should still return the previous value, got error: %v", err)
	}
	if got.Status != container.Created {
		t.Fatalf("Load() after simulated crash = %+v, want unchanged previous value", got)
	}
}

func TestListReportsPerEntryFailuresWithoutAborting(t *testing.T) {
	s := newTestStore(t)
	good := &container.Meta{ID: "abcd000000000000", Status: container.Created}
	if err := s.Save(good); err != nil {
		t.Fatal(err)
	}

	badDir := filepath.Join(s.Root, "deadbeef00000000")
	if err := os.MkdirAll(badDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(badDir, metaFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	results, err := s.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("List() returned %d results, want 2", len(results))
	}
	var sawGood, sawBad bool
	for _, r := range results {
		switch r.ID {
		case good.ID:
			if r.Err != nil {
				t.Fatalf("good entry reported error: %v", r.Err)
			}
			sawGood = true
		case "deadbeef00000000":
			if r.Err == nil {
				t.Fatalf("corrupt entry should have reported an error")
			}
			sawBad = true
		}
	}
	if !sawGood || !sawBad {
		t.Fatalf("List() did not report both entries: %+v", results)
	}
}

func TestDeleteRefusesRunningContainer(t *testing.T) {
	s := newTestStore(t)
	meta := &container.Meta{ID: "abcd000000000000", Status: container.Created}
	meta.MarkRunning(1, time.Now())
	if err := s.Save(meta); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(meta.ID); err == nil {
		t.Fatalf("Delete() of a running container should have failed")
	}
}

func TestDeleteRemovesDirectoryTree(t *testing.T) {
	s := newTestStore(t)
	meta := &container.Meta{ID: "abcd000000000000", Status: container.Created}
	if err := s.Save(meta); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(meta.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := os.Stat(s.dir(meta.ID)); !os.IsNotExist(err) {
		t.Fatalf("container directory still exists after Delete()")
	}
}

func TestOpenLogForAppendThenRead(t *testing.T) {
	s := newTestStore(t)
	id := "abcd000000000000"
	w, err := s.OpenLogForAppend(id, Stdout)
	if err != nil {
		t.Fatalf("OpenLogForAppend() error: %v", err)
	}
	if _, err := w.WriteString("hi\n"); err != nil {
		t.Fatal(err)
	}
	w.Close()

	r, err := s.OpenLogForRead(id, Stdout)
	if err != nil {
		t.Fatalf("OpenLogForRead() error: %v", err)
	}
	defer r.Close()
	buf := make([]byte, 16)
	n, _ := r.Read(buf)
	if string(buf[:n]) != "hi\n" {
		t.Fatalf("read log = %q, want %q", buf[:n], "hi\n")
	}
}
