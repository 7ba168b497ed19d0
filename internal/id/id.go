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

// Package id implements craterun's IdentityService: generating container
// IDs and resolving unambiguous prefixes of them back to a full ID.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/craterun/craterun/internal/craterr"
)

// Length is the number of hex characters in a full container ID (64
// random bits rendered as hex).
const Length = 16

// MinPrefixLength is the shortest prefix resolve() will accept.
const MinPrefixLength = 4

// New generates a fresh container ID: 64 cryptographically random bits
// rendered as 16 lowercase hex characters.
func New() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", craterr.New(craterr.KindKernel, "new_id", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// Resolve maps a case-insensitive prefix of length >= MinPrefixLength to
// the single full ID in knownIDs it identifies. An exact full-length
// match always wins over a prefix match even if, pathologically, it is
// also a prefix of another ID. Returns a *craterr.Error of KindState if
// the prefix is too short, matches nothing, or matches more than one ID.
func Resolve(prefix string, knownIDs []string) (string, error) {
	if len(prefix) < MinPrefixLength {
		return "", craterr.Statef("resolve", "prefix %q is shorter than the minimum %d characters", prefix, MinPrefixLength)
	}
	lower := strings.ToLower(prefix)

	if len(lower) == Length {
		for _, known := range knownIDs {
			if strings.ToLower(known) == lower {
				return known, nil
			}
		}
	}

	var candidates []string
	for _, known := range knownIDs {
		if strings.HasPrefix(strings.ToLower(known), lower) {
			candidates = append(candidates, known)
		}
	}

	switch len(candidates) {
	case 0:
		return "", craterr.Statef("resolve", "no such container: %q", prefix)
	case 1:
		return candidates[0], nil
	default:
		sort.Strings(candidates)
		return "", craterr.Statef("resolve", "ambiguous prefix %q matches %d containers: %s", prefix, len(candidates), strings.Join(candidates, ", "))
	}
}
