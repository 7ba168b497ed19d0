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

package main

import "testing"

func TestParseLimitsCPUTwoFieldForm(t *testing.T) {
	c := &runCmd{cpu: "50000 100000"}
	limits, err := c.parseLimits()
	if err != nil {
		t.Fatalf("parseLimits() error: %v", err)
	}
	if limits.CPU == nil || limits.CPU.QuotaUs != 50000 || limits.CPU.PeriodUs != 100000 {
		t.Fatalf("parseLimits() CPU = %+v, want quota=50000 period=100000", limits.CPU)
	}
	if limits.CPUPercent != nil {
		t.Fatalf("parseLimits() CPUPercent = %v, want nil for the two-field form", *limits.CPUPercent)
	}
}

func TestParseLimitsCPUPercentForm(t *testing.T) {
	c := &runCmd{cpu: "50"}
	limits, err := c.parseLimits()
	if err != nil {
		t.Fatalf("parseLimits() error: %v", err)
	}
	if limits.CPUPercent == nil || *limits.CPUPercent != 50 {
		t.Fatalf("parseLimits() CPUPercent = %v, want 50", limits.CPUPercent)
	}
	if limits.CPU != nil {
		t.Fatalf("parseLimits() CPU = %+v, want nil for the percentage form", limits.CPU)
	}
}

func TestParseLimitsCPURejectsGarbage(t *testing.T) {
	c := &runCmd{cpu: "a b c"}
	if _, err := c.parseLimits(); err == nil {
		t.Fatalf("parseLimits() with 3 fields should have failed")
	}
}

func TestParseLimitsNoFlagsReturnsNil(t *testing.T) {
	c := &runCmd{}
	limits, err := c.parseLimits()
	if err != nil {
		t.Fatalf("parseLimits() error: %v", err)
	}
	if limits != nil {
		t.Fatalf("parseLimits() = %+v, want nil", limits)
	}
}
