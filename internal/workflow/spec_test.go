package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultSpec(t *testing.T) {
	spec := DefaultSpec()
	if err := spec.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if spec.Job.Name != "rust" {
		t.Fatalf("Job.Name=%q, want rust", spec.Job.Name)
	}
	if spec.Timeout() != 60*time.Minute {
		t.Fatalf("Timeout()=%v, want 60m", spec.Timeout())
	}

	wantStages := []string{"format", "lint", "build-tests", "test"}
	got := spec.StageNames()
	if len(got) != len(wantStages) {
		t.Fatalf("StageNames()=%v, want %v", got, wantStages)
	}
	for i := range wantStages {
		if got[i] != wantStages[i] {
			t.Fatalf("stage[%d]=%q, want %q", i, got[i], wantStages[i])
		}
	}

	env := spec.EnvMap()
	if env["CARGO_PROFILE_DEV_DEBUG"] != "0" {
		t.Fatalf("CARGO_PROFILE_DEV_DEBUG=%q, want 0", env["CARGO_PROFILE_DEV_DEBUG"])
	}
	if env["CARGO_PROFILE_TEST_DEBUG"] != "0" {
		t.Fatalf("CARGO_PROFILE_TEST_DEBUG=%q, want 0", env["CARGO_PROFILE_TEST_DEBUG"])
	}
}

func TestParseSpec(t *testing.T) {
	raw := []byte(`
schema: mergegate.workflow.v1
job:
  name: rust
  timeout_minutes: 30
  env:
    - name: CARGO_PROFILE_DEV_DEBUG
      value: "0"
  stages:
    - name: format
      run: cargo fmt --all -- --check
    - name: test
      run: cargo test
`)
	spec, err := ParseSpec(raw)
	if err != nil {
		t.Fatalf("ParseSpec() err=%v", err)
	}
	if spec.Job.TimeoutMinutes != 30 {
		t.Fatalf("TimeoutMinutes=%d, want 30", spec.Job.TimeoutMinutes)
	}
	if len(spec.Job.Stages) != 2 {
		t.Fatalf("stages=%d, want 2", len(spec.Job.Stages))
	}
}

func TestSpecValidate(t *testing.T) {
	base := DefaultSpec()

	tests := []struct {
		name   string
		mutate func(*Spec)
	}{
		{"bad schema", func(s *Spec) { s.Schema = "bad" }},
		{"missing job name", func(s *Spec) { s.Job.Name = " " }},
		{"zero timeout", func(s *Spec) { s.Job.TimeoutMinutes = 0 }},
		{"no stages", func(s *Spec) { s.Job.Stages = nil }},
		{"blank stage name", func(s *Spec) { s.Job.Stages[0].Name = "" }},
		{"duplicate stage name", func(s *Spec) { s.Job.Stages[1].Name = s.Job.Stages[0].Name }},
		{"blank run", func(s *Spec) { s.Job.Stages[2].Run = "  " }},
		{"blank env name", func(s *Spec) { s.Job.Env[0].Name = "" }},
		{"blank push branch", func(s *Spec) { s.Triggers.Push.Branches = []string{" "} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := DefaultSpec()
			tc.mutate(&spec)
			if err := spec.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestTriggerSpec(t *testing.T) {
	var zero TriggerSpec
	if !zero.PullRequestEnabled() {
		t.Fatal("zero value should enable pull_request")
	}
	if got := zero.PushBranches(); len(got) != 1 || got[0] != DefaultPushBranch {
		t.Fatalf("zero value PushBranches()=%v, want [%s]", got, DefaultPushBranch)
	}

	prOnly := TriggerSpec{PullRequest: &PullRequestTriggerSpec{}}
	if got := prOnly.PushBranches(); len(got) != 0 {
		t.Fatalf("pull_request-only PushBranches()=%v, want none", got)
	}

	pushOnly := TriggerSpec{Push: &PushTriggerSpec{Branches: []string{"trunk"}}}
	if pushOnly.PullRequestEnabled() {
		t.Fatal("push-only spec should not enable pull_request")
	}
	if got := pushOnly.PushBranches(); len(got) != 1 || got[0] != "trunk" {
		t.Fatalf("PushBranches()=%v, want [trunk]", got)
	}

	declaredEmpty := TriggerSpec{Push: &PushTriggerSpec{}}
	if got := declaredEmpty.PushBranches(); len(got) != 1 || got[0] != DefaultPushBranch {
		t.Fatalf("declared push without branches PushBranches()=%v, want [%s]", got, DefaultPushBranch)
	}
}

func TestParseSpec_Triggers(t *testing.T) {
	raw := []byte(`
schema: mergegate.workflow.v1
triggers:
  push:
    branches: [trunk, release-1.2]
job:
  name: rust
  timeout_minutes: 30
  stages:
    - name: test
      run: cargo test
`)
	spec, err := ParseSpec(raw)
	if err != nil {
		t.Fatalf("ParseSpec() err=%v", err)
	}
	if spec.Triggers.PullRequestEnabled() {
		t.Fatal("pull_request should be off when only push is declared")
	}
	branches := spec.Triggers.PushBranches()
	if len(branches) != 2 || branches[0] != "trunk" || branches[1] != "release-1.2" {
		t.Fatalf("PushBranches()=%v", branches)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	spec, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() err=%v", err)
	}
	if spec.Job.Name != "rust" {
		t.Fatalf("expected default spec when file missing, got job %q", spec.Job.Name)
	}

	custom := []byte(`
schema: mergegate.workflow.v1
job:
  name: custom
  timeout_minutes: 10
  stages:
    - name: test
      run: cargo test
`)
	if err := os.WriteFile(filepath.Join(dir, SpecFileName), custom, 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	spec, err = LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() err=%v", err)
	}
	if spec.Job.Name != "custom" {
		t.Fatalf("Job.Name=%q, want custom", spec.Job.Name)
	}

	broken := []byte("schema: wrong\njob: {}\n")
	if err := os.WriteFile(filepath.Join(dir, SpecFileName), broken, 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}
	if _, err := LoadDir(dir); err == nil {
		t.Fatalf("expected error for invalid spec file")
	}
}
