package toolchain

import (
	"context"
	"strings"
	"testing"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/pipeline"
	"github.com/mergegate-labs/mergegate-go/internal/workflow"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", "cargo test", []string{"cargo", "test"}},
		{"flags", "cargo fmt --all -- --check", []string{"cargo", "fmt", "--all", "--", "--check"}},
		{"clippy", "cargo clippy --all-targets -- -D warnings", []string{"cargo", "clippy", "--all-targets", "--", "-D", "warnings"}},
		{"double quotes", `echo "hello world"`, []string{"echo", "hello world"}},
		{"single quotes", "echo 'a b'", []string{"echo", "a b"}},
		{"extra whitespace", "  cargo \t test  ", []string{"cargo", "test"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SplitCommand(tc.in)
			if err != nil {
				t.Fatalf("SplitCommand(%q) err=%v", tc.in, err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("SplitCommand(%q)=%v, want %v", tc.in, got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("argv[%d]=%q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestSplitCommand_Rejects(t *testing.T) {
	if _, err := SplitCommand(""); err == nil {
		t.Fatalf("expected error for empty command")
	}
	if _, err := SplitCommand("   "); err == nil {
		t.Fatalf("expected error for blank command")
	}
	if _, err := SplitCommand(`echo "unterminated`); err == nil {
		t.Fatalf("expected error for unterminated quote")
	}
}

func TestComposeEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/home/ci"}
	got := composeEnv(base, map[string]string{
		"CARGO_PROFILE_TEST_DEBUG": "0",
		"CARGO_PROFILE_DEV_DEBUG":  "0",
	})

	if len(got) != 4 {
		t.Fatalf("len=%d, want 4", len(got))
	}
	if got[0] != "PATH=/usr/bin" {
		t.Fatalf("base env must come first, got %q", got[0])
	}
	// Overrides are appended sorted, so later entries win deterministically.
	if got[2] != "CARGO_PROFILE_DEV_DEBUG=0" || got[3] != "CARGO_PROFILE_TEST_DEBUG=0" {
		t.Fatalf("overrides=%v", got[2:])
	}

	same := composeEnv(base, nil)
	if len(same) != len(base) {
		t.Fatalf("nil overrides must not change env")
	}
}

func TestTail(t *testing.T) {
	long := strings.Repeat("a", 100) + "tail"
	got := tail([]byte(long), 4)
	if string(got) != "tail" {
		t.Fatalf("tail=%q, want the last bytes", got)
	}

	short := []byte("ok")
	if string(tail(short, 10)) != "ok" {
		t.Fatalf("short output must pass through")
	}
}

type fakeRunner struct {
	spec   CommandSpec
	result CommandResult
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, spec CommandSpec) (CommandResult, error) {
	f.spec = spec
	return f.result, f.err
}

func TestCommandCheck_Run(t *testing.T) {
	runner := &fakeRunner{result: CommandResult{ExitCode: 0, Output: []byte("ok")}}
	check, err := NewCommandCheck("format", "cargo fmt --all -- --check", runner)
	if err != nil {
		t.Fatalf("NewCommandCheck() err=%v", err)
	}
	if check.Name() != "format" {
		t.Fatalf("Name()=%q, want format", check.Name())
	}

	job := pipeline.Job{
		ID:      "job-1",
		Workdir: "/work/job-1",
		Env:     map[string]string{"CARGO_PROFILE_DEV_DEBUG": "0"},
	}
	res, err := check.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if res.Status != domain.StageStatusSucceeded {
		t.Fatalf("Status=%q, want succeeded", res.Status)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("ExitCode=%v, want 0", res.ExitCode)
	}
	if runner.spec.Dir != "/work/job-1" {
		t.Fatalf("Dir=%q, want the job workdir", runner.spec.Dir)
	}
	if runner.spec.Env["CARGO_PROFILE_DEV_DEBUG"] != "0" {
		t.Fatalf("env override not forwarded")
	}
	if len(runner.spec.Argv) != 5 || runner.spec.Argv[0] != "cargo" {
		t.Fatalf("Argv=%v", runner.spec.Argv)
	}
}

func TestCommandCheck_NonZeroExitIsFailure(t *testing.T) {
	runner := &fakeRunner{result: CommandResult{ExitCode: 101, Output: []byte("clippy warnings")}}
	check, err := NewCommandCheck("lint", "cargo clippy --all-targets -- -D warnings", runner)
	if err != nil {
		t.Fatalf("NewCommandCheck() err=%v", err)
	}

	res, err := check.Run(context.Background(), pipeline.Job{ID: "job-1"})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if res.Status != domain.StageStatusFailed {
		t.Fatalf("Status=%q, want failed", res.Status)
	}
	if res.ExitCode == nil || *res.ExitCode != 101 {
		t.Fatalf("ExitCode=%v, want 101", res.ExitCode)
	}
	if res.OutputTail != "clippy warnings" {
		t.Fatalf("OutputTail=%q", res.OutputTail)
	}
}

func TestChecksFromSpec(t *testing.T) {
	runner := &fakeRunner{}
	checks, err := ChecksFromSpec(workflow.DefaultSpec(), runner)
	if err != nil {
		t.Fatalf("ChecksFromSpec() err=%v", err)
	}
	if len(checks) != 4 {
		t.Fatalf("checks=%d, want 4", len(checks))
	}
	want := []string{"format", "lint", "build-tests", "test"}
	for i, check := range checks {
		if check.Name() != want[i] {
			t.Fatalf("check[%d]=%q, want %q", i, check.Name(), want[i])
		}
	}

	bad := workflow.DefaultSpec()
	bad.Job.Stages[0].Run = `echo "unterminated`
	if _, err := ChecksFromSpec(bad, runner); err == nil {
		t.Fatalf("expected error for invalid stage command")
	}
}
