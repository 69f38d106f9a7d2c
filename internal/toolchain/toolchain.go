// Package toolchain executes stage commands against a checkout using the
// host's build tools.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// OutputTailLimit bounds how much combined output a command result
// retains. Only the tail survives truncation; that is where build tools
// put the verdict.
const OutputTailLimit = 16 << 10

type CommandSpec struct {
	Dir  string
	Argv []string
	Env  map[string]string
}

type CommandResult struct {
	ExitCode int
	Output   []byte
}

// CommandRunner runs one command to completion. A non-zero exit is a
// result, not an error; errors mean the command could not be run.
type CommandRunner interface {
	Run(ctx context.Context, spec CommandSpec) (CommandResult, error)
}

// ExecRunner runs commands as local subprocesses. Environment overrides
// are appended per command, never set on the process, so concurrent jobs
// stay isolated.
type ExecRunner struct {
	outputLimit int
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{outputLimit: OutputTailLimit}
}

func (r *ExecRunner) Run(ctx context.Context, spec CommandSpec) (CommandResult, error) {
	if len(spec.Argv) == 0 {
		return CommandResult{}, errors.New("argv is required")
	}
	if strings.TrimSpace(spec.Argv[0]) == "" {
		return CommandResult{}, errors.New("argv[0] is required")
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = composeEnv(os.Environ(), spec.Env)

	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return CommandResult{}, fmt.Errorf("run %s: %w", spec.Argv[0], err)
		}
		return CommandResult{
			ExitCode: exitErr.ExitCode(),
			Output:   tail(out, r.outputLimit),
		}, nil
	}
	return CommandResult{ExitCode: 0, Output: tail(out, r.outputLimit)}, nil
}

func composeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(keys))
	out = append(out, base...)
	for _, key := range keys {
		out = append(out, key+"="+overrides[key])
	}
	return out
}

func tail(out []byte, limit int) []byte {
	if limit <= 0 || len(out) <= limit {
		return out
	}
	return out[len(out)-limit:]
}
