package toolchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/pipeline"
	"github.com/mergegate-labs/mergegate-go/internal/workflow"
)

// CommandCheck adapts one declared stage command into a pipeline check.
type CommandCheck struct {
	name   string
	argv   []string
	runner CommandRunner
}

func NewCommandCheck(name string, command string, runner CommandRunner) (*CommandCheck, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("check name is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("command runner is required")
	}
	argv, err := SplitCommand(command)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", name, err)
	}
	return &CommandCheck{name: name, argv: argv, runner: runner}, nil
}

func (c *CommandCheck) Name() string { return c.name }

func (c *CommandCheck) Run(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	res, err := c.runner.Run(ctx, CommandSpec{
		Dir:  job.Workdir,
		Argv: c.argv,
		Env:  job.Env,
	})
	if err != nil {
		return pipeline.Result{}, err
	}

	exit := res.ExitCode
	status := domain.StageStatusSucceeded
	if exit != 0 {
		status = domain.StageStatusFailed
	}
	return pipeline.Result{
		Status:     status,
		ExitCode:   &exit,
		OutputTail: string(res.Output),
	}, nil
}

// ChecksFromSpec builds the ordered check list a workflow declares.
func ChecksFromSpec(spec workflow.Spec, runner CommandRunner) ([]pipeline.Check, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	checks := make([]pipeline.Check, 0, len(spec.Job.Stages))
	for _, stage := range spec.Job.Stages {
		check, err := NewCommandCheck(stage.Name, stage.Run, runner)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}
	return checks, nil
}
