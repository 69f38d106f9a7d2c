// Package workflow declares the verification workflow: which stages run,
// in what order, under which environment and time budget.
package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const SpecSchemaV1 = "mergegate.workflow.v1"

// SpecFileName is looked up at the repository root when a project carries
// its own workflow declaration.
const SpecFileName = ".mergegate.yml"

type Spec struct {
	Schema   string      `json:"schema" yaml:"schema"`
	Triggers TriggerSpec `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Job      JobSpec     `json:"job" yaml:"job"`
}

// TriggerSpec declares which repository events schedule the job. A key's
// presence enables that event kind. The zero value keeps the default
// policy: pull requests verify on any branch, pushes only on main.
type TriggerSpec struct {
	PullRequest *PullRequestTriggerSpec `json:"pull_request,omitempty" yaml:"pull_request,omitempty"`
	Push        *PushTriggerSpec        `json:"push,omitempty" yaml:"push,omitempty"`
}

// PullRequestTriggerSpec has no options yet: a pull request verifies
// whatever branch it targets.
type PullRequestTriggerSpec struct{}

type PushTriggerSpec struct {
	Branches []string `json:"branches,omitempty" yaml:"branches,omitempty"`
}

// DefaultPushBranch is the branch pushes verify on when no branches are
// declared.
const DefaultPushBranch = "main"

func (t TriggerSpec) declared() bool {
	return t.PullRequest != nil || t.Push != nil
}

// PullRequestEnabled reports whether pull_request events schedule runs.
func (t TriggerSpec) PullRequestEnabled() bool {
	if !t.declared() {
		return true
	}
	return t.PullRequest != nil
}

// PushBranches returns the branches push events verify on, empty when
// pushes never trigger.
func (t TriggerSpec) PushBranches() []string {
	if !t.declared() {
		return []string{DefaultPushBranch}
	}
	if t.Push == nil {
		return nil
	}
	if len(t.Push.Branches) == 0 {
		return []string{DefaultPushBranch}
	}
	return t.Push.Branches
}

type JobSpec struct {
	Name           string      `json:"name" yaml:"name"`
	TimeoutMinutes int         `json:"timeout_minutes" yaml:"timeout_minutes"`
	Env            []EnvVar    `json:"env,omitempty" yaml:"env,omitempty"`
	Stages         []StageSpec `json:"stages" yaml:"stages"`
}

type EnvVar struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

type StageSpec struct {
	Name string `json:"name" yaml:"name"`
	Run  string `json:"run" yaml:"run"`
}

func ParseSpec(input []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// LoadDir reads SpecFileName from dir, falling back to the default
// workflow when the file does not exist.
func LoadDir(dir string) (Spec, error) {
	raw, err := os.ReadFile(filepath.Join(dir, SpecFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSpec(), nil
		}
		return Spec{}, fmt.Errorf("read %s: %w", SpecFileName, err)
	}
	return ParseSpec(raw)
}

// LoadFile reads and validates the workflow spec at path.
func LoadFile(path string) (Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseSpec(raw)
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		return fmt.Errorf("spec.schema must be %q", SpecSchemaV1)
	}
	if s.Triggers.Push != nil {
		for i, branch := range s.Triggers.Push.Branches {
			if strings.TrimSpace(branch) == "" {
				return fmt.Errorf("spec.triggers.push.branches[%d] is required", i)
			}
		}
	}
	if strings.TrimSpace(s.Job.Name) == "" {
		return errors.New("spec.job.name is required")
	}
	if s.Job.TimeoutMinutes <= 0 {
		return errors.New("spec.job.timeout_minutes must be positive")
	}
	if len(s.Job.Stages) == 0 {
		return errors.New("spec.job.stages must be non-empty")
	}

	for i, ev := range s.Job.Env {
		if strings.TrimSpace(ev.Name) == "" {
			return fmt.Errorf("spec.job.env[%d].name is required", i)
		}
	}

	seen := make(map[string]struct{}, len(s.Job.Stages))
	for i, stage := range s.Job.Stages {
		name := strings.TrimSpace(stage.Name)
		if name == "" {
			return fmt.Errorf("spec.job.stages[%d].name is required", i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("spec.job.stages[%d].name must be unique (duplicate %q)", i, name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(stage.Run) == "" {
			return fmt.Errorf("spec.job.stages[%d].run is required", i)
		}
	}
	return nil
}

// Timeout is the job's wall-clock budget.
func (s Spec) Timeout() time.Duration {
	return time.Duration(s.Job.TimeoutMinutes) * time.Minute
}

// EnvMap returns the declared environment as a map, later names winning.
func (s Spec) EnvMap() map[string]string {
	out := make(map[string]string, len(s.Job.Env))
	for _, ev := range s.Job.Env {
		name := strings.TrimSpace(ev.Name)
		if name == "" {
			continue
		}
		out[name] = ev.Value
	}
	return out
}

// StageNames returns the declared stage names in order.
func (s Spec) StageNames() []string {
	out := make([]string, 0, len(s.Job.Stages))
	for _, stage := range s.Job.Stages {
		out = append(out, stage.Name)
	}
	return out
}
