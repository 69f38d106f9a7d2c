package workflow

// Canonical stage names of the cargo verification workflow.
const (
	StageFormat     = "format"
	StageLint       = "lint"
	StageBuildTests = "build-tests"
	StageTest       = "test"
)

// DefaultTimeoutMinutes is the wall-clock budget for a whole job,
// cache restore through final stage.
const DefaultTimeoutMinutes = 60

// DefaultSpec is the built-in cargo workflow: formatting, lints, a
// compile-only pass over the test targets, then the tests themselves.
// Each stage only runs once every earlier stage has succeeded. Debug
// info is disabled in dev and test profiles to keep target/ small
// enough to cache.
func DefaultSpec() Spec {
	return Spec{
		Schema: SpecSchemaV1,
		Triggers: TriggerSpec{
			PullRequest: &PullRequestTriggerSpec{},
			Push:        &PushTriggerSpec{Branches: []string{DefaultPushBranch}},
		},
		Job: JobSpec{
			Name:           "rust",
			TimeoutMinutes: DefaultTimeoutMinutes,
			Env: []EnvVar{
				{Name: "CARGO_PROFILE_DEV_DEBUG", Value: "0"},
				{Name: "CARGO_PROFILE_TEST_DEBUG", Value: "0"},
			},
			Stages: []StageSpec{
				{Name: StageFormat, Run: "cargo fmt --all -- --check"},
				{Name: StageLint, Run: "cargo clippy --all-targets -- -D warnings"},
				{Name: StageBuildTests, Run: "cargo test --no-run"},
				{Name: StageTest, Run: "cargo test"},
			},
		},
	}
}
