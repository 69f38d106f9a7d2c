package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mergegate-labs/mergegate-go/internal/cache"
	"github.com/mergegate-labs/mergegate-go/internal/domain"
	"github.com/mergegate-labs/mergegate-go/internal/pipeline"
	"github.com/mergegate-labs/mergegate-go/internal/toolchain"
	"github.com/mergegate-labs/mergegate-go/internal/workflow"
)

// mergegate-verify runs the same staged verification a webhook-triggered
// job would run, but against a local working tree. The exit code is the
// verdict: 0 when every stage succeeds.

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// consoleObserver prints one line per stage transition.
type consoleObserver struct{}

func (consoleObserver) StageStarted(_ context.Context, _ string, name string, _ int, _ time.Time) {
	fmt.Printf("==> %s: running\n", name)
}

func (consoleObserver) StageFinished(_ context.Context, _ string, result pipeline.StageResult) {
	switch result.Status {
	case domain.StageStatusNotRun:
		fmt.Printf("==> %s: not run\n", result.Name)
	default:
		elapsed := result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond)
		fmt.Printf("==> %s: %s (%s)\n", result.Name, result.Status, elapsed)
	}
}

type stageReport struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

type verdictReport struct {
	Status      string        `json:"status"`
	FailureKind string        `json:"failure_kind,omitempty"`
	FailedStage string        `json:"failed_stage,omitempty"`
	CacheHit    bool          `json:"cache_hit"`
	Stages      []stageReport `json:"stages"`
}

func main() {
	var (
		dirFlag      = flag.String("dir", envOr("MERGEGATE_VERIFY_DIR", "."), "Working tree to verify")
		workflowFlag = flag.String("workflow", envOr("MERGEGATE_VERIFY_WORKFLOW", ""), "Workflow file (default: .mergegate.yml in the working tree, else the built-in cargo workflow)")
		cacheFlag    = flag.String("cache-dir", envOr("MERGEGATE_VERIFY_CACHE_DIR", ""), "Dependency cache directory (empty builds cold)")
		timeoutFlag  = flag.Duration("timeout", 0, "Override the workflow's wall-clock budget")
		jsonFlag     = flag.Bool("json", false, "Print the final verdict as JSON")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dir, err := filepath.Abs(*dirFlag)
	if err != nil {
		die("resolve directory", err)
	}

	var spec workflow.Spec
	if strings.TrimSpace(*workflowFlag) != "" {
		spec, err = workflow.LoadFile(*workflowFlag)
	} else {
		spec, err = workflow.LoadDir(dir)
	}
	if err != nil {
		die("load workflow", err)
	}
	runner := toolchain.NewExecRunner()
	checks, err := toolchain.ChecksFromSpec(spec, runner)
	if err != nil {
		die("build checks", err)
	}

	budget := spec.Timeout()
	if *timeoutFlag > 0 {
		budget = *timeoutFlag
	}

	fmt.Printf("==> mergegate verify (dir=%s, job=%s, budget=%s)\n", dir, spec.Job.Name, budget)

	var store cache.Cache
	if strings.TrimSpace(*cacheFlag) != "" {
		store = cache.NewDirCache(*cacheFlag)
	}

	budgetCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	cacheKey := ""
	cacheHit := false
	if store != nil {
		key, err := cache.Fingerprint(dir)
		if err != nil {
			fmt.Printf("==> cache: no manifest to fingerprint, building cold (%v)\n", err)
		} else {
			cacheKey = key
			hit, err := store.Restore(budgetCtx, key, dir)
			switch {
			case err != nil:
				fmt.Printf("==> cache: restore failed, building cold (%v)\n", err)
			case hit:
				cacheHit = true
				fmt.Printf("==> cache: restored %s\n", key)
			default:
				fmt.Printf("==> cache: miss for %s\n", key)
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	outcome := pipeline.NewRunner(logger, checks, consoleObserver{}).Run(budgetCtx, pipeline.Job{
		ID:      "local",
		Workdir: dir,
		Env:     spec.EnvMap(),
	})

	if outcome.Success() && store != nil && cacheKey != "" {
		if err := store.Save(context.WithoutCancel(ctx), cacheKey, dir); err != nil {
			fmt.Fprintf(os.Stderr, "warning: cache save failed: %v\n", err)
		} else {
			fmt.Printf("==> cache: saved %s\n", cacheKey)
		}
	}

	if *jsonFlag {
		printVerdictJSON(outcome, cacheHit)
	} else {
		printVerdict(outcome, budget)
	}

	if !outcome.Success() {
		os.Exit(1)
	}
}

func printVerdict(outcome pipeline.Outcome, budget time.Duration) {
	switch {
	case outcome.Success():
		fmt.Println("==> verification passed")
	case outcome.FailureKind == domain.FailureKindTimeout:
		fmt.Printf("==> verification timed out, budget was %s\n", budget)
	default:
		fmt.Printf("==> verification failed at %s\n", outcome.FailedStage)
		for _, stage := range outcome.Stages {
			if stage.Name == outcome.FailedStage && stage.OutputTail != "" {
				fmt.Println(strings.TrimRight(stage.OutputTail, "\n"))
			}
		}
	}
}

func printVerdictJSON(outcome pipeline.Outcome, cacheHit bool) {
	report := verdictReport{
		Status:      string(outcome.Status),
		FailureKind: string(outcome.FailureKind),
		FailedStage: outcome.FailedStage,
		CacheHit:    cacheHit,
		Stages:      make([]stageReport, 0, len(outcome.Stages)),
	}
	for _, stage := range outcome.Stages {
		report.Stages = append(report.Stages, stageReport{
			Name:     stage.Name,
			Status:   string(stage.Status),
			ExitCode: stage.ExitCode,
		})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}

func die(step string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", step, err)
	os.Exit(1)
}
