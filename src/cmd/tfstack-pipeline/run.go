package main

import (
	"context"
	"fmt"
	"os"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/internal/runner"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/backend"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/locator"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/pipeline"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/policy"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/template"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/terraform"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/trace"
	log "github.com/sirupsen/logrus"
)

var logger *log.Entry = log.New().WithFields(log.Fields{
	"package": "run",
})

const (
	RUN_MODE_GITHUB = "github"
	RUN_MODE_LOCAL  = "local"
)

// createRunner wires the collaborators and creates the runner for the mode
func createRunner(ctx context.Context, opts *runner.Options) (runner.RunnerInterface, error) {
	logger.WithField("opts", opts).Debug("Creating runner..")

	loc := locator.NewLocator(opts.Root, opts.Stacks)
	resolver := backend.NewResolver()
	evaluator := policy.NewEvaluator(opts.PoliciesPath)
	renderer := template.NewRenderer()

	pipe := pipeline.NewRunner(terraform.NewCLI(opts.TerraformBin), evaluator, pipeline.NewStateLocks())
	pipe.DryRun = opts.DryRun
	pipe.DeployOnEmptyPlan = opts.DeployOnEmptyPlan
	pipe.LintCommand = opts.LintCommand
	pipe.StageTimeout = opts.StageTimeout

	switch opts.RunMode {
	case RUN_MODE_GITHUB:
		runner, err := runner.NewRunnerGitHub(
			ctx, opts, loc, resolver, evaluator, pipe, renderer)
		if err != nil {
			return nil, fmt.Errorf("failed to create GitHub runner: %w", err)
		}
		return runner, nil
	case RUN_MODE_LOCAL:
		runner, err := runner.NewRunnerLocal(
			ctx, opts, loc, resolver, evaluator, pipe, renderer)
		if err != nil {
			return nil, fmt.Errorf("failed to create Local runner: %w", err)
		}
		return runner, nil
	default:
		return nil, fmt.Errorf("invalid run mode: %s", opts.RunMode)
	}
}

func initialize(ctx context.Context, opts *runner.Options) (runner.RunnerInterface, error) {
	appRunner, err := createRunner(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}
	if err := appRunner.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize runner: %w", err)
	}
	return appRunner, nil
}

func run(ctx context.Context, opts *runner.Options) error {
	logger.WithField("opts", opts).Info("Running..")
	if opts.Debug {
		log.SetLevel(log.DebugLevel)
	}

	// Initialize tracer
	shutdown, err := trace.InitTracer("tfstack-pipeline", opts.EnableExportPerformanceReport, opts.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer shutdown()

	// Validate options
	if err := validateOptions(opts); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	// Initialize runner
	appRunner, err := initialize(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	report, err := appRunner.Process()
	if err != nil {
		return fmt.Errorf("failed to process: %w", err)
	}

	if err := appRunner.Output(report); err != nil {
		return fmt.Errorf("failed to output report: %w", err)
	}

	if report.Status == models.RunStatusFailed {
		return runner.ErrRunFailed
	}
	return nil
}

// validateOptions checks the invocation itself. Every error wraps
// runner.ErrConfiguration so main can map it to the configuration exit code.
func validateOptions(opts *runner.Options) error {
	// Validate run mode
	if opts.RunMode != RUN_MODE_GITHUB && opts.RunMode != RUN_MODE_LOCAL {
		return fmt.Errorf("%w: run-mode must be 'local' or 'github', got: %s", runner.ErrConfiguration, opts.RunMode)
	}

	// Root is required; cobra's own required-flag error would bypass the
	// configuration exit code, so it is checked here instead
	if opts.Root == "" {
		return fmt.Errorf("%w: --root is required", runner.ErrConfiguration)
	}

	// Root must exist and be a directory
	info, err := os.Stat(opts.Root)
	if err != nil {
		return fmt.Errorf("%w: root '%s' is not readable: %v", runner.ErrConfiguration, opts.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: root '%s' is not a directory", runner.ErrConfiguration, opts.Root)
	}

	if opts.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got: %d", runner.ErrConfiguration, opts.Concurrency)
	}
	if opts.StageTimeout < 0 {
		return fmt.Errorf("%w: stage-timeout must not be negative, got: %s", runner.ErrConfiguration, opts.StageTimeout)
	}

	if opts.TerraformBin == "" {
		opts.TerraformBin = terraform.DEFAULT_BINARY
	}
	return nil
}
