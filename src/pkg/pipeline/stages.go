package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/policy"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/terraform"
)

// lintStage checks formatting and configuration validity. When a custom lint
// command is configured it replaces the built-in fmt+validate sequence.
type lintStage struct {
	toolchain terraform.Toolchain
	command   string
}

func (s *lintStage) Kind() models.StageKind { return models.StageLint }

func (s *lintStage) Run(ctx context.Context, job *Job) (string, error) {
	dir := job.Stack.Path

	if s.command != "" {
		result, err := s.toolchain.Shell(ctx, dir, s.command)
		if err != nil {
			return result.Combined(), err
		}
		if result.ExitCode != 0 {
			return result.Combined(), fmt.Errorf("lint command '%s' exited with code %d", s.command, result.ExitCode)
		}
		return result.Combined(), nil
	}

	fmtResult, err := s.toolchain.FmtCheck(ctx, dir)
	if err != nil {
		return fmtResult.Combined(), err
	}
	if fmtResult.ExitCode != 0 {
		return fmtResult.Combined(), fmt.Errorf("terraform fmt check failed: files are not canonically formatted")
	}

	initResult, err := s.toolchain.InitNoBackend(ctx, dir)
	if err != nil {
		return initResult.Combined(), err
	}
	if initResult.ExitCode != 0 {
		return initResult.Combined(), fmt.Errorf("terraform init (no backend) exited with code %d", initResult.ExitCode)
	}

	validateResult, err := s.toolchain.Validate(ctx, dir)
	if err != nil {
		return validateResult.Combined(), err
	}
	if validateResult.ExitCode != 0 {
		return validateResult.Combined(), fmt.Errorf("terraform validate exited with code %d", validateResult.ExitCode)
	}
	return validateResult.Combined(), nil
}

// scanStage evaluates the loaded rego policies against the stack.
type scanStage struct {
	evaluator *policy.Evaluator
}

func (s *scanStage) Kind() models.StageKind { return models.StageScan }

func (s *scanStage) Run(ctx context.Context, job *Job) (string, error) {
	if s.evaluator == nil || !s.evaluator.HasPolicies() {
		return "no policies configured", nil
	}

	input, err := policy.NewScanInput(job.Stack)
	if err != nil {
		return "", err
	}
	report, err := s.evaluator.Evaluate(ctx, input)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, v := range report.Warn {
		lines = append(lines, "warn: "+v.Message)
	}
	for _, v := range report.Deny {
		lines = append(lines, "deny: "+v.Message)
	}
	diag := strings.Join(lines, "\n")

	if !report.Passed() {
		return diag, fmt.Errorf("policy scan failed with %d violation(s)", len(report.Deny))
	}
	return diag, nil
}

// planStage initialises the resolved backend and produces a saved plan with
// its structured change summary.
type planStage struct {
	toolchain terraform.Toolchain
}

func (s *planStage) Kind() models.StageKind { return models.StagePlan }

func (s *planStage) Run(ctx context.Context, job *Job) (string, error) {
	dir := job.Stack.Path

	var backendArgs []string
	if job.Backend != nil {
		backendArgs = job.Backend.InitArgs()
	}
	initResult, err := s.toolchain.Init(ctx, dir, backendArgs)
	if err != nil {
		return initResult.Combined(), err
	}
	if initResult.ExitCode != 0 {
		return initResult.Combined(), fmt.Errorf("terraform init exited with code %d", initResult.ExitCode)
	}

	planResult, summary, err := s.toolchain.Plan(ctx, dir, job.PlanFile)
	if err != nil {
		return planResult.Combined(), err
	}
	if summary == nil || planResult.ExitCode != 0 {
		return planResult.Combined(), fmt.Errorf("terraform plan exited with code %d", planResult.ExitCode)
	}

	job.Summary = summary
	if !summary.HasChanges {
		return "plan reported an empty change set", nil
	}
	return fmt.Sprintf("plan: %d to add, %d to change, %d to destroy", summary.Add, summary.Change, summary.Destroy), nil
}

// deployStage applies the saved plan, subject to gating: plan must have
// passed with a non-empty change set (unless configured otherwise) and
// dry-run must be off.
type deployStage struct {
	toolchain         terraform.Toolchain
	dryRun            bool
	deployOnEmptyPlan bool
}

func (s *deployStage) Kind() models.StageKind { return models.StageDeploy }

func (s *deployStage) Run(ctx context.Context, job *Job) (string, error) {
	if s.dryRun {
		return "dry-run enabled", ErrSkipStage
	}
	if job.Summary != nil && !job.Summary.HasChanges && !s.deployOnEmptyPlan {
		return "plan reported no changes", ErrSkipStage
	}

	result, err := s.toolchain.Apply(ctx, job.Stack.Path, job.PlanFile)
	if err != nil {
		return result.Combined(), err
	}
	if result.ExitCode != 0 {
		return result.Combined(), fmt.Errorf("terraform apply exited with code %d", result.ExitCode)
	}
	return result.Combined(), nil
}
