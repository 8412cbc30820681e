package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/backend"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/policy"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/terraform"
)

var logger *log.Entry = log.New().WithFields(log.Fields{
	"package": "pipeline",
})

const (
	PLAN_FILE_NAME = "tfstack.plan"

	CANCELLED_DIAGNOSTIC = "cancelled"
)

// ErrSkipStage is returned by a stage whose gating policy decided it should
// not run. The stage is marked Skipped and the stack keeps its status.
var ErrSkipStage = errors.New("stage gated out")

// Job is the per-stack working state shared by the stages of one run.
type Job struct {
	Stack    *models.Stack
	Backend  *backend.Config
	PlanFile string

	// Summary is populated by the plan stage and consulted by the deploy gate.
	Summary *models.PlanSummary
}

// Stage is one pipeline step applied to a stack. Run returns a diagnostic
// (raw collaborator output, never swallowed) and an error: nil marks the
// stage Passed, ErrSkipStage marks it Skipped, anything else Failed.
type Stage interface {
	Kind() models.StageKind
	Run(ctx context.Context, job *Job) (string, error)
}

// Runner executes stages for a single stack strictly in order, with
// stage-level pass/fail gating: once a stage fails, every later stage is
// Skipped. The per-state-path lock is held from plan start to the end of the
// stack so two stacks sharing a state path never plan or deploy concurrently.
type Runner struct {
	Toolchain terraform.Toolchain
	Evaluator *policy.Evaluator
	Locks     *StateLocks

	DryRun            bool
	DeployOnEmptyPlan bool
	LintCommand       string
	StageTimeout      time.Duration
}

func NewRunner(tc terraform.Toolchain, evaluator *policy.Evaluator, locks *StateLocks) *Runner {
	return &Runner{
		Toolchain: tc,
		Evaluator: evaluator,
		Locks:     locks,
	}
}

func (r *Runner) defaultStages() []Stage {
	return []Stage{
		&lintStage{toolchain: r.Toolchain, command: r.LintCommand},
		&scanStage{evaluator: r.Evaluator},
		&planStage{toolchain: r.Toolchain},
		&deployStage{toolchain: r.Toolchain, dryRun: r.DryRun, deployOnEmptyPlan: r.DeployOnEmptyPlan},
	}
}

// Run executes the default lint, scan, plan, deploy sequence for one stack,
// mutating its stage results in place.
func (r *Runner) Run(ctx context.Context, stack *models.Stack, cfg *backend.Config) *Job {
	return r.RunStages(ctx, stack, cfg, r.defaultStages())
}

// RunStages is Run with an explicit stage list.
func (r *Runner) RunStages(ctx context.Context, stack *models.Stack, cfg *backend.Config, stages []Stage) *Job {
	lg := logger.WithField("stack", stack.Name)
	lg.Info("Running pipeline...")

	job := &Job{
		Stack:    stack,
		Backend:  cfg,
		PlanFile: PLAN_FILE_NAME,
	}

	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()

	halted := false
	cancelled := false
	for _, stage := range stages {
		result := stack.Stage(stage.Kind())
		if result == nil {
			continue
		}

		if halted {
			result.Status = models.StageStatusSkipped
			if cancelled {
				result.Diagnostic = CANCELLED_DIAGNOSTIC
			}
			continue
		}

		if ctx.Err() != nil {
			lg.WithField("stage", stage.Kind()).Warn("Cancellation requested, not starting stage")
			result.Status = models.StageStatusFailed
			result.Diagnostic = fmt.Sprintf("%s before %s started", CANCELLED_DIAGNOSTIC, stage.Kind())
			halted = true
			cancelled = true
			continue
		}

		// the state lock covers the plan+deploy window
		if stage.Kind() == models.StagePlan && r.Locks != nil && cfg != nil {
			rel, err := r.Locks.Acquire(ctx, cfg.StatePath())
			if err != nil {
				result.Status = models.StageStatusFailed
				result.Diagnostic = fmt.Sprintf("%s while waiting for state lock '%s'", CANCELLED_DIAGNOSTIC, cfg.StatePath())
				halted = true
				cancelled = true
				continue
			}
			release = rel
		}

		r.runStage(ctx, stage, job, result, &halted, &cancelled)
	}

	lg.WithField("status", stack.Status()).Info("Pipeline done.")
	return job
}

func (r *Runner) runStage(ctx context.Context, stage Stage, job *Job, result *models.StageResult, halted, cancelled *bool) {
	lg := logger.WithField("stack", job.Stack.Name).WithField("stage", stage.Kind())
	lg.Info("Stage starting...")

	result.Status = models.StageStatusRunning

	stageCtx := ctx
	cancel := func() {}
	if r.StageTimeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, r.StageTimeout)
	}
	start := time.Now()
	diag, err := stage.Run(stageCtx, job)
	cancel()
	result.DurationMs = time.Since(start).Milliseconds()

	switch {
	case err == nil:
		result.Status = models.StageStatusPassed
		result.Diagnostic = diag
		lg.Info("Stage passed.")
	case errors.Is(err, ErrSkipStage):
		result.Status = models.StageStatusSkipped
		result.Diagnostic = diag
		lg.WithField("reason", diag).Info("Stage gated out, skipping.")
	case errors.Is(err, context.Canceled):
		result.Status = models.StageStatusFailed
		result.Diagnostic = joinDiagnostic(fmt.Sprintf("%s during %s", CANCELLED_DIAGNOSTIC, stage.Kind()), diag)
		*halted = true
		*cancelled = true
		lg.Warn("Stage cancelled.")
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = models.StageStatusFailed
		result.Diagnostic = joinDiagnostic(fmt.Sprintf("stage timed out after %s", r.StageTimeout), diag)
		*halted = true
		lg.Error("Stage timed out.")
	default:
		result.Status = models.StageStatusFailed
		result.Diagnostic = joinDiagnostic(err.Error(), diag)
		*halted = true
		lg.WithField("error", err).Error("Stage failed.")
	}
}

func joinDiagnostic(head, raw string) string {
	if raw == "" {
		return head
	}
	return head + "\n" + raw
}
