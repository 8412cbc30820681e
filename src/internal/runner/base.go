package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/backend"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/graph"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/locator"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/pipeline"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/policy"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/template"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/trace"

	log "github.com/sirupsen/logrus"
)

var logger *log.Entry = log.New().WithFields(log.Fields{
	"package": "runner",
})

var (
	// ErrConfiguration marks errors that make the invocation itself invalid.
	// Fatal at process scope, before any stack runs (exit code 2).
	ErrConfiguration = errors.New("configuration error")

	// ErrRunFailed marks a completed run whose aggregate status is Failed
	// (exit code 1).
	ErrRunFailed = errors.New("one or more stacks failed")
)

type RunnerBase struct {
	Context context.Context
	Options *Options

	RunMode string

	Locator   *locator.Locator
	Resolver  *backend.Resolver
	Evaluator *policy.Evaluator
	Pipeline  *pipeline.Runner
	Renderer  *template.Renderer
}

// make RunnerBase implement RunnerInterface
var _ RunnerInterface = (*RunnerBase)(nil)

func NewRunnerBase(
	ctx context.Context,
	options *Options,
	loc *locator.Locator,
	resolver *backend.Resolver,
	evaluator *policy.Evaluator,
	pipe *pipeline.Runner,
	renderer *template.Renderer,
) (*RunnerBase, error) {
	runner := &RunnerBase{
		Context:   ctx,
		Options:   options,
		RunMode:   options.RunMode,
		Locator:   loc,
		Resolver:  resolver,
		Evaluator: evaluator,
		Pipeline:  pipe,
		Renderer:  renderer,
	}
	return runner, nil
}

func (r *RunnerBase) Initialize() error {
	logger.Info("Initializing runner: starting...")

	// if any is nil, return error
	if r.Locator == nil || r.Resolver == nil || r.Pipeline == nil || r.Evaluator == nil || r.Renderer == nil {
		return fmt.Errorf("locator, resolver, evaluator, pipeline and renderer are required")
	}

	logger.Info("Initialize runner: Evaluator: loading and validating policies")
	if err := r.Evaluator.LoadAndValidate(); err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	logger.Info("Initialize runner: done.")
	return nil
}

// Process discovers, runs and aggregates. The returned error is a
// configuration error only; stack failures are reported via the RunReport.
func (r *RunnerBase) Process() (*models.RunReport, error) {
	ctx, span := trace.StartSpan(r.Context, "Process")
	defer span.End()

	logger.Info("Process: starting...")

	stacks, violations, err := r.discoverStacks(ctx)
	if err != nil {
		return nil, err
	}

	// violating stacks count as failed dependencies for anything gated on them
	failed := make(map[string]bool, len(violations))
	reports := make([]models.StackReport, 0, len(stacks)+len(violations))
	for _, v := range violations {
		failed[v.Name] = true
		reports = append(reports, violationReport(v))
	}
	reports = append(reports, r.runStacks(ctx, stacks, failed)...)

	report := &models.RunReport{
		Timestamp:   time.Now(),
		Root:        r.Options.Root,
		DryRun:      r.Options.DryRun,
		Concurrency: r.concurrency(),
		Stacks:      reports,
	}
	report.Aggregate()

	logger.WithField("status", report.Status).Info("Process: done.")
	return report, nil
}

func (r *RunnerBase) discoverStacks(ctx context.Context) ([]*models.Stack, []locator.Violation, error) {
	_, span := trace.StartSpan(ctx, "DiscoverStacks")
	defer span.End()

	stacks, violations, err := r.Locator.Discover()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return stacks, violations, nil
}

func (r *RunnerBase) concurrency() int {
	if r.Options.Concurrency <= 0 {
		return 1
	}
	return r.Options.Concurrency
}

// runStacks processes stacks through a bounded worker pool, wave by wave in
// dependency order: a stack is dispatched only after every dependency
// finished, and only if they all passed. Within a wave stacks run
// independently; one stack's failure never blocks another's processing, and
// cancellation stops new stage invocations but every stack still gets a
// report entry. failed is updated with the names of stacks that did not pass.
func (r *RunnerBase) runStacks(ctx context.Context, stacks []*models.Stack, failed map[string]bool) []models.StackReport {
	ctx, span := trace.StartSpan(ctx, "RunStacks")
	defer span.End()

	waves, cyclic := graph.Waves(stacks)
	sem := semaphore.NewWeighted(int64(r.concurrency()))

	reports := make([]models.StackReport, 0, len(stacks))
	for _, wave := range waves {
		waveReports := make([]models.StackReport, len(wave))
		var wg sync.WaitGroup
		for i, stack := range wave {
			if dep := firstFailedDependency(stack, failed); dep != "" {
				logger.WithField("stack", stack.Name).WithField("dependency", dep).
					Warn("Dependency did not pass, stack will not run")
				stack.Error = fmt.Sprintf("dependency '%s' did not pass", dep)
				waveReports[i] = models.StackReport{
					Name:   stack.Name,
					Path:   stack.Path,
					Stages: stack.Stages,
					Status: stack.Status(),
					Error:  stack.Error,
				}
				continue
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				// cancelled while waiting for a worker slot: run inline, the
				// pipeline marks every pending stage as cancelled
				waveReports[i] = r.processStack(ctx, stack)
				continue
			}
			wg.Add(1)
			go func(i int, stack *models.Stack) {
				defer wg.Done()
				defer sem.Release(1)
				waveReports[i] = r.processStack(ctx, stack)
			}(i, stack)
		}
		wg.Wait()
		for _, report := range waveReports {
			if report.Status == models.RunStatusFailed {
				failed[report.Name] = true
			}
			reports = append(reports, report)
		}
	}

	// the locator rejects cyclic declarations before scheduling; this only
	// fires for callers handing in an unvalidated stack list
	for _, stack := range cyclic {
		stack.Error = "unschedulable: circular dependency chain"
		failed[stack.Name] = true
		reports = append(reports, models.StackReport{
			Name:   stack.Name,
			Path:   stack.Path,
			Stages: stack.Stages,
			Status: models.RunStatusFailed,
			Error:  stack.Error,
		})
	}
	return reports
}

func firstFailedDependency(stack *models.Stack, failed map[string]bool) string {
	for _, dep := range stack.Dependencies {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

func (r *RunnerBase) processStack(ctx context.Context, stack *models.Stack) models.StackReport {
	stackCtx, span := trace.StartSpan(ctx, fmt.Sprintf("Stack.%s", stack.Name))
	defer span.End()

	lg := logger.WithField("stack", stack.Name)
	report := models.StackReport{
		Name: stack.Name,
		Path: stack.Path,
	}

	cfg, err := r.Resolver.Resolve(stack)
	if err != nil {
		lg.WithField("error", err).Warn("Backend resolution failed, stack will not run")
		stack.Error = err.Error()
	} else {
		stack.Backend = cfg.Kind
		report.StatePath = cfg.StatePath()
		job := r.Pipeline.Run(stackCtx, stack, cfg)
		report.Plan = job.Summary
	}

	report.Backend = stack.Backend
	report.Stages = stack.Stages
	report.Error = stack.Error
	report.Status = stack.Status()
	return report
}

func violationReport(v locator.Violation) models.StackReport {
	st := models.NewStack(v.Name, v.Path, models.StackMeta{})
	return models.StackReport{
		Name:   v.Name,
		Path:   v.Path,
		Stages: st.Stages,
		Status: models.RunStatusFailed,
		Error:  v.Reason,
	}
}

func (r *RunnerBase) Output(report *models.RunReport) error {
	_, span := trace.StartSpan(r.Context, "Output")
	defer span.End()

	logger.Info("Output: starting...")
	if err := r.outputReportJson(report); err != nil {
		return err
	}
	logger.Info("Output: done.")
	return nil
}

// Exporting report json file to output directory if enabled
func (r *RunnerBase) outputReportJson(report *models.RunReport) error {
	if !r.Options.EnableExportReport {
		logger.Info("OutputJson: option was disabled")
		return nil
	}
	logger.Info("OutputJson: starting...")

	if err := os.MkdirAll(r.Options.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	reportJson, err := json.Marshal(report)
	if err != nil {
		return err
	}
	filePath := filepath.Join(r.Options.OutputDir, "report.json")
	if err := os.WriteFile(filePath, reportJson, 0644); err != nil {
		logger.WithField("filePath", filePath).WithField("error", err).Error("Failed to write report to file")
		return err
	}
	logger.WithField("filePath", filePath).Info("Written report to file")
	return nil
}
