package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/backend"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/locator"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/pipeline"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/policy"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/template"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/trace"
)

type RunnerGitHub struct {
	RunnerBase

	stepSummaryPath string
	outputPath      string
}

// make RunnerGitHub implement RunnerInterface
var _ RunnerInterface = (*RunnerGitHub)(nil)

func NewRunnerGitHub(
	ctx context.Context,
	options *Options,
	loc *locator.Locator,
	resolver *backend.Resolver,
	evaluator *policy.Evaluator,
	pipe *pipeline.Runner,
	renderer *template.Renderer,
) (*RunnerGitHub, error) {
	baseRunner, err := NewRunnerBase(ctx, options, loc, resolver, evaluator, pipe, renderer)
	if err != nil {
		return nil, err
	}
	runner := &RunnerGitHub{
		RunnerBase: *baseRunner,
	}
	return runner, nil
}

func (r *RunnerGitHub) Initialize() error {
	lg := logger.WithField("func", "RunnerGitHub.Initialize()")
	lg.Info("Initializing runner: starting...")

	r.stepSummaryPath = os.Getenv("GITHUB_STEP_SUMMARY")
	if r.stepSummaryPath == "" {
		lg.Warn("GITHUB_STEP_SUMMARY env was not set. The markdown report will not appear in the job summary.")
	}
	r.outputPath = os.Getenv("GITHUB_OUTPUT")
	if r.outputPath == "" {
		lg.Warn("GITHUB_OUTPUT env was not set. The run status will not be exposed as a step output.")
	}

	lg.Info("Initializing runner: done.")
	return r.RunnerBase.Initialize()
}

func (r *RunnerGitHub) Process() (*models.RunReport, error) {
	return r.RunnerBase.Process()
}

func (r *RunnerGitHub) Output(report *models.RunReport) error {
	_, span := trace.StartSpan(r.Context, "Output")
	defer span.End()

	logger.Info("Output: starting...")
	if err := r.outputReportJson(report); err != nil {
		return err
	}
	if err := r.outputStepSummary(report); err != nil {
		return err
	}
	if err := r.outputStepStatus(report); err != nil {
		return err
	}
	logger.Info("Output: done.")
	return nil
}

// Append the markdown report to the workflow job summary
func (r *RunnerGitHub) outputStepSummary(report *models.RunReport) error {
	if r.stepSummaryPath == "" {
		logger.Info("OutputStepSummary: GITHUB_STEP_SUMMARY unset, skipping")
		return nil
	}
	logger.Info("OutputStepSummary: starting...")

	renderedMarkdown, err := r.Renderer.RenderWithTemplates(r.Options.TemplatesPath, report)
	if err != nil {
		logger.WithField("error", err).Error("Failed to render markdown template")
		return err
	}

	f, err := os.OpenFile(r.stepSummaryPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.WithField("filePath", r.stepSummaryPath).WithField("error", err).Error("Failed to open step summary file")
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\n", renderedMarkdown); err != nil {
		return err
	}
	logger.WithField("filePath", r.stepSummaryPath).Info("Appended markdown report to step summary")
	return nil
}

// Expose the aggregate run status as a step output for downstream jobs
func (r *RunnerGitHub) outputStepStatus(report *models.RunReport) error {
	if r.outputPath == "" {
		logger.Info("OutputStepStatus: GITHUB_OUTPUT unset, skipping")
		return nil
	}
	logger.Info("OutputStepStatus: starting...")

	f, err := os.OpenFile(r.outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.WithField("filePath", r.outputPath).WithField("error", err).Error("Failed to open output file")
		return err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "status=%s\n", report.Status); err != nil {
		return err
	}
	logger.WithField("status", report.Status).Info("Written run status to step output")
	return nil
}
