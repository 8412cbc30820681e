package runner

import (
	"context"
	"os"
	"path/filepath"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/backend"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/locator"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/pipeline"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/policy"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/template"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/trace"
)

type RunnerLocal struct {
	RunnerBase
}

// make RunnerLocal implement RunnerInterface
var _ RunnerInterface = (*RunnerLocal)(nil)

func NewRunnerLocal(
	ctx context.Context,
	options *Options,
	loc *locator.Locator,
	resolver *backend.Resolver,
	evaluator *policy.Evaluator,
	pipe *pipeline.Runner,
	renderer *template.Renderer,
) (*RunnerLocal, error) {
	baseRunner, err := NewRunnerBase(ctx, options, loc, resolver, evaluator, pipe, renderer)
	if err != nil {
		return nil, err
	}
	runner := &RunnerLocal{
		RunnerBase: *baseRunner,
	}
	return runner, nil
}

func (r *RunnerLocal) Initialize() error {
	return r.RunnerBase.Initialize()
}

func (r *RunnerLocal) Process() (*models.RunReport, error) {
	return r.RunnerBase.Process()
}

func (r *RunnerLocal) Output(report *models.RunReport) error {
	_, span := trace.StartSpan(r.Context, "Output")
	defer span.End()

	logger.Info("Output: starting...")
	if err := r.outputReportJson(report); err != nil {
		return err
	}
	if err := r.outputReportMarkdown(report); err != nil {
		return err
	}
	logger.Info("Output: done.")
	return nil
}

// Exporting report markdown file to output directory
func (r *RunnerLocal) outputReportMarkdown(report *models.RunReport) error {
	logger.Info("OutputMarkdown: starting...")

	renderedMarkdown, err := r.Renderer.RenderWithTemplates(r.Options.TemplatesPath, report)
	if err != nil {
		logger.WithField("error", err).Error("Failed to render markdown template")
		return err
	}

	if err := os.MkdirAll(r.Options.OutputDir, 0755); err != nil {
		return err
	}
	filePath := filepath.Join(r.Options.OutputDir, "report.md")
	if err := os.WriteFile(filePath, []byte(renderedMarkdown), 0644); err != nil {
		logger.WithField("filePath", filePath).WithField("error", err).Error("Failed to write markdown report to file")
		return err
	}

	logger.WithField("filePath", filePath).Info("Written markdown report to file")
	return nil
}
