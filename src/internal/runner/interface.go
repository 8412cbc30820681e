package runner

import "github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"

type RunnerInterface interface {
	// Initialize the runner with necessary context and data
	Initialize() error

	// Main routine: discover stacks, run the pipeline for each, aggregate
	// into a RunReport and hand it to Output
	Process() (*models.RunReport, error)

	// Handling the export of the finished report
	Output(report *models.RunReport) error
}
