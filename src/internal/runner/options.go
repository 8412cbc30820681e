package runner

import "time"

type Options struct {
	// Run mode
	RunMode string // "local" or "github"
	Debug   bool   // Debug mode

	// Pipeline options
	Root              string        // Search path containing the stacks/ directory
	Stacks            []string      // Optional subset filter (glob patterns on stack names)
	DryRun            bool          // Skip the deploy stage unconditionally
	Concurrency       int           // Max parallel stacks
	DeployOnEmptyPlan bool          // Deploy even when plan reports no changes
	LintCommand       string        // Optional shell command replacing the built-in lint sequence
	TerraformBin      string        // Terraform binary (default: terraform)
	StageTimeout      time.Duration // Per-stage timeout, 0 = none

	// Common options
	PoliciesPath                  string
	TemplatesPath                 string
	OutputDir                     string
	EnableExportReport            bool
	EnableExportPerformanceReport bool
}
