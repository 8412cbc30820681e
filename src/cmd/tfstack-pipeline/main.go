package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/internal/runner"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

const (
	EXIT_CODE_RUN_FAILED    = 1
	EXIT_CODE_CONFIGURATION = 2
)

func main() {
	// SIGINT/SIGTERM cancel the run; in-flight stages fail as cancelled and
	// every remaining stack still gets a report entry.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, runner.ErrConfiguration) {
			os.Exit(EXIT_CODE_CONFIGURATION)
		}
		os.Exit(EXIT_CODE_RUN_FAILED)
	}
}

// newRootCmd creates the root command, parse args from CLI
func newRootCmd() *cobra.Command {
	opts := &runner.Options{}

	cmd := &cobra.Command{
		Use:   "tfstack-pipeline",
		Short: "CI pipeline orchestrator for Terraform stacks",
		Long: `tfstack-pipeline runs the lint, scan, plan and deploy pipeline over every
Terraform stack found under <root>/stacks/. Stacks run independently through a
bounded worker pool; one stack's failure never blocks another's run.`,
		Version:       fmt.Sprintf("%s (built: %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	// flag parse errors (unknown flag, bad value) are invocation errors and
	// map to the configuration exit code
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", runner.ErrConfiguration, err)
	})

	// Run mode
	cmd.Flags().StringVar(&opts.RunMode, "run-mode", "local", "Run mode: local or github")

	// Pipeline flags
	cmd.Flags().StringVar(&opts.Root, "root", "", "Path containing the stacks/ directory (required)")
	cmd.Flags().StringSliceVar(&opts.Stacks, "stacks", []string{},
		"Stack name patterns to run (comma-separated globs, e.g., app-*,network); default is every stack")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Stop after plan, never deploy")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 1, "Maximum number of stacks processed in parallel")
	cmd.Flags().BoolVar(&opts.DeployOnEmptyPlan, "deploy-on-empty-plan", false,
		"Run the deploy stage even when the plan reports no changes")
	cmd.Flags().StringVar(&opts.LintCommand, "lint-command", "",
		"Shell command replacing the built-in lint sequence (fmt -check, init -backend=false, validate)")
	cmd.Flags().StringVar(&opts.TerraformBin, "terraform-bin", "terraform", "Terraform binary to invoke")
	cmd.Flags().DurationVar(&opts.StageTimeout, "stage-timeout", 0, "Per-stage timeout (e.g., 10m); 0 disables")

	// Common flags
	cmd.Flags().StringVar(&opts.PoliciesPath, "policies-path", "./policies",
		"Path to the directory of Rego policies for the scan stage")
	cmd.Flags().StringVar(&opts.TemplatesPath, "templates-path", "./templates",
		"Path to templates directory")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "Debug mode")

	cmd.Flags().StringVar(&opts.OutputDir, "output-dir", "./output",
		"Output directory in case the tool need to export files. In local mode, the tool will export the report to this directory.")
	cmd.Flags().BoolVar(&opts.EnableExportReport, "enable-export-report", false, "Enable export report (json file to output dir)")
	cmd.Flags().BoolVar(&opts.EnableExportPerformanceReport, "enable-export-performance-report", false, "Enable export performance report (json file to output dir)")

	return cmd
}
