package terraform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
	log "github.com/sirupsen/logrus"
)

var logger = log.WithField("package", "terraform")

const DEFAULT_BINARY = "terraform"

// CommandResult captures one toolchain invocation. Stdout and stderr are
// always kept in full so stage failures can attach the raw diagnostics.
type CommandResult struct {
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout and stderr joined for diagnostics.
func (r *CommandResult) Combined() string {
	out := strings.TrimRight(r.Stdout, "\n")
	errOut := strings.TrimRight(r.Stderr, "\n")
	switch {
	case out == "":
		return errOut
	case errOut == "":
		return out
	default:
		return out + "\n" + errOut
	}
}

// Toolchain is the collaborator interface over the Terraform CLI. Methods
// return an error only when the invocation itself could not run (missing
// binary, cancelled context); a non-zero exit is reported via ExitCode.
type Toolchain interface {
	FmtCheck(ctx context.Context, dir string) (*CommandResult, error)
	InitNoBackend(ctx context.Context, dir string) (*CommandResult, error)
	Init(ctx context.Context, dir string, backendArgs []string) (*CommandResult, error)
	Validate(ctx context.Context, dir string) (*CommandResult, error)
	// Plan runs a saved plan with -detailed-exitcode. On success (exit 0 or 2)
	// the structured change summary is returned alongside the raw result.
	Plan(ctx context.Context, dir, planFile string) (*CommandResult, *models.PlanSummary, error)
	Apply(ctx context.Context, dir, planFile string) (*CommandResult, error)
	// Shell runs an arbitrary command in the stack directory. Used for the
	// configurable lint command override.
	Shell(ctx context.Context, dir, command string) (*CommandResult, error)
}

// CLI invokes the terraform binary via os/exec.
type CLI struct {
	Binary string
}

// Ensure CLI implements Toolchain
var _ Toolchain = (*CLI)(nil)

func NewCLI(binary string) *CLI {
	if binary == "" {
		binary = DEFAULT_BINARY
	}
	return &CLI{Binary: binary}
}

func (c *CLI) run(ctx context.Context, dir string, args ...string) (*CommandResult, error) {
	logger.WithField("dir", dir).WithField("args", args).Debug("Running terraform...")
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &CommandResult{
		Args:   args,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("failed to run %s %s: %w", c.Binary, strings.Join(args, " "), err)
	}
	return result, nil
}

func (c *CLI) FmtCheck(ctx context.Context, dir string) (*CommandResult, error) {
	return c.run(ctx, dir, "fmt", "-check", "-recursive", "-no-color")
}

func (c *CLI) InitNoBackend(ctx context.Context, dir string) (*CommandResult, error) {
	return c.run(ctx, dir, "init", "-backend=false", "-input=false", "-no-color")
}

func (c *CLI) Init(ctx context.Context, dir string, backendArgs []string) (*CommandResult, error) {
	args := append([]string{"init", "-input=false", "-no-color", "-reconfigure"}, backendArgs...)
	return c.run(ctx, dir, args...)
}

func (c *CLI) Validate(ctx context.Context, dir string) (*CommandResult, error) {
	return c.run(ctx, dir, "validate", "-no-color")
}

func (c *CLI) Plan(ctx context.Context, dir, planFile string) (*CommandResult, *models.PlanSummary, error) {
	result, err := c.run(ctx, dir, "plan", "-detailed-exitcode", "-input=false", "-no-color", "-out="+planFile)
	if err != nil {
		return result, nil, err
	}

	// -detailed-exitcode: 0 = empty plan, 2 = changes present, 1 = error
	switch result.ExitCode {
	case 0:
		return result, &models.PlanSummary{HasChanges: false}, nil
	case 2:
		showResult, err := c.run(ctx, dir, "show", "-json", planFile)
		if err != nil {
			return showResult, nil, err
		}
		if showResult.ExitCode != 0 {
			return showResult, nil, fmt.Errorf("terraform show failed: %s", showResult.Combined())
		}
		summary, err := ParsePlanJSON([]byte(showResult.Stdout))
		if err != nil {
			return showResult, nil, err
		}
		// Exit code 2 already told us the plan is non-empty; trust it even if
		// the change set only touches outputs.
		summary.HasChanges = true
		result.ExitCode = 0
		return result, summary, nil
	default:
		return result, nil, nil
	}
}

func (c *CLI) Apply(ctx context.Context, dir, planFile string) (*CommandResult, error) {
	return c.run(ctx, dir, "apply", "-input=false", "-no-color", planFile)
}

func (c *CLI) Shell(ctx context.Context, dir, command string) (*CommandResult, error) {
	logger.WithField("dir", dir).WithField("command", command).Debug("Running shell command...")
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &CommandResult{
		Args:   []string{"sh", "-c", command},
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("failed to run '%s': %w", command, err)
	}
	return result, nil
}

// planJSON is the subset of the terraform show -json output we care about.
//
// Sample:
//
//	{
//	  "resource_changes": [
//	    {"address": "aws_s3_bucket.b", "change": {"actions": ["create"]}}
//	  ]
//	}
type planJSON struct {
	ResourceChanges []struct {
		Address string `json:"address"`
		Change  struct {
			Actions []string `json:"actions"`
		} `json:"change"`
	} `json:"resource_changes"`
}

// ParsePlanJSON extracts the change summary from terraform show -json output.
func ParsePlanJSON(data []byte) (*models.PlanSummary, error) {
	var plan planJSON
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan json: %w", err)
	}

	summary := &models.PlanSummary{}
	for _, rc := range plan.ResourceChanges {
		for _, action := range rc.Change.Actions {
			switch action {
			case "create":
				summary.Add++
			case "update":
				summary.Change++
			case "delete":
				summary.Destroy++
			}
		}
	}
	summary.HasChanges = summary.Add+summary.Change+summary.Destroy > 0
	return summary, nil
}
