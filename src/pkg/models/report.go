package models

import "time"

// RunStatus is the aggregate outcome of a stack or a whole run.
type RunStatus string

const (
	RunStatusPassed RunStatus = "passed"
	RunStatusFailed RunStatus = "failed"
)

// PlanSummary is the structured change summary reported by the Plan stage.
type PlanSummary struct {
	HasChanges bool `json:"hasChanges"`
	Add        int  `json:"add"`
	Change     int  `json:"change"`
	Destroy    int  `json:"destroy"`
}

// StackReport is the per-stack section of a RunReport.
type StackReport struct {
	Name      string        `json:"name"`
	Path      string        `json:"path"`
	Backend   BackendKind   `json:"backend,omitempty"`
	StatePath string        `json:"statePath,omitempty"`
	Status    RunStatus     `json:"status"`
	Stages    []StageResult `json:"stages"`
	Plan      *PlanSummary  `json:"plan,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// RunReport aggregates every stack's stage results for one invocation.
// Its Status is Failed iff at least one stack failed.
type RunReport struct {
	Timestamp   time.Time     `json:"timestamp"`
	Root        string        `json:"root"`
	DryRun      bool          `json:"dryRun"`
	Concurrency int           `json:"concurrency"`
	Stacks      []StackReport `json:"stacks"`
	Status      RunStatus     `json:"status"`
}

// Aggregate recomputes the overall status from the per-stack statuses.
func (r *RunReport) Aggregate() {
	r.Status = RunStatusPassed
	for i := range r.Stacks {
		if r.Stacks[i].Status == RunStatusFailed {
			r.Status = RunStatusFailed
			return
		}
	}
}
