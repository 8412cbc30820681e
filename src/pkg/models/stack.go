package models

import "errors"

var (
	// ErrConventionViolation indicates a stack directory does not follow the
	// standard folder convention (missing metadata, no Terraform sources, ...).
	// Violations are reported per stack, never fatal for the whole run.
	ErrConventionViolation = errors.New("stack convention violation")

	// ErrUnsupportedBackend indicates a stack declares a backend kind the
	// resolver does not implement yet. Permanent, not retryable.
	ErrUnsupportedBackend = errors.New("unsupported backend")
)

// BackendKind identifies the remote state backend of a stack.
type BackendKind string

const (
	BackendKindS3    BackendKind = "s3"
	BackendKindAzure BackendKind = "azurerm" // planned, not resolvable yet
)

// StageKind identifies one pipeline stage applied to a stack.
type StageKind string

const (
	StageLint   StageKind = "lint"
	StageScan   StageKind = "scan"
	StagePlan   StageKind = "plan"
	StageDeploy StageKind = "deploy"
)

// StageOrder returns the fixed stage sequence of the pipeline.
func StageOrder() []StageKind {
	return []StageKind{StageLint, StageScan, StagePlan, StageDeploy}
}

// StageStatus is the lifecycle state of a single stage.
// Valid transitions: Pending -> Running -> {Passed, Failed};
// Pending -> Skipped only after an earlier stage failed or was gated out.
type StageStatus string

const (
	StageStatusPending StageStatus = "pending"
	StageStatusRunning StageStatus = "running"
	StageStatusPassed  StageStatus = "passed"
	StageStatusFailed  StageStatus = "failed"
	StageStatusSkipped StageStatus = "skipped"
)

// StageResult is the recorded outcome of one stage on one stack.
// Diagnostic carries the raw collaborator output on failure; it is never
// truncated or swallowed.
type StageResult struct {
	Kind       StageKind   `json:"kind"`
	Status     StageStatus `json:"status"`
	Diagnostic string      `json:"diagnostic,omitempty"`
	DurationMs int64       `json:"durationMs,omitempty"`
}

// BackendMeta is the backend block of a stack.yaml metadata file.
type BackendMeta struct {
	Kind      string `yaml:"kind" json:"kind"`
	Bucket    string `yaml:"bucket" json:"bucket,omitempty"`
	Key       string `yaml:"key" json:"key,omitempty"`
	Region    string `yaml:"region" json:"region,omitempty"`
	LockTable string `yaml:"lockTable" json:"lockTable,omitempty"`
}

// StackMeta is the parsed content of a stack.yaml metadata file.
type StackMeta struct {
	Name    string      `yaml:"name"`
	Backend BackendMeta `yaml:"backend"`

	// Dependencies lists stack names that must be processed before this
	// stack. Every entry must name an existing stack directory.
	Dependencies []string `yaml:"dependencies"`
}

// Stack is one Terraform-managed unit of work. Created at discovery time,
// mutated as stages complete, discarded after the run (persists only in the
// exported report).
type Stack struct {
	Name    string      `json:"name"`
	Path    string      `json:"path"`
	Backend BackendKind `json:"backend,omitempty"`
	Meta    StackMeta   `json:"-"`

	// Dependencies are the stack names this stack waits for; dependents are
	// scheduled only after every dependency finished.
	Dependencies []string `json:"dependencies,omitempty"`

	// Stages holds one result per StageOrder entry, in order.
	Stages []StageResult `json:"stages"`

	// Error records a stack-level failure that happened before any stage ran
	// (convention violation, unsupported backend). Stage results stay Pending.
	Error string `json:"error,omitempty"`
}

// NewStack returns a Stack with all stages Pending.
func NewStack(name, path string, meta StackMeta) *Stack {
	stages := make([]StageResult, 0, len(StageOrder()))
	for _, kind := range StageOrder() {
		stages = append(stages, StageResult{Kind: kind, Status: StageStatusPending})
	}
	return &Stack{
		Name:         name,
		Path:         path,
		Meta:         meta,
		Dependencies: meta.Dependencies,
		Stages:       stages,
	}
}

// Stage returns the result slot for the given stage kind, or nil.
func (s *Stack) Stage(kind StageKind) *StageResult {
	for i := range s.Stages {
		if s.Stages[i].Kind == kind {
			return &s.Stages[i]
		}
	}
	return nil
}

// Failed reports whether the stack failed, either before any stage ran or
// because one of its stages failed.
func (s *Stack) Failed() bool {
	if s.Error != "" {
		return true
	}
	for i := range s.Stages {
		if s.Stages[i].Status == StageStatusFailed {
			return true
		}
	}
	return false
}

// Status collapses the stack into an overall run status.
func (s *Stack) Status() RunStatus {
	if s.Failed() {
		return RunStatusFailed
	}
	return RunStatusPassed
}
