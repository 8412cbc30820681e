package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"
	log "github.com/sirupsen/logrus"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
)

var logger *log.Entry = log.New().WithFields(log.Fields{
	"package": "policy",
})

const (
	POLICY_QUERY = "data.terraform.stack"
)

// ScanInput is the document handed to the policies for one stack.
type ScanInput struct {
	Stack   StackInput   `json:"stack"`
	Backend BackendInput `json:"backend"`
	Files   []string     `json:"files"`
}

type StackInput struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// All backend fields are always present in the document, even when empty,
// so policies can test for absence with == "" instead of undefined refs.
type BackendInput struct {
	Kind      string `json:"kind"`
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	Region    string `json:"region"`
	LockTable string `json:"lockTable"`
}

// Violation is a single policy finding.
type Violation struct {
	Message string `json:"message"`
}

// Report is the outcome of evaluating all loaded policies against one stack.
// Deny violations fail the scan stage; warnings are diagnostics only.
type Report struct {
	Deny []Violation `json:"deny,omitempty"`
	Warn []Violation `json:"warn,omitempty"`
}

func (r *Report) Passed() bool {
	return len(r.Deny) == 0
}

// Evaluator loads rego policies from a directory and evaluates them
// in-process against stack scan inputs.
type Evaluator struct {
	policiesPath string

	// module name -> source, loaded by LoadAndValidate
	modules map[string]string
}

func NewEvaluator(policiesPath string) *Evaluator {
	return &Evaluator{
		policiesPath: policiesPath,
		modules:      make(map[string]string),
	}
}

// LoadAndValidate reads every .rego policy under the policies path
// (test files excluded) and checks they compile. A missing or empty policies
// directory is valid: the scan stage then passes trivially.
func (e *Evaluator) LoadAndValidate() error {
	logger.Info("LoadAndValidate: starting...")

	if e.policiesPath == "" {
		logger.Info("LoadAndValidate: no policies path configured.")
		return nil
	}
	if _, err := os.Stat(e.policiesPath); os.IsNotExist(err) {
		logger.WithField("policiesPath", e.policiesPath).Warn("Policies path does not exist, scan stage will pass trivially")
		return nil
	}

	err := filepath.WalkDir(e.policiesPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, "_test.rego") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy '%s': %w", path, err)
		}
		rel, err := filepath.Rel(e.policiesPath, path)
		if err != nil {
			rel = path
		}
		e.modules[rel] = string(data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	if len(e.modules) > 0 {
		// compile once up front so broken policies fail the run before any
		// stack starts, not in the middle of a scan stage
		opts := []func(*rego.Rego){rego.Query(POLICY_QUERY)}
		for name, src := range e.modules {
			opts = append(opts, rego.Module(name, src))
		}
		if _, err := rego.New(opts...).PrepareForEval(context.Background()); err != nil {
			return fmt.Errorf("failed to compile policies: %w", err)
		}
	}

	logger.Infof("LoadAndValidate: done, loaded %d policy modules.", len(e.modules))
	return nil
}

// HasPolicies reports whether any policy module was loaded.
func (e *Evaluator) HasPolicies() bool {
	return len(e.modules) > 0
}

// NewScanInput builds the policy input document for one stack.
func NewScanInput(stack *models.Stack) (*ScanInput, error) {
	entries, err := os.ReadDir(stack.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to list stack directory '%s': %w", stack.Path, err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	meta := stack.Meta.Backend
	return &ScanInput{
		Stack: StackInput{
			Name: stack.Name,
			Path: stack.Path,
		},
		Backend: BackendInput{
			Kind:      meta.Kind,
			Bucket:    meta.Bucket,
			Key:       meta.Key,
			Region:    meta.Region,
			LockTable: meta.LockTable,
		},
		Files: files,
	}, nil
}

// Evaluate runs the loaded policies against the input. The policies are
// expected to populate deny/warn sets under data.terraform.stack; each entry
// may be a plain string or an object with a "message" field.
func (e *Evaluator) Evaluate(ctx context.Context, input *ScanInput) (*Report, error) {
	report := &Report{}
	if !e.HasPolicies() {
		logger.Debug("Evaluate: no policies loaded, passing trivially")
		return report, nil
	}

	logger.WithField("stack", input.Stack.Name).Infof("Evaluating %d policy modules", len(e.modules))

	opts := []func(*rego.Rego){
		rego.Query(POLICY_QUERY),
		rego.Input(input),
	}
	for name, src := range e.modules {
		opts = append(opts, rego.Module(name, src))
	}
	rs, err := rego.New(opts...).Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return report, nil
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return report, nil
	}

	report.Deny = parseViolations(obj["deny"])
	report.Warn = parseViolations(obj["warn"])
	return report, nil
}

func parseViolations(v any) []Violation {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	out := make([]Violation, 0, len(list))
	for _, entry := range list {
		switch t := entry.(type) {
		case string:
			out = append(out, Violation{Message: t})
		case map[string]any:
			viol := Violation{}
			if s, ok := t["message"].(string); ok {
				viol.Message = s
			}
			if viol.Message == "" {
				viol.Message = fmt.Sprintf("%v", t)
			}
			out = append(out, viol)
		default:
			out = append(out, Violation{Message: fmt.Sprintf("%v", t)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Message < out[j].Message })
	return out
}
