package locator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/graph"
	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var logger = log.WithField("package", "locator")

const (
	STACKS_DIR_NAME = "stacks"
)

var (
	STACK_METADATA_FILE_NAMES = []string{"stack.yaml", "stack.yml"}
)

// Expected structure for stack discovery:
// - <root>/
// |-- <STACKS_DIR_NAME>/
// |   |-- <stackName>/
// |   |   |-- <stack.yaml / stack.yml>
// |   |   |-- <*.tf>
// |   |-- <stackName_2>/
// |   |   |-- ...

// Violation records a stack directory that does not conform to the
// convention. Reported in the run output, never fatal.
type Violation struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// StackLocator discovers Terraform stacks under the standard folder convention.
type StackLocator interface {
	// Discover walks the stacks directory and returns conforming stacks in
	// deterministic (sorted) order, plus a violation per malformed directory.
	// The returned error is a configuration error (unreadable root) only.
	Discover() ([]*models.Stack, []Violation, error)
}

// Locator scans a root directory for stack folders. Filters, when set,
// restrict discovery to stacks whose name matches one of the glob patterns.
type Locator struct {
	Root    string
	Filters []string
}

// Ensure Locator implements StackLocator
var _ StackLocator = (*Locator)(nil)

func NewLocator(root string, filters []string) *Locator {
	return &Locator{
		Root:    root,
		Filters: filters,
	}
}

func (l *Locator) Discover() ([]*models.Stack, []Violation, error) {
	stacksDir := filepath.Join(l.Root, STACKS_DIR_NAME)
	logger.WithField("stacksDir", stacksDir).Info("Discovering stacks...")

	entries, err := os.ReadDir(stacksDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read stacks directory '%s': %w", stacksDir, err)
	}

	var names []string
	dirNames := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
			dirNames[entry.Name()] = true
		}
	}
	sort.Strings(names)

	var stacks []*models.Stack
	var violations []Violation
	for _, name := range names {
		if !l.matchesFilter(name) {
			logger.WithField("stack", name).Debug("Stack filtered out")
			continue
		}

		stackPath := filepath.Join(stacksDir, name)
		stack, err := l.loadStack(name, stackPath)
		if err != nil {
			logger.WithField("stack", name).WithField("error", err).
				Warn("Stack does not conform to convention, reporting and continuing")
			violations = append(violations, Violation{
				Name:   name,
				Path:   stackPath,
				Reason: err.Error(),
			})
			continue
		}
		stacks = append(stacks, stack)
	}

	stacks, violations = l.validateDependencies(stacks, violations, dirNames)

	logger.Infof("Discovery done: %d stacks, %d violations.", len(stacks), len(violations))
	return stacks, violations, nil
}

// validateDependencies enforces that every dependency names an existing stack
// and that the dependency graph is acyclic. Offending stacks are demoted to
// violations, same as malformed directories.
func (l *Locator) validateDependencies(stacks []*models.Stack, violations []Violation, dirNames map[string]bool) ([]*models.Stack, []Violation) {
	known := make(map[string]bool, len(dirNames)+len(stacks))
	for name := range dirNames {
		known[name] = true
	}
	for _, stack := range stacks {
		known[stack.Name] = true
	}

	demote := func(stack *models.Stack, reason error) {
		logger.WithField("stack", stack.Name).WithField("error", reason).
			Warn("Stack has an invalid dependency declaration, reporting and continuing")
		violations = append(violations, Violation{
			Name:   stack.Name,
			Path:   stack.Path,
			Reason: reason.Error(),
		})
	}

	var valid []*models.Stack
	for _, stack := range stacks {
		unknown := ""
		for _, dep := range stack.Dependencies {
			if !known[dep] {
				unknown = dep
				break
			}
		}
		if unknown != "" {
			demote(stack, fmt.Errorf("%w: unknown dependency: non-existent stack '%s' referenced by '%s'",
				models.ErrConventionViolation, unknown, stack.Name))
			continue
		}
		valid = append(valid, stack)
	}

	_, cyclic := graph.Waves(valid)
	if len(cyclic) == 0 {
		return valid, violations
	}

	blocked := make(map[string]bool, len(cyclic))
	for _, stack := range cyclic {
		blocked[stack.Name] = true
		demote(stack, fmt.Errorf("%w: circular reference: stack '%s' is on or depends on a dependency cycle",
			models.ErrConventionViolation, stack.Name))
	}
	var acyclic []*models.Stack
	for _, stack := range valid {
		if !blocked[stack.Name] {
			acyclic = append(acyclic, stack)
		}
	}
	return acyclic, violations
}

func (l *Locator) matchesFilter(name string) bool {
	if len(l.Filters) == 0 {
		return true
	}
	for _, pattern := range l.Filters {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// loadStack validates one stack directory against the convention and parses
// its metadata file. All errors wrap models.ErrConventionViolation.
func (l *Locator) loadStack(name, stackPath string) (*models.Stack, error) {
	metaPath, found := l.metadataFileInPath(stackPath)
	if !found {
		return nil, fmt.Errorf("%w: no stack metadata file (stack.yaml) in '%s'", models.ErrConventionViolation, stackPath)
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read '%s': %v", models.ErrConventionViolation, metaPath, err)
	}

	var meta models.StackMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: failed to parse '%s': %v", models.ErrConventionViolation, metaPath, err)
	}

	if meta.Backend.Kind == "" {
		return nil, fmt.Errorf("%w: '%s' has no backend.kind", models.ErrConventionViolation, metaPath)
	}

	hasTf, err := l.hasTerraformSources(stackPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list '%s': %v", models.ErrConventionViolation, stackPath, err)
	}
	if !hasTf {
		return nil, fmt.Errorf("%w: no Terraform sources (*.tf) in '%s'", models.ErrConventionViolation, stackPath)
	}

	if meta.Name == "" {
		meta.Name = name
	}
	return models.NewStack(meta.Name, stackPath, meta), nil
}

func (l *Locator) metadataFileInPath(stackPath string) (string, bool) {
	for _, fileName := range STACK_METADATA_FILE_NAMES {
		metaPath := filepath.Join(stackPath, fileName)
		if _, err := os.Stat(metaPath); err == nil {
			return metaPath, true
		}
	}
	return "", false
}

func (l *Locator) hasTerraformSources(stackPath string) (bool, error) {
	entries, err := os.ReadDir(stackPath)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".tf") {
			return true, nil
		}
	}
	return false, nil
}
