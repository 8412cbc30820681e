package locator

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
)

func writeStack(t *testing.T, root, name, metadata string, tfFiles ...string) {
	t.Helper()
	dir := filepath.Join(root, STACKS_DIR_NAME, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if metadata != "" {
		if err := os.WriteFile(filepath.Join(dir, "stack.yaml"), []byte(metadata), 0644); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range tfFiles {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("# terraform\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

const validMetadata = `
backend:
  kind: s3
  bucket: state-bucket
  key: env/stack.tfstate
  region: eu-west-2
`

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "network", validMetadata, "main.tf")
	writeStack(t, root, "app", validMetadata, "main.tf", "variables.tf")
	writeStack(t, root, "broken-no-meta", "", "main.tf")
	writeStack(t, root, "broken-no-tf", validMetadata)

	stacks, violations, err := NewLocator(root, nil).Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	var names []string
	for _, s := range stacks {
		names = append(names, s.Name)
	}
	// sorted order
	want := []string{"app", "network"}
	if len(names) != len(want) || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("Discover() stacks = %v, want %v", names, want)
	}

	if len(violations) != 2 {
		t.Fatalf("Discover() violations = %d, want 2", len(violations))
	}
	for _, v := range violations {
		if v.Reason == "" {
			t.Errorf("violation %s: empty reason", v.Name)
		}
	}
}

func TestDiscoverRestartable(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "network", validMetadata, "main.tf")

	l := NewLocator(root, nil)
	first, _, err := l.Discover()
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := l.Discover()
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || len(second) != 1 || first[0].Name != second[0].Name {
		t.Errorf("Discover() not restartable: first %v, second %v", first, second)
	}
}

func TestDiscoverFilters(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "net-core", validMetadata, "main.tf")
	writeStack(t, root, "net-edge", validMetadata, "main.tf")
	writeStack(t, root, "app", validMetadata, "main.tf")

	tests := []struct {
		name    string
		filters []string
		want    []string
	}{
		{"no filter", nil, []string{"app", "net-core", "net-edge"}},
		{"exact", []string{"app"}, []string{"app"}},
		{"glob", []string{"net-*"}, []string{"net-core", "net-edge"}},
		{"no match", []string{"db"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stacks, _, err := NewLocator(root, tt.filters).Discover()
			if err != nil {
				t.Fatal(err)
			}
			var names []string
			for _, s := range stacks {
				names = append(names, s.Name)
			}
			if len(names) != len(tt.want) {
				t.Fatalf("Discover() stacks = %v, want %v", names, tt.want)
			}
			for i := range names {
				if names[i] != tt.want[i] {
					t.Errorf("Discover() stacks = %v, want %v", names, tt.want)
				}
			}
		})
	}
}

func TestDiscoverUnreadableRoot(t *testing.T) {
	_, _, err := NewLocator(filepath.Join(t.TempDir(), "does-not-exist"), nil).Discover()
	if err == nil {
		t.Fatal("Discover() expected error for missing root")
	}
}

func TestLoadStackViolations(t *testing.T) {
	tests := []struct {
		name     string
		metadata string
		tfFiles  []string
	}{
		{"missing metadata file", "", []string{"main.tf"}},
		{"unparseable metadata", "backend: [not: valid", []string{"main.tf"}},
		{"missing backend kind", "name: x\n", []string{"main.tf"}},
		{"no terraform sources", validMetadata, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeStack(t, root, "bad", tt.metadata, tt.tfFiles...)

			l := NewLocator(root, nil)
			_, err := l.loadStack("bad", filepath.Join(root, STACKS_DIR_NAME, "bad"))
			if !errors.Is(err, models.ErrConventionViolation) {
				t.Errorf("loadStack() error = %v, want ErrConventionViolation", err)
			}
		})
	}
}

const dependentMetadata = validMetadata + `dependencies:
  - network
`

func TestDiscoverParsesDependencies(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "network", validMetadata, "main.tf")
	writeStack(t, root, "app", dependentMetadata, "main.tf")

	stacks, violations, err := NewLocator(root, nil).Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("Discover() violations = %v, want none", violations)
	}
	if len(stacks) != 2 {
		t.Fatalf("Discover() = %d stacks, want 2", len(stacks))
	}
	for _, s := range stacks {
		if s.Name == "app" {
			if len(s.Dependencies) != 1 || s.Dependencies[0] != "network" {
				t.Errorf("app dependencies = %v, want [network]", s.Dependencies)
			}
		}
	}
}

func TestDiscoverUnknownDependency(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "app", validMetadata+"dependencies:\n  - ghost\n", "main.tf")

	stacks, violations, err := NewLocator(root, nil).Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(stacks) != 0 {
		t.Errorf("Discover() stacks = %v, want none", stacks)
	}
	if len(violations) != 1 {
		t.Fatalf("Discover() violations = %v, want 1", violations)
	}
	v := violations[0]
	if v.Name != "app" || !containsAll(v.Reason, "unknown dependency", "ghost") {
		t.Errorf("violation = %+v, want unknown-dependency reason naming 'ghost'", v)
	}
}

func TestDiscoverCircularDependency(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "a", validMetadata+"dependencies:\n  - b\n", "main.tf")
	writeStack(t, root, "b", validMetadata+"dependencies:\n  - a\n", "main.tf")
	writeStack(t, root, "standalone", validMetadata, "main.tf")

	stacks, violations, err := NewLocator(root, nil).Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(stacks) != 1 || stacks[0].Name != "standalone" {
		t.Errorf("Discover() stacks = %v, want only 'standalone'", stacks)
	}
	if len(violations) != 2 {
		t.Fatalf("Discover() violations = %v, want 2", violations)
	}
	for _, v := range violations {
		if !containsAll(v.Reason, "circular") {
			t.Errorf("violation %s: reason %q does not mention the cycle", v.Name, v.Reason)
		}
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

func TestLoadStackDefaultsName(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "network", validMetadata, "main.tf")

	stacks, _, err := NewLocator(root, nil).Discover()
	if err != nil {
		t.Fatal(err)
	}
	if len(stacks) != 1 || stacks[0].Name != "network" {
		t.Fatalf("Discover() = %v, want single stack named 'network'", stacks)
	}
	if stacks[0].Meta.Backend.Bucket != "state-bucket" {
		t.Errorf("backend bucket = %s, want state-bucket", stacks[0].Meta.Backend.Bucket)
	}
}
