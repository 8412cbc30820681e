package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const stackPolicy = `package terraform.stack

deny[msg] {
	input.backend.kind == "s3"
	not startswith(input.backend.key, "env/")
	msg := sprintf("state key '%s' must live under env/", [input.backend.key])
}

deny[msg] {
	not input.backend.region == "eu-west-2"
	msg := "state must live in eu-west-2"
}

warn[msg] {
	input.backend.lockTable == ""
	msg := "no lock table configured"
}
`

func writePolicy(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func loadedEvaluator(t *testing.T, policies map[string]string) *Evaluator {
	t.Helper()
	dir := t.TempDir()
	for name, content := range policies {
		writePolicy(t, dir, name, content)
	}
	e := NewEvaluator(dir)
	if err := e.LoadAndValidate(); err != nil {
		t.Fatalf("LoadAndValidate() error = %v", err)
	}
	return e
}

func TestEvaluate(t *testing.T) {
	e := loadedEvaluator(t, map[string]string{"stack.rego": stackPolicy})

	tests := []struct {
		name     string
		input    ScanInput
		wantDeny int
		wantWarn int
	}{
		{
			name: "conforming stack",
			input: ScanInput{
				Backend: BackendInput{Kind: "s3", Key: "env/a.tfstate", Region: "eu-west-2", LockTable: "locks"},
			},
			wantDeny: 0,
			wantWarn: 0,
		},
		{
			name: "bad key and region",
			input: ScanInput{
				Backend: BackendInput{Kind: "s3", Key: "a.tfstate", Region: "us-east-1", LockTable: "locks"},
			},
			wantDeny: 2,
			wantWarn: 0,
		},
		{
			name: "warning only",
			input: ScanInput{
				Backend: BackendInput{Kind: "s3", Key: "env/a.tfstate", Region: "eu-west-2"},
			},
			wantDeny: 0,
			wantWarn: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := e.Evaluate(context.Background(), &tt.input)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if len(report.Deny) != tt.wantDeny {
				t.Errorf("Evaluate() deny = %v, want %d entries", report.Deny, tt.wantDeny)
			}
			if len(report.Warn) != tt.wantWarn {
				t.Errorf("Evaluate() warn = %v, want %d entries", report.Warn, tt.wantWarn)
			}
			if (len(report.Deny) == 0) != report.Passed() {
				t.Errorf("Passed() = %v inconsistent with deny %v", report.Passed(), report.Deny)
			}
		})
	}
}

func TestEvaluateNoPolicies(t *testing.T) {
	e := NewEvaluator(filepath.Join(t.TempDir(), "missing"))
	if err := e.LoadAndValidate(); err != nil {
		t.Fatalf("LoadAndValidate() error = %v", err)
	}
	if e.HasPolicies() {
		t.Error("HasPolicies() = true, want false")
	}

	report, err := e.Evaluate(context.Background(), &ScanInput{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !report.Passed() {
		t.Error("Evaluate() with no policies should pass")
	}
}

func TestLoadAndValidateSkipsTestFiles(t *testing.T) {
	e := loadedEvaluator(t, map[string]string{
		"stack.rego":      stackPolicy,
		"stack_test.rego": "package terraform.stack\n\ntest_noop { true }\n",
	})
	if len(e.modules) != 1 {
		t.Errorf("loaded %d modules, want 1 (test files excluded)", len(e.modules))
	}
}

func TestLoadAndValidateBrokenPolicy(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "broken.rego", "package terraform.stack\n\ndeny[msg] { msg := }\n")

	e := NewEvaluator(dir)
	if err := e.LoadAndValidate(); err == nil {
		t.Fatal("LoadAndValidate() expected error for broken policy")
	}
}
