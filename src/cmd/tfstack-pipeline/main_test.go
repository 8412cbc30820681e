package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/internal/runner"
)

// Every invalid invocation must surface as a configuration error so main
// maps it to the configuration exit code, including cobra's own parse
// failures.
func TestInvalidInvocationsAreConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"--root", ".", "--bogus-flag"}},
		{name: "bad flag value", args: []string{"--root", ".", "--concurrency", "lots"}},
		{name: "missing root", args: []string{}},
		{name: "unreadable root", args: []string{"--root", "/does/not/exist"}},
		{name: "bad run mode", args: []string{"--root", ".", "--run-mode", "weird"}},
		{name: "zero concurrency", args: []string{"--root", ".", "--concurrency", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetErr(&out)

			err := cmd.Execute()
			if err == nil {
				t.Fatal("Execute() error = nil, want configuration error")
			}
			if !errors.Is(err, runner.ErrConfiguration) {
				t.Errorf("Execute() error = %v, want to wrap runner.ErrConfiguration", err)
			}
		})
	}
}
