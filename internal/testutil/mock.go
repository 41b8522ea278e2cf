// Package testutil provides command-mocking helpers for tests that swap the
// sandbox package's CommandContext variable.
package testutil

import (
	"context"
	"os/exec"
)

// CommandFunc matches the signature of exec.CommandContext.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// MockCommandFunc creates a mock that replaces every command with one echoing
// the given output.
// Usage: sandbox.CommandContext = testutil.MockCommandFunc(output)
func MockCommandFunc(output string) CommandFunc {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "echo", "-n", output)
	}
}

// MockDockerFunc creates a docker-aware mock: "images" reports an image as
// present, anything else executes the given shell snippet locally.
func MockDockerFunc(runSnippet string) CommandFunc {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if len(args) > 0 && args[0] == "images" {
			return exec.CommandContext(ctx, "echo", "deadbeef")
		}
		return exec.CommandContext(ctx, "sh", "-c", runSnippet)
	}
}
