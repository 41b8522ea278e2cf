// Package sandbox runs packaged projects inside an isolated Docker container.
//
// The contract with callers: Execute always returns a structured Result with a
// step-by-step log, whatever happened. A wall-clock timeout is reported as its
// own condition, never as a plain non-zero exit.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Dbillionaer/llm-council-local/internal/project"
)

// CommandContext is the function used to create exec.Cmd instances.
// It can be replaced in tests to mock Docker invocations.
var CommandContext = exec.CommandContext

// dockerfile describes the dev-environment image built on first use.
const dockerfile = `FROM ubuntu:22.04

ENV DEBIAN_FRONTEND=noninteractive

RUN apt-get update && apt-get install -y \
    build-essential \
    curl \
    wget \
    git \
    bzip2 \
    python3 \
    python3-pip \
    python3-venv \
    nodejs \
    npm \
    && rm -rf /var/lib/apt/lists/*

WORKDIR /workspace

CMD ["/bin/bash"]
`

const imageBuildTimeout = 10 * time.Minute

// DefaultRunScript is the entry point executed when none is specified.
const DefaultRunScript = "run.sh"

// Config bounds a sandboxed execution.
type Config struct {
	Image   string
	Memory  string
	CPUs    string
	Timeout time.Duration
}

// Result is the structured outcome of a sandbox execution.
type Result struct {
	Success  bool     `json:"success"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout,omitempty"`
	Stderr   string   `json:"stderr,omitempty"`
	TimedOut bool     `json:"timed_out,omitempty"`
	Error    string   `json:"error,omitempty"`
	Log      []string `json:"log"`
	Files    []string `json:"files,omitempty"`
}

// Runner executes archives under Docker with resource limits.
type Runner struct {
	cfg    Config
	logger *zap.Logger
}

// NewRunner creates a Runner. Zero-value config fields get conservative
// defaults.
func NewRunner(cfg Config, logger *zap.Logger) *Runner {
	if cfg.Image == "" {
		cfg.Image = "llm-council-dev-env"
	}
	if cfg.Memory == "" {
		cfg.Memory = "512m"
	}
	if cfg.CPUs == "" {
		cfg.CPUs = "1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Execute unpacks the archive into an ephemeral workspace, locates runScript
// (searching one directory level deep), and runs it in a network-disabled
// container with memory and CPU ceilings.
func (r *Runner) Execute(ctx context.Context, archivePath, runScript string) *Result {
	if runScript == "" {
		runScript = DefaultRunScript
	}

	res := &Result{}
	res.step("[%s] Starting safe app execution", time.Now().Format(time.RFC3339))

	res.step("Checking/building Docker image...")
	if err := r.ensureImage(ctx, res); err != nil {
		res.Error = err.Error()
		return res
	}

	if _, err := os.Stat(archivePath); err != nil {
		res.Error = fmt.Sprintf("archive not found: %s", archivePath)
		return res
	}
	res.step("Found archive: %s", archivePath)

	workdir, err := os.MkdirTemp("", "devorg-sandbox-")
	if err != nil {
		res.Error = fmt.Sprintf("failed to create workspace: %v", err)
		return res
	}
	defer os.RemoveAll(workdir)

	res.step("Extracting archive...")
	if err := project.Extract(archivePath, workdir); err != nil {
		res.Error = fmt.Sprintf("failed to extract archive: %v", err)
		return res
	}
	res.step("Archive extracted successfully")

	scriptDir, found := findRunScript(workdir, runScript)
	if !found {
		res.Error = fmt.Sprintf("run script not found: %s", runScript)
		res.Files = listFiles(workdir)
		return res
	}
	res.step("Found run script: %s", filepath.Join(scriptDir, runScript))

	return r.runContainer(ctx, scriptDir, runScript, res)
}

// ensureImage builds the dev image when it is not present locally.
func (r *Runner) ensureImage(ctx context.Context, res *Result) error {
	check := CommandContext(ctx, "docker", "images", "-q", r.cfg.Image)
	out, err := check.Output()
	if err != nil {
		return fmt.Errorf("failed to query docker images: %w", err)
	}
	if strings.TrimSpace(string(out)) != "" {
		res.step("Using existing Docker image: %s", r.cfg.Image)
		return nil
	}

	buildDir, err := os.MkdirTemp("", "devorg-image-")
	if err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}
	defer os.RemoveAll(buildDir)

	if err := os.WriteFile(filepath.Join(buildDir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return fmt.Errorf("failed to write Dockerfile: %w", err)
	}

	buildCtx, cancel := context.WithTimeout(ctx, imageBuildTimeout)
	defer cancel()

	var stderr bytes.Buffer
	build := CommandContext(buildCtx, "docker", "build", "-t", r.cfg.Image, buildDir)
	build.Stderr = &stderr
	if err := build.Run(); err != nil {
		return fmt.Errorf("failed to build Docker image: %s", strings.TrimSpace(stderr.String()))
	}

	r.logger.Info("docker image built", zap.String("image", r.cfg.Image))
	res.step("Built Docker image: %s", r.cfg.Image)
	return nil
}

// runContainer executes the script inside the container and classifies the
// outcome.
func (r *Runner) runContainer(ctx context.Context, scriptDir, runScript string, res *Result) *Result {
	res.step("Starting Docker container...")

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	name := fmt.Sprintf("devorg-sandbox-%s", time.Now().Format("20060102150405"))
	cmd := CommandContext(runCtx, "docker", "run",
		"--rm",
		"--name", name,
		"-v", scriptDir+":/workspace",
		"--workdir", "/workspace",
		"--network", "none",
		"--memory", r.cfg.Memory,
		"--cpus", r.cfg.CPUs,
		r.cfg.Image,
		"bash", "-c", fmt.Sprintf("chmod +x %s && ./%s", runScript, runScript),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.Error = fmt.Sprintf("execution timed out after %s", r.cfg.Timeout)
		res.step("Container killed: timeout after %s", r.cfg.Timeout)
		return res
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			res.step("Container exited with code: %d", res.ExitCode)
			return res
		}
		res.Error = fmt.Sprintf("failed to run container: %v", err)
		return res
	}

	res.Success = true
	res.step("Container exited with code: 0")
	return res
}

// findRunScript looks for the script in dir, then one directory level deep.
func findRunScript(dir, runScript string) (string, bool) {
	if _, err := os.Stat(filepath.Join(dir, runScript)); err == nil {
		return dir, true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(sub, runScript)); err == nil {
			return sub, true
		}
	}
	return "", false
}

// listFiles returns relative paths of everything under dir, for diagnostics
// when the entry point is missing.
func listFiles(dir string) []string {
	var files []string
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(dir, path); err == nil {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	return files
}

// step appends a formatted line to the execution log.
func (r *Result) step(format string, args ...any) {
	r.Log = append(r.Log, fmt.Sprintf(format, args...))
}
