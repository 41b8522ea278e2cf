// Package cli wires the workflow engine, project storage, sandbox, and MCP
// server into the devorg command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Dbillionaer/llm-council-local/internal/config"
	"github.com/Dbillionaer/llm-council-local/internal/llm"
	"github.com/Dbillionaer/llm-council-local/internal/logging"
	"github.com/Dbillionaer/llm-council-local/internal/memory"
	"github.com/Dbillionaer/llm-council-local/internal/project"
	"github.com/Dbillionaer/llm-council-local/internal/sandbox"
	"github.com/Dbillionaer/llm-council-local/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "devorg",
	Short:   "Multi-role LLM development workflow",
	Long:    `Devorg runs an architect, engineer, and QA analyst in a plan-approve-build-test loop, packages the result, and verifies it in a sandbox.`,
	Version: version.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "devorg.yaml", "path to config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(sandboxCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// app bundles the collaborators every command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	querier  *llm.Client
	store    *project.DirStore
	runner   *sandbox.Runner
	recorder memory.Recorder
}

// buildApp loads configuration and constructs the shared collaborators.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	var recorder memory.Recorder = memory.Nop{}
	if cfg.Memory.Enabled {
		recorder = memory.NewHTTPRecorder(cfg.Memory.BaseURL, logger)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		querier:  llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, logger),
		store:    project.NewDirStore(cfg.ProjectsDir, logger),
		runner:   sandbox.NewRunner(sandbox.Config{
			Image:   cfg.Sandbox.Image,
			Memory:  cfg.Sandbox.Memory,
			CPUs:    cfg.Sandbox.CPUs,
			Timeout: cfg.Sandbox.Timeout,
		}, logger),
		recorder: recorder,
	}, nil
}
