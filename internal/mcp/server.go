// Package mcp exposes the development workflow and its project storage over
// the Model Context Protocol on stdio.
package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Dbillionaer/llm-council-local/internal/config"
	"github.com/Dbillionaer/llm-council-local/internal/llm"
	"github.com/Dbillionaer/llm-council-local/internal/memory"
	"github.com/Dbillionaer/llm-council-local/internal/project"
	"github.com/Dbillionaer/llm-council-local/internal/workflow"
)

// pendingRun is a workflow suspended at the plan-approval gate, keyed by
// project name until the user answers through send-response-to-dev-team.
type pendingRun struct {
	Query    string
	Roles    config.Roles
	Snapshot *workflow.Snapshot
}

// Server wires the workflow engine, project storage, and the sandbox into MCP
// tools. One Server owns all runs started through it; suspended runs live in
// memory until resumed or the process exits.
type Server struct {
	mcp      *mcp.Server
	cfg      *config.Config
	querier  llm.Querier
	store    project.Store
	verifier workflow.Verifier
	recorder memory.Recorder
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingRun
}

// Options configures server construction.
type Options struct {
	// Name is the server implementation name.
	Name string

	// Version is the server version string.
	Version string

	// Logger for structured logging. Defaults to a nop logger.
	Logger *zap.Logger

	// Recorder receives workflow episodes. Defaults to a nop recorder.
	Recorder memory.Recorder
}

// NewServer creates an MCP server over the given collaborators.
func NewServer(cfg *config.Config, querier llm.Querier, store project.Store, verifier workflow.Verifier, opts *Options) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if querier == nil {
		return nil, fmt.Errorf("llm querier is required")
	}
	if store == nil {
		return nil, fmt.Errorf("project store is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("sandbox verifier is required")
	}
	if opts == nil {
		opts = &Options{}
	}
	if opts.Name == "" {
		opts.Name = "software-dev-org"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = memory.Nop{}
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    opts.Name,
			Version: opts.Version,
		}, nil),
		cfg:      cfg,
		querier:  querier,
		store:    store,
		verifier: verifier,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		pending:  map[string]*pendingRun{},
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP requests on the stdio transport until ctx is cancelled.
// Stdout belongs to the protocol; all logging must go to stderr.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// newEngine builds a fresh engine for one workflow invocation.
func (s *Server) newEngine() *workflow.Engine {
	return workflow.NewEngine(s.querier, s.store, s.verifier,
		workflow.WithRecorder(s.recorder),
		workflow.WithLogger(s.logger))
}

// runWorkflow drives one engine invocation and files or clears the pending
// entry depending on whether the run suspended at the approval gate.
func (s *Server) runWorkflow(ctx context.Context, query string, roles config.Roles, userResponse string, snap *workflow.Snapshot) *workflow.Result {
	res := s.newEngine().Run(ctx, workflow.Request{
		Query:        query,
		Roles:        roles,
		UserResponse: userResponse,
		Snapshot:     snap,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Status == workflow.StatusAwaitingPlanValidation {
		s.pending[res.ProjectName] = &pendingRun{Query: query, Roles: roles, Snapshot: res.Snapshot}
	} else {
		delete(s.pending, res.ProjectName)
	}
	return res
}

// takePending removes and returns the suspended run for a project.
func (s *Server) takePending(projectName string) (*pendingRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.pending[projectName]
	if ok {
		delete(s.pending, projectName)
	}
	return run, ok
}
