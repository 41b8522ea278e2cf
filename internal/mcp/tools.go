package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Dbillionaer/llm-council-local/internal/config"
	"github.com/Dbillionaer/llm-council-local/internal/project"
	"github.com/Dbillionaer/llm-council-local/internal/workflow"
)

type writeFileInput struct {
	ProjectName string `json:"project_name" jsonschema:"required,Name of the project folder"`
	Filename    string `json:"filename" jsonschema:"required,Name of the file to write (can include subdirectories)"`
	Content     string `json:"content" jsonschema:"required,Content to write to the file"`
}

type writeFileOutput struct {
	Path string `json:"path" jsonschema:"Absolute path of the written file"`
}

type readFileInput struct {
	ProjectName string `json:"project_name" jsonschema:"required,Name of the project folder"`
	Filename    string `json:"filename" jsonschema:"required,Name of the file to read"`
}

type readFileOutput struct {
	Content string `json:"content" jsonschema:"File content"`
}

type listFilesInput struct {
	ProjectName string `json:"project_name" jsonschema:"required,Name of the project folder"`
}

type listFilesOutput struct {
	Files []project.FileInfo `json:"files" jsonschema:"Files in the project"`
	Count int                `json:"count" jsonschema:"Number of files"`
}

type createArchiveInput struct {
	ProjectName string `json:"project_name" jsonschema:"required,Name of the project folder to archive"`
}

type createArchiveOutput struct {
	ArchivePath string `json:"archive_path" jsonschema:"Path of the created .tar.bz2 archive"`
}

type safeExecutionInput struct {
	ArchivePath string `json:"archive_path" jsonschema:"required,Path to the bzip2 archive (.tar.bz2) to unpack and run"`
	RunScript   string `json:"run_script,omitempty" jsonschema:"Name of the script to execute (default: run.sh)"`
}

type devTeamInput struct {
	Query        string            `json:"query" jsonschema:"required,Description of the MCP server to develop (what tools it should provide and what it should do)"`
	UserResponse string            `json:"user_response,omitempty" jsonschema:"User response for plan validation: 'approved' to proceed or 'refine' to improve the plan or specific feedback"`
	Config       *config.Overrides `json:"config,omitempty" jsonschema:"Per-run role model overrides"`
}

type devTeamResponseInput struct {
	ProjectName string `json:"project_name" jsonschema:"required,Name of the project being developed"`
	Response    string `json:"response" jsonschema:"required,User response: 'approved' or 'refine' or specific feedback"`
}

func (s *Server) registerTools() {
	s.registerFileTools()
	s.registerSandboxTool()
	s.registerDevTeamTools()
}

func (s *Server) registerFileTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "write-file",
		Description: "Write content to a file in a project folder. Creates the project folder if it doesn't exist.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args writeFileInput) (*mcp.CallToolResult, writeFileOutput, error) {
		path, err := s.store.Write(args.ProjectName, args.Filename, args.Content)
		if err != nil {
			return nil, writeFileOutput{}, err
		}
		s.logger.Info("wrote project file",
			zap.String("project", args.ProjectName),
			zap.String("file", args.Filename))
		return textResult("File written: " + path), writeFileOutput{Path: path}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "read-file",
		Description: "Read content from a file in a project folder.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args readFileInput) (*mcp.CallToolResult, readFileOutput, error) {
		content, err := s.store.Read(args.ProjectName, args.Filename)
		if err != nil {
			return nil, readFileOutput{}, err
		}
		return textResult(content), readFileOutput{Content: content}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list-files",
		Description: "List all files in a project folder.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args listFilesInput) (*mcp.CallToolResult, listFilesOutput, error) {
		files, err := s.store.List(args.ProjectName)
		if err != nil {
			return nil, listFilesOutput{}, err
		}
		return textResult(fmt.Sprintf("%d files in %s", len(files), args.ProjectName)),
			listFilesOutput{Files: files, Count: len(files)}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create-archive",
		Description: "Create a bzip2 archive (.tar.bz2) of a project folder.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args createArchiveInput) (*mcp.CallToolResult, createArchiveOutput, error) {
		path, err := s.store.Archive(args.ProjectName)
		if err != nil {
			return nil, createArchiveOutput{}, err
		}
		return textResult("Archive created: " + path), createArchiveOutput{ArchivePath: path}, nil
	})
}

func (s *Server) registerSandboxTool() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "safe-app-execution",
		Description: "Execute code in a sandboxed Docker container. Unpacks a bzip2 archive, makes run.sh executable, and runs it with resource limits and no network access.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args safeExecutionInput) (*mcp.CallToolResult, sandboxOutput, error) {
		out := s.executeSandbox(ctx, args.ArchivePath, args.RunScript)
		summary := "Sandbox execution failed"
		if out.Success {
			summary = "Sandbox execution succeeded"
		}
		return textResult(summary), out, nil
	})
}

// executeSandbox runs the archive through the verifier. A nil result is
// treated as a failed run rather than dereferenced.
func (s *Server) executeSandbox(ctx context.Context, archivePath, runScript string) sandboxOutput {
	res := s.verifier.Execute(ctx, archivePath, runScript)
	if res == nil {
		return sandboxOutput{Error: "sandbox produced no result"}
	}
	return sandboxOutput{
		Success:  res.Success,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		TimedOut: res.TimedOut,
		Error:    res.Error,
		Log:      res.Log,
		Files:    res.Files,
	}
}

type sandboxOutput struct {
	Success  bool     `json:"success" jsonschema:"Whether the script exited zero within limits"`
	ExitCode int      `json:"exit_code" jsonschema:"Script exit code"`
	Stdout   string   `json:"stdout,omitempty" jsonschema:"Captured standard output"`
	Stderr   string   `json:"stderr,omitempty" jsonschema:"Captured standard error"`
	TimedOut bool     `json:"timed_out,omitempty" jsonschema:"Whether execution hit the time limit"`
	Error    string   `json:"error,omitempty" jsonschema:"Setup or execution error"`
	Log      []string `json:"log" jsonschema:"Step-by-step execution log"`
	Files    []string `json:"files,omitempty" jsonschema:"Files present in the workspace after the run"`
}

func (s *Server) registerDevTeamTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "mcp-dev-team",
		Description: "AI-driven MCP server development workflow with plan validation. Uses architect, engineer, and QA LLM roles. First call creates a plan, then user responds with 'approved', 'refine', or feedback.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args devTeamInput) (*mcp.CallToolResult, workflow.Result, error) {
		roles, err := s.cfg.Models.Resolve(args.Config)
		if err != nil {
			return nil, workflow.Result{}, err
		}
		res := s.runWorkflow(ctx, args.Query, roles, args.UserResponse, nil)
		return textResult(devTeamSummary(res)), *res, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "send-response-to-dev-team",
		Description: "Send a response to an ongoing mcp-dev-team workflow for plan validation or feedback",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args devTeamResponseInput) (*mcp.CallToolResult, workflow.Result, error) {
		run, ok := s.takePending(args.ProjectName)
		if !ok {
			return nil, workflow.Result{}, fmt.Errorf("no pending workflow for project %q", args.ProjectName)
		}
		res := s.runWorkflow(ctx, run.Query, run.Roles, args.Response, run.Snapshot)
		return textResult(devTeamSummary(res)), *res, nil
	})
}

// devTeamSummary is the human-readable line accompanying a workflow result.
func devTeamSummary(res *workflow.Result) string {
	if res.Status == workflow.StatusAwaitingPlanValidation {
		return fmt.Sprintf("Plan ready for %s (%d tasks). %s", res.ProjectName, len(res.TaskList), res.Instructions)
	}
	return fmt.Sprintf("Development of %s completed with %d files", res.ProjectName, len(res.FilesCreated))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
