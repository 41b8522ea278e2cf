package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dbillionaer/llm-council-local/internal/mcp"
	"github.com/Dbillionaer/llm-council-local/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dev team tools over MCP on stdio",
	Long:  `Serve exposes project file tools, sandboxed execution, and the mcp-dev-team workflow as MCP tools on the stdio transport.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	server, err := mcp.NewServer(a.cfg, a.querier, a.store, a.runner, &mcp.Options{
		Version:  version.Version,
		Logger:   a.logger,
		Recorder: a.recorder,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx)
}
