package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dbillionaer/llm-council-local/internal/config"
	"github.com/Dbillionaer/llm-council-local/internal/tui"
	"github.com/Dbillionaer/llm-council-local/internal/workflow"
)

var (
	runArchitectModel string
	runEngineerModel  string
	runQAModel        string
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Run the development workflow for a request",
	Long:  `Run starts the architect on the given request, shows the proposed plan for approval, and drives the build-test loop to a packaged project.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runArchitectModel, "architect-model", "", "override the architect model")
	runCmd.Flags().StringVar(&runEngineerModel, "engineer-model", "", "override the engineer model")
	runCmd.Flags().StringVar(&runQAModel, "qa-model", "", "override the QA analyst model")
}

// engineRunner adapts the workflow engine to the TUI's Runner interface while
// letting the TUI attach its sink before the first invocation.
type engineRunner struct {
	app  *app
	sink workflow.EventSink
}

func (r *engineRunner) Run(ctx context.Context, req workflow.Request) *workflow.Result {
	engine := workflow.NewEngine(r.app.querier, r.app.store, r.app.runner,
		workflow.WithRecorder(r.app.recorder),
		workflow.WithLogger(r.app.logger),
		workflow.WithSink(r.sink))
	return engine.Run(ctx, req)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	roles, err := a.cfg.Models.Resolve(&config.Overrides{
		SoftwareArchitect: runArchitectModel,
		SoftwareEngineer:  runEngineerModel,
		QAAnalyst:         runQAModel,
	})
	if err != nil {
		return fmt.Errorf("no model configured: %w", err)
	}

	query := strings.Join(args, " ")
	runner := &engineRunner{app: a}
	model := tui.NewModel(query, roles, runner)
	runner.sink = model.Sink()

	return tui.RunModel(model)
}
