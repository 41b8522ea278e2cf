package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var sandboxRunScript string

var sandboxCmd = &cobra.Command{
	Use:   "sandbox <archive>",
	Short: "Execute a project archive in the sandbox",
	Long:  `Sandbox unpacks a .tar.bz2 archive into a Docker container with no network access and resource limits, runs its entry script, and reports the outcome.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSandbox,
}

func init() {
	sandboxCmd.Flags().StringVar(&sandboxRunScript, "script", "", "entry script to execute (default: run.sh)")
}

func runSandbox(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	res := a.runner.Execute(cmd.Context(), args[0], sandboxRunScript)
	for _, line := range res.Log {
		fmt.Println(line)
	}
	if res.Stdout != "" {
		fmt.Println(res.Stdout)
	}
	if res.Stderr != "" {
		fmt.Fprintln(os.Stderr, res.Stderr)
	}

	if !res.Success {
		if res.TimedOut {
			return fmt.Errorf("sandbox execution timed out")
		}
		if res.Error != "" {
			return fmt.Errorf("sandbox execution failed: %s", res.Error)
		}
		return fmt.Errorf("sandbox execution failed with exit code %d", res.ExitCode)
	}
	return nil
}
