package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Inspect and package generated projects",
}

var projectListCmd = &cobra.Command{
	Use:   "list <name>",
	Short: "List the files of a generated project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectList,
}

var projectReadCmd = &cobra.Command{
	Use:   "read <name> <file>",
	Short: "Print a file from a generated project",
	Args:  cobra.ExactArgs(2),
	RunE:  runProjectRead,
}

var projectArchiveCmd = &cobra.Command{
	Use:   "archive <name>",
	Short: "Create a tar.bz2 archive of a generated project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectArchive,
}

func init() {
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectReadCmd)
	projectCmd.AddCommand(projectArchiveCmd)
}

func runProjectList(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	files, err := a.store.List(args[0])
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No files.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tSIZE")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%d\n", f.Name, f.Size)
	}
	return w.Flush()
}

func runProjectRead(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	content, err := a.store.Read(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Print(content)
	return nil
}

func runProjectArchive(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	path, err := a.store.Archive(args[0])
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
