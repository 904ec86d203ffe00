package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Satyacharanv/CodeConversionAI/internal/tools"
)

var treeFlat bool

var treeCmd = &cobra.Command{
	Use:   "tree [path]",
	Short: "Describe a local directory the way the migration agent sees it",
	Long: `Print the JSON directory tree the migration agent receives from its
describe_tree tool. Useful to check what a project looks like before upload.

Examples:
  codeconvert tree ./legacy-service
  codeconvert tree ./legacy-service --flat`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTree,
}

func init() {
	treeCmd.Flags().BoolVar(&treeFlat, "flat", false, "list only the top level, like the list_directory tool")
}

func runTree(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}

	if treeFlat {
		lines, err := tools.ListDirectory(path)
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Println(l)
		}
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(tools.DescribeTree(path))
}
