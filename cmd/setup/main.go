// Command setup creates the project layout and initialises dvc.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/telcovision/churn/pkg/cli"
	"github.com/telcovision/churn/pkg/project"
	"github.com/telcovision/churn/pkg/setup"
)

func main() {
	var root string

	cmd := cli.NewRoot("setup", "Create the project directories, gitignores and dvc repository", func(cmd *cobra.Command, common *cli.Common) error {
		p, err := project.Open(root)
		if err != nil {
			return err
		}
		res, err := setup.Run(cmd.Context(), p)
		if err != nil {
			return err
		}
		res.Render(os.Stdout)
		return nil
	})
	cmd.Flags().StringVar(&root, "root", ".", "Project directory")

	cli.Execute(cmd)
}
