// Command status reports how far the project setup has progressed.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/telcovision/churn/pkg/cli"
	"github.com/telcovision/churn/pkg/project"
	"github.com/telcovision/churn/pkg/status"
)

func main() {
	var root string

	cmd := cli.NewRoot("status", "Show the state of git, dvc, tracking and project files", func(cmd *cobra.Command, common *cli.Common) error {
		p, err := project.Open(root)
		if err != nil {
			return err
		}
		status.NewChecker(p, common.Tracking()).Run(cmd.Context()).Render(os.Stdout)
		return nil
	})
	cmd.Flags().StringVar(&root, "root", ".", "Project directory")

	cli.Execute(cmd)
}
