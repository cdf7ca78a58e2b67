package cmd

import (
	"github.com/spf13/cobra"

	"github.com/linkplane/linkplane/internal/plan"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Integrate every configured package once and print the link plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := newService().WithSingleShot(true).WithNoProgress(true)

		if err := s.Run(cmd.Context()); err != nil {
			return err
		}

		bs, err := plan.Build(s.Config(), s.Registry(), s.Results()).Render()
		if err != nil {
			return err
		}

		_, err = cmd.OutOrStdout().Write(bs)
		return err
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
