package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and every package manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newService().Validate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
