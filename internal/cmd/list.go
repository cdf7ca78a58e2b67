package cmd

import (
	"slices"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/linkplane/linkplane/internal/config"
	"github.com/linkplane/linkplane/internal/vendored"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured packages, their dependency slots and overrides",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	bs, err := config.Merge(configFiles, false)
	if err != nil {
		return err
	}
	root, err := config.Parse(bs)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header([]string{"PACKAGE", "ALIAS", "SLOTS", "OVERRIDES", "NOTES"})

	for _, pkg := range root.SortedPackages() {
		var slots []string
		notes := ""

		desc, err := vendored.Load(pkg.ManifestPath())
		if err != nil {
			notes = "manifest unreadable"
		} else {
			for _, slot := range desc.SortedSlots() {
				name := slot.Name
				if slot.Optional {
					name += "?"
				}
				slots = append(slots, name)
			}
		}

		var overrides []string
		for _, slot := range sortedKeys(pkg.Overrides) {
			overrides = append(overrides, slot+"="+pkg.Overrides[slot])
		}

		if disabled, reason := pkg.DisableWhen.Disabled(root.Toolchain); disabled {
			notes = "disabled: " + reason
		}

		if err := table.Append([]string{
			pkg.Name,
			pkg.AliasName(),
			strings.Join(slots, ", "),
			strings.Join(overrides, ", "),
			notes,
		}); err != nil {
			return err
		}
	}

	return table.Render()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
