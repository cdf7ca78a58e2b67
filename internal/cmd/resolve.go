package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linkplane/linkplane/internal/plan"
	"github.com/linkplane/linkplane/internal/service"
)

var (
	planFile   string
	noProgress bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Integrate every configured package once and write the link plan",
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().StringVarP(&planFile, "output", "o", "linkplan.yaml", "link plan output file")
	resolveCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	s := newService().WithSingleShot(true).WithNoProgress(noProgress)

	if err := s.Run(cmd.Context()); err != nil {
		return err
	}

	p := plan.Build(s.Config(), s.Registry(), s.Results())
	diff, err := p.Write(planFile)
	if err != nil {
		return err
	}

	if diff == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is up to date\n", planFile)
	} else {
		fmt.Fprint(cmd.OutOrStdout(), diff)
	}
	return nil
}

func newService() *service.Service {
	s := service.New().
		WithConfigFiles(configFiles).
		WithPersistenceDir(dataDir).
		WithLogger(newLogger())
	if sanitizerSet {
		s = s.WithSanitizer(sanitizer)
	}
	if linkageSet {
		s = s.WithLinkage(linkage)
	}
	return s
}
