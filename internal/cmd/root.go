// Package cmd implements the linkplane command line interface.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/linkplane/linkplane/internal/config"
	"github.com/linkplane/linkplane/internal/logging"
)

var (
	configFiles []string
	dataDir     string
	logLevel    string
	logFormat   string
	sanitizer   config.Sanitizer
	linkage     config.Linkage

	sanitizerSet bool
	linkageSet   bool
)

var rootCmd = &cobra.Command{
	Use:   "linkplane",
	Short: "Dependency-override resolution for vendored packages",
	Long: `linkplane integrates vendored third-party packages into a host build,
substituting the host project's own libraries for the copies the packages
bundle and re-exporting each integration under a stable alias target.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		sanitizerSet = cmd.Flags().Changed("sanitizer")
		linkageSet = cmd.Flags().Changed("linkage")
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", []string{"linkplane.yaml"}, "configuration file(s); later files override earlier ones")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", ".linkplane", "directory for the variable cache and other persistent state")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().Var(
		enumflag.New(&sanitizer, "sanitizer", config.SanitizerIDs, enumflag.EnumCaseInsensitive),
		"sanitizer", "toolchain sanitizer override (none, address, memory, thread, undefined)")
	rootCmd.PersistentFlags().Var(
		enumflag.New(&linkage, "linkage", config.LinkageIDs, enumflag.EnumCaseInsensitive),
		"linkage", "toolchain linkage override (static, shared)")
}

func newLogger() *logging.Logger {
	level := logging.LevelInfo
	switch logLevel {
	case "debug":
		level = logging.LevelDebug
	case "error":
		level = logging.LevelError
	}
	return logging.NewLogger(logging.Config{Level: level, Format: logFormat})
}
