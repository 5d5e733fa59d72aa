package cmd

import (
	"os"

	"github.com/dnstapir/fla/pkg/analyzer"
	"github.com/spf13/cobra"
)

// cleanCmd represents the clean command
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove aggregate data older than the retention period",
	Long: `clean runs the retention sweep without ingesting anything: every
stored day older than retention-days (counted back from today) is deleted
from the state store. Running it repeatedly is harmless.`,
	Run: func(_ *cobra.Command, _ []string) {
		err := analyzer.Clean(flaLogger, flaLoggerLevel)
		if err != nil {
			flaLogger.Error("clean failed", "error", err.Error())
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
