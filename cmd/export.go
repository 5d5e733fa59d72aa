package cmd

import (
	"log"
	"os"

	"github.com/dnstapir/fla/pkg/analyzer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored daily aggregates to a parquet file",
	Run: func(_ *cobra.Command, _ []string) {
		err := analyzer.Export(flaLogger, flaLoggerLevel)
		if err != nil {
			flaLogger.Error("export failed", "error", err.Error())
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("export-dir", ".", "directory the parquet file is written to")

	err := viper.BindPFlags(exportCmd.Flags())
	if err != nil {
		log.Fatal(err)
	}
}
