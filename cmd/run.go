package cmd

import (
	"log"
	"os"
	"time"

	"github.com/dnstapir/fla/pkg/analyzer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest the dnsmasq log and write an updated report",
	Run: func(_ *cobra.Command, _ []string) {
		err := analyzer.Run(flaLogger, flaLoggerLevel)
		if err != nil {
			flaLogger.Error("run failed", "error", err.Error())
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Here you will define your flags and configuration settings.

	// Cobra supports Persistent Flags which will work for this command
	// and all subcommands, e.g.:
	// runCmd.PersistentFlags().String("foo", "", "A help for foo")

	// Cobra supports local flags which will only run when this command
	// is called directly, e.g.:
	// runCmd.Flags().BoolP("toggle", "t", false, "Help message for toggle")

	runCmd.Flags().String("log-file", "/var/log/dnsmasq.log", "dnsmasq log file to ingest")
	runCmd.Flags().String("output-file", "fla-report.html", "HTML report written after ingest")
	runCmd.Flags().Int("history-days", 7, "number of trailing days summarised in the report")
	runCmd.Flags().Int("top-domains", 50, "number of ranked domains shown in the report")
	runCmd.Flags().Bool("include-reverse-lookups", false, "also count PTR zones (in-addr.arpa/ip6.arpa) in domain rankings")

	runCmd.Flags().String("ignored-client-ips-file", "", "file containing a newline separated list of IPv4/IPv6 CIDRs of DNS clients that will be ignored")
	runCmd.Flags().String("ignored-domains-file", "", "a DAWG file containing domain names (and their subdomains) that will be ignored")

	runCmd.Flags().Bool("pseudonymise-client-ips", false, "store Crypto-PAn pseudonymised client addresses instead of real ones")
	runCmd.Flags().String("cryptopan-key", "", "the secret used for Crypto-PAn pseudonymisation")
	runCmd.Flags().String("cryptopan-key-salt", "fla-kdf-salt-val", "the salt used for key derivation")
	runCmd.MarkFlagsRequiredTogether("pseudonymise-client-ips", "cryptopan-key")

	runCmd.Flags().String("annotator-url", "", "OpenAI-compatible chat completions URL used to annotate the report, empty disables annotation")
	runCmd.Flags().String("annotator-model", "gpt-4o-mini", "model requested from the annotator service")
	runCmd.Flags().String("annotator-token-file", "", "file containing the bearer token for the annotator service")
	runCmd.Flags().Duration("annotator-timeout", 30*time.Second, "overall timeout for the annotator request")

	runCmd.Flags().String("metrics-file", "", "textfile-collector file for run metrics (default <data-dir>/fla-metrics.prom)")

	err := viper.BindPFlags(runCmd.Flags())
	if err != nil {
		log.Fatal(err)
	}
}
