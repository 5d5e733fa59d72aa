package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Handed to us by main() so subcommands can log and adjust verbosity once
// flags have been parsed.
var flaLogger *slog.Logger
var flaLoggerLevel *slog.LevelVar

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fla",
	Short: "Forwarder log analyser for dnsmasq",
	Long: `fla reads a dnsmasq log file and maintains rolling per-day DNS
statistics: query/cache/forward counters, top domains and clients, hourly
distributions and cache hit rates. Repeated runs over the same (growing)
log file are safe, already seen lines are skipped.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(logger *slog.Logger, loggerLevel *slog.LevelVar) {
	flaLogger = logger
	flaLoggerLevel = loggerLevel
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config-file", "", "config file (default is ./fla.toml, then /etc/fla/fla.toml)")
	rootCmd.PersistentFlags().String("data-dir", "/var/lib/fla", "directory where aggregate state and metrics are kept")
	rootCmd.PersistentFlags().Int("retention-days", 30, "number of days of aggregate data kept in the state store")
	rootCmd.PersistentFlags().Bool("debug", false, "print debug logging during operation")

	err := viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		log.Fatal(err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if viper.GetString("config-file") != "" {
		viper.SetConfigFile(viper.GetString("config-file"))
	} else {
		viper.SetConfigName("fla")
		viper.SetConfigType("toml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/fla")
	}

	viper.SetEnvPrefix("FLA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "unable to read config file: %s\n", err)
			os.Exit(1)
		}
	}
}
