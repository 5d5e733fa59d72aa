package analyzer

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config collects every knob for a run. Values arrive via viper (flags,
// fla.toml or FLA_* environment variables) and are checked before
// anything touches the filesystem.
type Config struct {
	LogFile       string `validate:"required"`
	OutputFile    string `validate:"required"`
	DataDir       string `validate:"required"`
	RetentionDays int    `validate:"min=1"`
	HistoryDays   int    `validate:"min=1"`
	TopDomains    int    `validate:"min=1"`

	IncludeReverseLookups bool

	IgnoredClientIPsFile string
	IgnoredDomainsFile   string

	PseudonymiseClientIPs bool
	CryptopanKey          string `validate:"required_if=PseudonymiseClientIPs true"`
	CryptopanKeySalt      string `validate:"required_if=PseudonymiseClientIPs true"`

	AnnotatorURL       string `validate:"omitempty,url"`
	AnnotatorModel     string
	AnnotatorTokenFile string
	AnnotatorTimeout   time.Duration

	MetricsFile string
}

func configFromViper() Config {
	cfg := Config{
		LogFile:               viper.GetString("log-file"),
		OutputFile:            viper.GetString("output-file"),
		DataDir:               viper.GetString("data-dir"),
		RetentionDays:         viper.GetInt("retention-days"),
		HistoryDays:           viper.GetInt("history-days"),
		TopDomains:            viper.GetInt("top-domains"),
		IncludeReverseLookups: viper.GetBool("include-reverse-lookups"),
		IgnoredClientIPsFile:  viper.GetString("ignored-client-ips-file"),
		IgnoredDomainsFile:    viper.GetString("ignored-domains-file"),
		PseudonymiseClientIPs: viper.GetBool("pseudonymise-client-ips"),
		CryptopanKey:          viper.GetString("cryptopan-key"),
		CryptopanKeySalt:      viper.GetString("cryptopan-key-salt"),
		AnnotatorURL:          viper.GetString("annotator-url"),
		AnnotatorModel:        viper.GetString("annotator-model"),
		AnnotatorTokenFile:    viper.GetString("annotator-token-file"),
		AnnotatorTimeout:      viper.GetDuration("annotator-timeout"),
		MetricsFile:           viper.GetString("metrics-file"),
	}

	if cfg.MetricsFile == "" {
		cfg.MetricsFile = filepath.Join(cfg.DataDir, "fla-metrics.prom")
	}

	return cfg
}

func (cfg Config) validate() error {
	err := validator.New().Struct(cfg)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}
