package main

import (
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultLogLevel  = "info"
	defaultLogOutput = "stdout"
	defaultOutDir    = "circuit-inputs"
)

// Config holds the coordinator pipeline configuration.
type Config struct {
	State       string `mapstructure:"state"`
	Poll        int    `mapstructure:"poll"`
	OutDir      string `mapstructure:"outdir"`
	KeySeed     string `mapstructure:"keyseed"`
	Subsidy     bool   `mapstructure:"subsidy"`
	SaltSeed    int64  `mapstructure:"saltseed"`
	Log         LogConfig
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// loadConfig loads configuration from flags, environment variables and
// defaults.
func loadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("poll", 0)
	v.SetDefault("outdir", defaultOutDir)
	v.SetDefault("subsidy", false)
	v.SetDefault("saltseed", int64(-1))
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)

	flag.StringP("state", "s", "", "serialized registry JSON file (required)")
	flag.IntP("poll", "p", 0, "poll id to process")
	flag.StringP("outdir", "o", defaultOutDir, "directory for the circuit input files")
	flag.StringP("keyseed", "k", "", "coordinator key seed, 32 bytes hex (required)")
	flag.Bool("subsidy", false, "also compute the subsidy circuit inputs")
	flag.Int64("saltseed", -1, "deterministic salt counter start; -1 uses random salts")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error)")
	flag.String("log.output", defaultLogOutput, "log output (stdout, stderr or filepath)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "maci-coordinator v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: maci-coordinator [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, MACI_STATE or MACI_LOG_LEVEL\n")
	}
	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("MACI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig checks the required options.
func validateConfig(cfg *Config) error {
	if cfg.State == "" {
		return fmt.Errorf("--state is required")
	}
	if cfg.KeySeed == "" {
		return fmt.Errorf("--keyseed is required")
	}
	return nil
}
