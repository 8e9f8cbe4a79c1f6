package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/rankme/internal/logger"
	"github.com/ppiankov/rankme/internal/model"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "v0.3.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rankme",
	Short: "rankme - venue rankings for DBLP bibliographies",
	Long: `rankme resolves DBLP venue references to full venue names and ranks them
against the CORE conference portal and the SCImago Journal Rank.

Upstream hosts are queried through a per-host rate limiter and every answer
is cached, so repeated lookups never reach the ranking portals twice.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rankme %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.rankme/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig seeds viper with the defaults, then merges the config file and
// RANKME_* environment variables on top.
func initConfig() {
	defaults, err := yaml.Marshal(model.DefaultConfig())
	if err == nil {
		viper.SetConfigType("yaml")
		_ = viper.ReadConfig(bytes.NewReader(defaults))
	}
	// omitempty keys are absent from the seeded defaults
	for _, key := range []string{"http.http_proxy", "http.https_proxy", "http.no_proxy"} {
		viper.SetDefault(key, "")
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".rankme"))
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("RANKME")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.MergeInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	} else if err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", cfgFile, err)
	}
}

// loadConfig returns the effective configuration.
func loadConfig() (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if viper.GetBool("verbose") {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// setup loads the config and initialises the global logger.
func setup() (*model.Config, zerolog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log, err := logger.Init(cfg.Log, Version)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}
