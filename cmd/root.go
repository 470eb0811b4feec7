// Package cmd defines and implements the CLI commands for the
// listingcrawler executable.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/kmilewski/listing-crawler/internal/config"
	"github.com/kmilewski/listing-crawler/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listingcrawler",
		Short: "A resumable crawler for paginated listing sites.",
		Long: `listingcrawler walks paginated listing pages per crawl unit, writes
discovered item URLs to a durable CSV and checkpoints progress after every
page, so an interrupted run resumes at the first unfetched page.`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./listingcrawler.yaml)")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newRebuildStateCmd())

	return cmd
}

// initConfig wires viper: defaults first, then the config file, then
// LISTINGCRAWLER_* environment variables.
func initConfig() {
	v := viper.GetViper()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("listingcrawler")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/listingcrawler")
	}

	v.SetEnvPrefix("LISTINGCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; flags and env still apply.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
			os.Exit(1)
		}
	}
}

// buildLogger constructs the process logger from the loaded config.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
