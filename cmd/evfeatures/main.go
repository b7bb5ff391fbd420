// Package main provides the entry point for the evfeatures CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/evfeatures/config"
	"github.com/TFMV/evfeatures/logger"
	"github.com/TFMV/evfeatures/version"
)

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	v          *viper.Viper
	cfg        *config.Config

	// bindings maps flags to config keys per command. Only the running
	// command's flags are bound, since commands share keys.
	bindings map[*cobra.Command]map[string]string
}

// bind ties a flag of cmd to a config key.
func (c *cli) bind(cmd *cobra.Command, flag, key string) {
	if c.bindings[cmd] == nil {
		c.bindings[cmd] = make(map[string]string)
	}
	c.bindings[cmd][flag] = key
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func newRootCommand() *cobra.Command {
	c := &cli{v: config.NewViper(), bindings: make(map[*cobra.Command]map[string]string)}

	rootCmd := &cobra.Command{
		Use:   "evfeatures",
		Short: "evfeatures derives analytical features from EV registration tables",
		Long: `evfeatures reads an electric-vehicle registration table (CSV, Parquet,
Arrow IPC, DuckDB or any ADBC source), derives per-county market-share,
urban-classification, age and growth features, checks the result and
writes the enriched table.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for flag, key := range c.bindings[cmd] {
				if err := c.v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			return c.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "Path to a YAML config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-file", "evfeatures.log", "JSON log file; empty disables file logging")
	_ = c.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("log.path", flags.Lookup("log-file"))

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of evfeatures",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	})
	rootCmd.AddCommand(newDeriveCommand(c))
	rootCmd.AddCommand(newSchemaCommand(c))
	rootCmd.AddCommand(newServeCommand(c))

	return rootCmd
}

// load reads the config file, applies flags and environment, and sets up
// logging.
func (c *cli) load() error {
	if c.configPath != "" {
		c.v.SetConfigFile(c.configPath)
		if err := c.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", c.configPath, err)
		}
	}
	cfg, err := config.Load(c.v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	c.cfg = cfg

	logger.ResetLogger()
	logger.SetLogPath(cfg.Log.Path)
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	logger.InitLogger()
	return nil
}
