// Command polyroute runs the partition routing and placement service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/polyroute/polyroute/internal/config"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	envFile    string
	dataDir    string
	logLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:          "polyroute",
		Short:        "Partition routing and placement service",
		Long:         "polyroute manages table partitioning, routes rows and scans to partitions and guards placement changes.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "path to configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading POLYROUTE_* variables")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "base directory for all data files")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCommand(flags),
		newFunctionsCommand(),
		newSnapshotCommand(flags),
		newVersionCommand(),
	)
	return root
}

// loadConfig loads the dotenv file, the config file, the environment and
// finally the command line flags, which take precedence.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", flags.envFile, err)
		}
	}

	cfg := config.DefaultConfig()
	if flags.configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(flags.configFile)
		if err != nil {
			return nil, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	if flags.dataDir != "" {
		cfg.DataDir = flags.dataDir
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "polyroute version %s (commit: %s)\n", version, commit)
		},
	}
}
