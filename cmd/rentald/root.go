package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/c0deZ3R0/go-rental-sync/config"
	"github.com/c0deZ3R0/go-rental-sync/logging"
)

// Set by -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "rentald",
		Short:         "Apartment listings with realtime change notifications",
		SilenceUsage:  true,
		SilenceErrors: true,
		// serve replaces this logger once the config file is loaded.
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.Init(logging.GetConfigFromEnv())
		},
	}
	addRootFlags(cmd.PersistentFlags(), opts)

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func addRootFlags(flags *pflag.FlagSet, opts *rootOptions) {
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML or JSON configuration file")
}

// load reads the configuration file if one was given, then applies the
// environment and validates the result.
func (o *rootOptions) load() (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(o.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rentald version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
