package main

import (
	"github.com/arx-os/arxlink/internal/config"
	"github.com/arx-os/arxlink/internal/keys"
	"github.com/arx-os/arxlink/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Config  string
	Verbose bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "arxnode",
		Short: "Building mesh node",
		Long: `arxnode runs a building-infrastructure mesh node and the tooling around it:
key generation, invite tokens and wire inspection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
			if opts.Verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "arxnode.toml", "node config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newKeygenCommand(opts))
	cmd.AddCommand(newInviteCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	return cmd
}

// loadRing reads the config and builds its key ring.
func loadRing(opts *rootOptions) (config.NodeConfig, *keys.Ring, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.NodeConfig{}, nil, err
	}
	kc, err := cfg.KeyConfig()
	if err != nil {
		return config.NodeConfig{}, nil, err
	}
	ring, err := keys.NewRing(kc)
	if err != nil {
		return config.NodeConfig{}, nil, err
	}
	return cfg, ring, nil
}
