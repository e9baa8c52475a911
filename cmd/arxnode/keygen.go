package main

import (
	"encoding/hex"
	"fmt"

	"github.com/arx-os/arxlink/internal/config"
	"github.com/arx-os/arxlink/internal/keys"
	"github.com/spf13/cobra"
)

type keygenOptions struct {
	WriteConfig string
	NodeID      uint16
	BuildingID  uint16
	Overwrite   bool
}

func newKeygenCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &keygenOptions{}
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a building master key",
		Long: `Generate a random building master key and print it as hex.

With --write-config a node config carrying the new key is written as well.
Every node of a building must share the same master key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			master, err := keys.GenerateMasterKey()
			if err != nil {
				return err
			}
			encoded := hex.EncodeToString(master)
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			if opts.WriteConfig == "" {
				return nil
			}
			if opts.NodeID == 0 || opts.BuildingID == 0 {
				return fmt.Errorf("--node and --building are required with --write-config")
			}
			return config.WriteTemplate(opts.WriteConfig, config.TemplateValues{
				NodeID:     opts.NodeID,
				BuildingID: opts.BuildingID,
				MasterKey:  encoded,
			}, opts.Overwrite)
		},
	}
	cmd.Flags().StringVar(&opts.WriteConfig, "write-config", "", "also write a node config to this path")
	cmd.Flags().Uint16Var(&opts.NodeID, "node", 0, "node id for the written config")
	cmd.Flags().Uint16Var(&opts.BuildingID, "building", 0, "building id for the written config")
	cmd.Flags().BoolVar(&opts.Overwrite, "force", false, "overwrite an existing config")
	return cmd
}
