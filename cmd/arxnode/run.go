package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arx-os/arxlink/internal/config"
	"github.com/arx-os/arxlink/internal/logging"
	"github.com/arx-os/arxlink/internal/node"
	"github.com/arx-os/arxlink/internal/observability"
	"github.com/arx-os/arxlink/internal/radio"
	"github.com/arx-os/arxlink/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, rootOpts)
		},
	}
}

func runNode(ctx context.Context, opts *rootOptions) error {
	cfg, ring, err := loadRing(opts)
	if err != nil {
		return err
	}
	logger := observability.InitLogger("arxnode", cfg.NodeID)
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok && !opts.Verbose {
		zerolog.SetGlobalLevel(lvl)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer st.Close()
	boot, err := st.RecordBoot(cfg.NodeID)
	if err != nil {
		return err
	}

	tr, err := openRadio(cfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	n, err := node.New(node.Config{
		ID:                 cfg.NodeID,
		Building:           cfg.BuildingID,
		Role:               cfg.Role,
		MaxDetail:          cfg.MaxDetail,
		Hops:               cfg.Mesh.DefaultHops,
		MaxHops:            cfg.Mesh.MaxHops,
		ReserveBlock:       cfg.Mesh.ReserveBlock,
		ReplayCapacity:     cfg.Mesh.ReplayCapacity,
		NeighborCapacity:   cfg.Mesh.NeighborCapacity,
		NeighborTimeout:    cfg.Mesh.NeighborTimeout,
		Registry:           cfg.Registry,
		RXQueue:            cfg.RXQueue,
		CheckpointInterval: cfg.CheckpointInterval,
		AnnounceInterval:   cfg.AnnounceInterval,
		StalledInterval:    cfg.StalledInterval,
		BootID:             boot.ID[:8],
	}, node.Deps{
		Keys:        ring,
		Radio:       tr,
		Sequences:   st,
		Sink:        st,
		Checkpoints: st,
		Marks:       st,
		Redemptions: st,
	})
	if err != nil {
		return err
	}

	objs, err := st.Objects(ctx, cfg.BuildingID)
	if err != nil {
		return err
	}
	logger.Info().Str("boot", boot.ID.String()).Int("objects", n.Restore(objs)).Msg("arxnode starting")

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := n.RegisterMetrics(reg); err != nil {
			return err
		}
		observability.RegisterMetrics()
		gather := prometheus.Gatherers{reg, prometheus.DefaultGatherer}
		go func() {
			if err := observability.ServeMetrics(ctx, cfg.MetricsAddr, gather); err != nil {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics listener")
			}
		}()
	}
	return n.Run(ctx)
}

func openRadio(cfg config.NodeConfig) (radio.Transport, error) {
	switch cfg.RadioKind {
	case config.RadioUDP:
		return radio.ListenUDP(cfg.Radio)
	default:
		return nil, fmt.Errorf("unsupported radio kind %q", cfg.RadioKind)
	}
}
