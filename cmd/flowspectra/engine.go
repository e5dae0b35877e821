package main

import (
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"Go2FlowSpectra/internal/model"
	"Go2FlowSpectra/internal/probe"

	"github.com/spf13/cobra"
)

func newEngineCommand(opts *options) *cobra.Command {
	var natsURL string
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Analyze raw frames published on NATS by ns-probe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if natsURL != "" {
				cfg.Probe.NATSURL = natsURL
			}

			p, err := startPipeline(cfg, log)
			if err != nil {
				return err
			}
			sub, err := probe.NewSubscriber(cfg.Probe, log)
			if err != nil {
				p.stop()
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			in := p.manager.InputChannel()
			var (
				mu     sync.Mutex
				closed bool
			)
			handler := func(info *model.PacketInfo) {
				mu.Lock()
				defer mu.Unlock()
				if !closed {
					in <- info
				}
			}
			if err := sub.Start(handler); err != nil {
				sub.Close()
				p.stop()
				return fmt.Errorf("subscriber failed to start: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			log.Info("Shutdown signal received, cleaning up...")
			sub.Close()
			// A callback may still be in flight after Close.
			mu.Lock()
			closed = true
			mu.Unlock()
			p.stop()
			log.WithField("skipped", sub.Skipped()).Info("Shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (overrides probe.nats_url)")
	return cmd
}
