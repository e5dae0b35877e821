package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"Go2FlowSpectra/internal/api"
	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/engine/manager"
	"Go2FlowSpectra/internal/exporter"
	"Go2FlowSpectra/internal/probe"
	"Go2FlowSpectra/internal/writer"
	"Go2FlowSpectra/pkg/pcap"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// pipeline is a live manager with its writers and API server.
type pipeline struct {
	manager *manager.Manager
	server  *api.Server
	log     logrus.FieldLogger
}

func startPipeline(cfg *config.Config, log logrus.FieldLogger) (*pipeline, error) {
	writers, err := writer.CreateAll(cfg.Writers, log)
	if err != nil {
		return nil, err
	}
	m, err := manager.NewManager(cfg, writers, true, log)
	if err != nil {
		closeAll(writers)
		return nil, err
	}

	p := &pipeline{manager: m, log: log}
	if cfg.API.Enabled {
		registry, err := exporter.NewRegistry(m, log)
		if err != nil {
			closeAll(writers)
			return nil, err
		}
		p.server = api.NewServer(cfg.API, m, registry, log)
		if err := p.server.Start(); err != nil {
			closeAll(writers)
			return nil, err
		}
	}
	m.Start()
	return p, nil
}

// stop shuts the API down first so no request races the final flush.
func (p *pipeline) stop() {
	if p.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.server.Shutdown(ctx); err != nil {
			p.log.WithError(err).Warn("Error shutting down API server")
		}
	}
	p.manager.Stop()
}

func newLiveCommand(opts *options) *cobra.Command {
	var (
		iface  string
		filter string
		record string
		listen string
	)
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Capture from an interface and serve live statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if iface == "" {
				iface = cfg.Probe.Iface
			}
			if iface == "" {
				return fmt.Errorf("an interface is required (--iface or probe.iface)")
			}
			if record == "" {
				record = cfg.Probe.RecordPath
			}
			if listen != "" {
				cfg.API.Enabled = true
				cfg.API.ListenAddr = listen
			}

			src, err := pcap.OpenLive(iface, cfg.Probe.SnapshotLen, cfg.Probe.Promiscuous)
			if err != nil {
				return fmt.Errorf("error opening device %s: %w", iface, err)
			}
			defer src.Close()
			if filter != "" {
				if err := src.SetBPFFilter(filter); err != nil {
					return fmt.Errorf("invalid filter %q: %w", filter, err)
				}
			}

			var taps []pcap.FrameHandler
			if record != "" {
				rec, err := probe.NewRecorder(record, uint32(cfg.Probe.SnapshotLen), src.LinkType(), log)
				if err != nil {
					return err
				}
				defer rec.Stop()
				taps = append(taps, rec.Enqueue)
			}

			p, err := startPipeline(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log.WithField("iface", iface).Info("Capture started")
			src.ReadPackets(ctx, p.manager.InputChannel(), taps...)

			log.Info("Shutdown signal received, cleaning up...")
			p.stop()
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&iface, "iface", "i", "", "Interface to capture from")
	flags.StringVarP(&filter, "filter", "f", "", "BPF filter expression")
	flags.StringVar(&record, "record", "", "Directory to record raw frames to as pcap")
	flags.StringVar(&listen, "listen", "", "Serve the HTTP API on this address")
	return cmd
}
