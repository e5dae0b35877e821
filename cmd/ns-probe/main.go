package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/logger"
	"Go2FlowSpectra/internal/probe"
	"Go2FlowSpectra/pkg/pcap"

	gopcap "github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file.")
	iface := flag.String("iface", "", "Interface to capture packets from (overrides probe.iface).")
	filter := flag.String("filter", "", "BPF filter expression.")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			logrus.Fatalf("Failed to load config: %v", err)
		}
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if *iface != "" {
		cfg.Probe.Iface = *iface
	}
	if cfg.Probe.Iface == "" {
		log.Error("An interface is required (-iface or probe.iface)")
		flag.Usage()
		os.Exit(1)
	}

	if err := runProbe(cfg.Probe, *filter, log); err != nil {
		log.WithError(err).Fatal("Probe failed")
	}
}

// runProbe captures frames and publishes them to NATS until interrupted.
func runProbe(cfg config.ProbeConfig, filter string, log logrus.FieldLogger) error {
	pub, err := probe.NewPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer pub.Close()

	src, err := pcap.OpenLive(cfg.Iface, cfg.SnapshotLen, cfg.Promiscuous)
	if err != nil {
		return err
	}
	defer src.Close()
	if filter != "" {
		if err := src.SetBPFFilter(filter); err != nil {
			return err
		}
	}
	linkType := src.LinkType()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("iface", cfg.Iface).Info("Capture started, publishing frames to NATS")
	var published uint64
	for ctx.Err() == nil {
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, gopcap.NextErrorTimeoutExpired) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		if err := pub.Publish(data, ci, linkType); err != nil {
			log.WithError(err).Warn("Failed to publish frame")
			continue
		}
		published++
		if published%10000 == 0 {
			log.WithField("published", published).Debug("Frames published")
		}
	}
	log.WithField("published", published).Info("Shutdown signal received, cleaning up...")
	return nil
}
