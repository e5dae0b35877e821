package main

import (
	"fmt"
	"time"

	"Go2FlowSpectra/internal/engine/manager"
	"Go2FlowSpectra/internal/model"
	"Go2FlowSpectra/internal/writer"
	"Go2FlowSpectra/pkg/pcap"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newReplayCommand(opts *options) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "replay <file.pcap>",
		Short: "Analyze a pcap or pcapng file and print the final tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}

			writers, err := writer.CreateAll(cfg.Writers, log)
			if err != nil {
				return err
			}
			if !quiet {
				writers = append(writers, writer.NewTextWriter(cmd.OutOrStdout(), 0))
			}

			reader, err := pcap.NewReader(args[0])
			if err != nil {
				closeAll(writers)
				return fmt.Errorf("failed to open capture: %w", err)
			}
			defer reader.Close()

			m, err := manager.NewManager(cfg, writers, false, log)
			if err != nil {
				closeAll(writers)
				return err
			}
			m.Start()

			start := time.Now()
			n, readErr := reader.ReadPackets(m.InputChannel())
			m.Stop()
			log.WithFields(logrus.Fields{
				"packets":  n,
				"skipped":  reader.Skipped(),
				"duration": time.Since(start),
				"covered":  m.Elapsed(),
			}).Info("Replay finished")
			return readErr
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the final tables")
	return cmd
}

func closeAll(writers []model.Writer) {
	for _, w := range writers {
		w.Close()
	}
}
