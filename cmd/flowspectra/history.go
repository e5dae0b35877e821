package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/query"

	"github.com/spf13/cobra"
)

// clickhouseConfig returns the settings of the first enabled clickhouse writer.
func clickhouseConfig(cfg *config.Config) (config.ClickHouseConfig, error) {
	for _, w := range cfg.Writers {
		if w.Enabled && w.Type == "clickhouse" {
			return w.ClickHouse, nil
		}
	}
	return config.ClickHouseConfig{}, errors.New("no enabled clickhouse writer in config")
}

// parseTags turns key=value pairs into a tag filter.
func parseTags(pairs []string) (map[string]string, error) {
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag filter %q, expected key=value", p)
		}
		tags[k] = v
	}
	return tags, nil
}

func newHistoryCommand(opts *options) *cobra.Command {
	var (
		collector string
		tags      []string
		since     time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history [metric]",
		Short: "Query stored statistics from ClickHouse",
		Long: "Without a metric, prints every counter summed per server name.\n" +
			"With a metric, prints its samples over time.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load(cmd)
			if err != nil {
				return err
			}
			chCfg, err := clickhouseConfig(cfg)
			if err != nil {
				return err
			}
			filter, err := parseTags(tags)
			if err != nil {
				return err
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}

			q, err := query.NewClickHouseQuerier(chCfg)
			if err != nil {
				return err
			}
			defer q.Close()

			if len(args) == 0 {
				totals, err := q.Totals(cmd.Context(), query.TotalsRequest{Collector: collector, Since: from})
				if err != nil {
					return err
				}
				return printTotals(cmd.OutOrStdout(), totals)
			}
			points, err := q.History(cmd.Context(), query.HistoryRequest{
				Metric: args[0], Tags: filter, Since: from, Limit: limit,
			})
			if err != nil {
				return err
			}
			return printPoints(cmd.OutOrStdout(), points)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&collector, "collector", "", "Restrict totals to one collector")
	flags.StringSliceVarP(&tags, "tag", "t", nil, "Tag filter as key=value (repeatable)")
	flags.DurationVar(&since, "since", time.Hour, "How far back to look (0 for everything)")
	flags.IntVar(&limit, "limit", 0, "Maximum number of samples")
	return cmd
}

func printTotals(out io.Writer, totals []query.Total) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tNAME\tVALUE")
	for _, t := range totals {
		fmt.Fprintf(tw, "%s\t%s\t%.0f\n", t.Metric, t.Name, t.Value)
	}
	return tw.Flush()
}

func printPoints(out io.Writer, points []query.Point) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tVALUE")
	for _, p := range points {
		fmt.Fprintf(tw, "%s\t%g\n", p.Time.UTC().Format(time.RFC3339), p.Value)
	}
	return tw.Flush()
}
