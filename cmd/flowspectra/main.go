package main

import (
	"fmt"
	"os"
	"strings"

	"Go2FlowSpectra/internal/config"
	"Go2FlowSpectra/internal/logger"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// options holds the flags shared by every command.
type options struct {
	configPath  string
	logLevel    string
	collectors  string
	perIP       bool
	hideUnknown bool
}

// load reads the configuration file, if any, and applies flag overrides.
func (o *options) load(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	var cfg *config.Config
	if o.configPath == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.LoadConfig(o.configPath); err != nil {
			return nil, nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("collectors") {
		cfg.Engine.Collectors = nil
		for _, name := range strings.Split(o.collectors, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Engine.Collectors = append(cfg.Engine.Collectors, name)
			}
		}
		cfg.ApplyDefaults()
	}
	if flags.Changed("per-ip") {
		cfg.Engine.PerIPAggregation = o.perIP
	}
	if flags.Changed("hide-unknown") {
		cfg.Engine.HideUnknown = o.hideUnknown
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger.New(cfg.Logging.Level, cfg.Logging.Format), nil
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "flowspectra",
		Short:         "Per-server TCP, DNS and TLS traffic analyzer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flags.StringVar(&opts.collectors, "collectors", strings.Join(config.KnownCollectors, ","), "Comma separated collectors to enable")
	flags.BoolVar(&opts.perIP, "per-ip", false, "Aggregate per server IP as well as per name")
	flags.BoolVar(&opts.hideUnknown, "hide-unknown", false, "Ignore servers without a known name")

	root.AddCommand(
		newReplayCommand(opts),
		newLiveCommand(opts),
		newEngineCommand(opts),
		newInterfacesCommand(),
		newInspectCommand(),
		newHistoryCommand(opts),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
