package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/voyager-travel/voyager/pkg/config"
	"github.com/voyager-travel/voyager/pkg/logging"
)

type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:     "voyager",
		Short:   "Voyager travel assistant",
		Long:    "Voyager is a travel planning assistant with persistent, resumable conversations.",
		Version: Version,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (text, json)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newChatCmd(opts))
	return cmd
}

// load resolves configuration and the logger from flags, file and
// environment.
func (o *rootOptions) load() (*config.Config, *logrus.Logger, error) {
	var cfg *config.Config
	if o.configFile != "" {
		loaded, err := config.LoadConfig(o.configFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	return cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format), nil
}
