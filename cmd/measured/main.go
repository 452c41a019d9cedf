// Command measured runs the measurement fusion engine: a diagnostics daemon
// over live trackers, an offline replay of recorded sessions and accuracy
// plots of stored calibration feedback.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/config"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/monitoring"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/version"
)

var log = monitoring.Component("measured")

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	logLevel   string
	configPath string
}

// NewCommand builds the command tree.
func NewCommand() *cobra.Command {
	o := &rootOptions{logLevel: "info"}
	cmd := &cobra.Command{
		Use:          "measured",
		Short:        "measured fuses body measurements from independent trackers",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := monitoring.SetLevel(o.logLevel); err != nil {
				return fmt.Errorf("failed to parse log level: %w", err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&o.logLevel, "log-level", "l", o.logLevel, "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "engine tuning file (.json); built-in defaults when empty")

	cmd.AddCommand(
		newServeCommand(o),
		newReplayCommand(o),
		newPlotAccuracyCommand(o),
		newVersionCommand(),
	)
	return cmd
}

// loadConfig reads the tuning file, or returns defaults when none is given.
func (o *rootOptions) loadConfig() (*config.EngineConfig, error) {
	if o.configPath == "" {
		return config.EmptyEngineConfig(), nil
	}
	cfg, err := config.LoadEngineConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"path":     o.configPath,
		"strategy": cfg.GetFusionStrategy(),
	}).Info("loaded engine config")
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "measured", version.String())
		},
	}
}
