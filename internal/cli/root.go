// Package cli wires the pintsurf command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"pintsurf/pkg/config"
	"pintsurf/pkg/logging"
)

// app carries the state shared by every command. It is filled in by the
// root command before any subcommand runs.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	log *slog.Logger
}

// NewRootCmd creates the root Cobra command.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "pintsurf",
		Short: "Personal Intrinsic Network Topology on cortical surfaces",
		Long: `pintsurf moves seed vertices of functional networks to the nearby
surface location whose signal best matches the rest of their network,
iterating until the largest move falls below a threshold.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (auto|text|json)")

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newToolCmd(a))

	return rootCmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	a.cfg = cfg
	a.log = logging.NewWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	return nil
}
