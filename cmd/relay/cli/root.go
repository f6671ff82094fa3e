// Package cli implements the relay command line.
package cli

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"roomrelay/internal/config"
	"roomrelay/internal/logging"
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	return NewRootCmd(version, commit, date).Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd(version, commit, date string) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Real-time room relay server",
		Long: `relay authenticates clients with API keys and single-use session tokens,
then relays JSON messages between WebSocket peers in short-lived rooms.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./relay.yaml)")

	load := func(logOut io.Writer, minLevel zerolog.Level) (*config.Config, zerolog.Logger, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, zerolog.Nop(), err
		}
		logger := logging.New(cfg.Log.Level, cfg.Log.Format, logOut)
		if logger.GetLevel() < minLevel {
			logger = logger.Level(minLevel)
		}
		return cfg, logger, nil
	}

	cmd.AddCommand(newServeCmd(load))
	cmd.AddCommand(newAPIKeyCmd(load))
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

// configLoader loads configuration and a logger writing to logOut at no
// lower than minLevel.
type configLoader func(logOut io.Writer, minLevel zerolog.Level) (*config.Config, zerolog.Logger, error)
