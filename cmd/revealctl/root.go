package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/revealparty/internal/clientconfig"
	"github.com/dukerupert/revealparty/internal/logging"
	"github.com/dukerupert/revealparty/internal/revealapi"
)

type rootOptions struct {
	configPath string
	logLevel   string

	cfg    *clientconfig.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "revealctl",
		Short:         "Watch and host gender reveals from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.logger = logging.New(os.Stderr, opts.logLevel, "text")
			if opts.configPath == "" {
				path, err := clientconfig.DefaultPath()
				if err != nil {
					return err
				}
				opts.configPath = path
			}
			cfg, err := clientconfig.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/revealctl/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	cmd.AddCommand(newLoginCommand(opts))
	cmd.AddCommand(newRegisterCommand(opts))
	cmd.AddCommand(newLogoutCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newSetGenderCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

// client returns an API client carrying the stored session, if any.
func (o *rootOptions) client() *revealapi.Client {
	c := revealapi.NewClient(o.cfg.BaseURL)
	c.SetToken(o.cfg.Token)
	return c
}
