package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/pkgpulse/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config <config-file>",
		Short: "Validate a configuration file",
		Long: `Load a YAML configuration file on top of the defaults and report whether it
is valid. Environment overrides are not applied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(config.WithConfigPath(args[0]), config.WithViper(viper.New()))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, "✓ Valid configuration")
			_, _ = fmt.Fprintf(out, "  Listen address: %s\n", cfg.Address())
			_, _ = fmt.Fprintf(out, "  Allowed origin: %s\n", cfg.AllowedOrigin)
			_, _ = fmt.Fprintf(out, "  Tick interval: %s\n", cfg.GetTickInterval())
			if len(cfg.Tracking.Include) > 0 || len(cfg.Tracking.Exclude) > 0 {
				_, _ = fmt.Fprintf(out, "  Name filter: include %v, exclude %v\n",
					cfg.Tracking.Include, cfg.Tracking.Exclude)
			}
			return nil
		},
	}
}
