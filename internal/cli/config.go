package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/digggggmori-pixel/usbsentinel/internal/config"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var system bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the user (or system) config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), opts.cfgFile)
			if err != nil {
				return err
			}
			path, err := config.WriteConfigFile(&cfg, system)
			if err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&system, "system", false, "write the system-wide config file")
	cmd.AddCommand(initCmd)

	return cmd
}
