package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/digggggmori-pixel/usbsentinel/internal/collector"
)

func newSnapshotCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Work with USBSTOR registry snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "export <file>",
		Short: "Export the USBSTOR subtree to a YAML snapshot that scan --snapshot can replay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			hive, err := openHive(cfg)
			if err != nil {
				return err
			}
			if err := collector.NewUSBHistoryCollector(hive, collector.WithRoot(cfg.Registry.Path)).CheckRoot(); err != nil {
				return err
			}
			if err := collector.WriteSnapshot(hive, cfg.Registry.Path, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s\n", args[0])
			return nil
		},
	})
	return cmd
}
