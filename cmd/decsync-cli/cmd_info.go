package main

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print static info entries and the merged cell count",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDecsync()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := cmd.Context()
		info, err := d.StaticInfo(ctx)
		if err != nil {
			return err
		}
		for key, entry := range info {
			cmd.Printf("%s = %s (%s)\n", key, entry.Value, entry.Datetime)
		}

		count, err := d.EntriesCount(ctx, nil)
		if err != nil {
			return err
		}
		cmd.Printf("%s stored cells\n", humanize.Comma(int64(count)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
