package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/decsync-go/decsync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Scan for new entries from every peer and print what arrived",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDecsync()
		if err != nil {
			return err
		}
		defer d.Close()

		count := 0
		d.AddListener(nil, func(_ decsync.Extra, path []string, entry decsync.Entry) {
			count++
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", entry.Datetime, joinPath(path), entry.Key, entry.Value)
		})

		if err := d.ExecuteAllNewEntries(cmd.Context(), nil, false); err != nil {
			return err
		}
		cmd.Printf("%s new entries\n", humanize.Comma(int64(count)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
