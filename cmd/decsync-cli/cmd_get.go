package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/decsync-go/decsync"
)

var getCmd = &cobra.Command{
	Use:   "get <path> [key-json]",
	Short: "Print the current merged value(s) under a path",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDecsync()
		if err != nil {
			return err
		}
		defer d.Close()

		printed := 0
		d.AddListener(nil, func(_ decsync.Extra, path []string, entry decsync.Entry) {
			printed++
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", entry.Datetime, joinPath(path), entry.Key, entry.Value)
		})

		ctx := cmd.Context()
		path := parsePath(args[0])
		if len(args) == 2 {
			var key json.RawMessage
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("key is not valid JSON: %s", args[1])
			}
			key = json.RawMessage(args[1])
			if err := d.ExecuteStoredEntry(ctx, path, key, nil); err != nil {
				return err
			}
		} else if err := d.ExecuteStoredEntriesForPathPrefix(ctx, path, nil, nil); err != nil {
			return err
		}

		if printed == 0 {
			cmd.PrintErrln("(no matching entries)")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
