package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set <path> <key-json> <value-json>",
	Short: "Write a single (key, value) cell at a path",
	Long: `path is a slash-separated list of segments, e.g. "cats/felix".
key-json and value-json are JSON literals, e.g. '"name"' and '"Felix"'.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := json.RawMessage(args[1])
		value := json.RawMessage(args[2])
		if !json.Valid(key) {
			return fmt.Errorf("key is not valid JSON: %s", args[1])
		}
		if !json.Valid(value) {
			return fmt.Errorf("value is not valid JSON: %s", args[2])
		}

		d, err := openDecsync()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := cmd.Context()
		if err := d.SetEntry(ctx, parsePath(args[0]), key, value); err != nil {
			return err
		}
		cmd.Println("ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setCmd)
}
