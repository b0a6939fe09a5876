package main

import (
	"strconv"

	"github.com/spf13/cobra"
)

var rmAppCmd = &cobra.Command{
	Use:   "rm-app <app-id> <version>",
	Short: "Permanently delete one peer app-id's writer subtree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		d, err := openDecsync()
		if err != nil {
			return err
		}
		defer d.Close()

		if err := d.DeleteAppData(cmd.Context(), args[0], version); err != nil {
			return err
		}
		cmd.Println("removed")
		return nil
	},
}

var rmCollectionCmd = &cobra.Command{
	Use:   "rm-collection",
	Short: "Permanently delete the entire collection, all versions and all peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDecsync()
		if err != nil {
			return err
		}
		if err := d.PermDeleteCollection(cmd.Context()); err != nil {
			return err
		}
		cmd.Println("removed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmAppCmd, rmCollectionCmd)
}
