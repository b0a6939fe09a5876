package main

import (
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the DecSync directory layout if it doesn't exist yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDecsync()
		if err != nil {
			return err
		}
		defer d.Close()
		cmd.Println("initialized")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
