package main

import (
	"strconv"

	"github.com/spf13/cobra"
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List every peer app-id ever seen writing to this collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDecsync()
		if err != nil {
			return err
		}
		defer d.Close()

		apps, err := d.ActiveApps(cmd.Context())
		if err != nil {
			return err
		}
		for _, app := range apps {
			supported := "-"
			if app.SupportedVersion != nil {
				supported = strconv.Itoa(*app.SupportedVersion)
			}
			lastActive := app.LastActive
			if lastActive == "" {
				lastActive = "-"
			}
			cmd.Printf("%s\tv%d\tlast-active=%s\tsupports=%s\n", app.AppID, app.Version, lastActive, supported)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(appsCmd)
}
