package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/decsync-go/decsync"
	"github.com/decsync-go/decsync/internal/watch"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the DecSync directory and sync new entries as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDecsync()
		if err != nil {
			return err
		}
		defer d.Close()

		d.AddListener(nil, func(_ decsync.Extra, path []string, entry decsync.Entry) {
			cmd.Printf("%s\t%s\t%s\t%s\n", entry.Datetime, joinPath(path), entry.Key, entry.Value)
		})

		decsyncDir, err := requiredString("decsync-dir")
		if err != nil {
			return err
		}
		w, err := watch.New(decsyncDir, d, watchDebounce, logger)
		if err != nil {
			return err
		}
		defer w.Stop()

		if err := d.ExecuteAllNewEntries(cmd.Context(), nil, false); err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		cmd.Println("watching, press ctrl-c to stop")
		if err := w.Run(ctx, nil); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "quiet time to wait after activity before rescanning")
	rootCmd.AddCommand(watchCmd)
	_ = viper.BindPFlag("debounce", watchCmd.Flags().Lookup("debounce"))
}
