package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "decsync-cli",
	Short: "Inspect and drive a DecSync directory from the command line",
	Long: `decsync-cli operates directly on a DecSync directory: it can seed
values, replay stored entries, list active peer apps, and watch a
directory for changes and sync them as they arrive.`,
	SilenceUsage: true,
}

var logger *slog.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("decsync-dir", "", "root DecSync directory (required)")
	rootCmd.PersistentFlags().String("local-dir", "", "directory for this app's private metadata (defaults to <decsync-dir>/.decsync-local)")
	rootCmd.PersistentFlags().String("sync-type", "", "sync type, e.g. contacts, calendars (required)")
	rootCmd.PersistentFlags().String("collection", "", "collection within the sync type, if any")
	rootCmd.PersistentFlags().String("app-id", "", "this app's identifier (required)")
	rootCmd.PersistentFlags().String("config", "", "config file (default $HOME/.decsync.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	for _, name := range []string{"decsync-dir", "local-dir", "sync-type", "collection", "app-id", "verbose"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".decsync")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("DECSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func requiredString(name string) (string, error) {
	v := viper.GetString(name)
	if v == "" {
		return "", fmt.Errorf("--%s is required (or set DECSYNC_%s / config key %q)", name, envName(name), name)
	}
	return v, nil
}

func envName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '-' {
			out[i] = '_'
		} else if name[i] >= 'a' && name[i] <= 'z' {
			out[i] = name[i] - 'a' + 'A'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

func localDirOrDefault(decsyncDir string) string {
	if v := viper.GetString("local-dir"); v != "" {
		return v
	}
	return filepath.Join(decsyncDir, ".decsync-local")
}
