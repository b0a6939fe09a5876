package main

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/decsync-go/decsync"
)

func openDecsync() (*decsync.Decsync, error) {
	decsyncDir, err := requiredString("decsync-dir")
	if err != nil {
		return nil, err
	}
	syncType, err := requiredString("sync-type")
	if err != nil {
		return nil, err
	}
	appID, err := requiredString("app-id")
	if err != nil {
		return nil, err
	}
	collection := viper.GetString("collection")
	localDir := localDirOrDefault(decsyncDir)

	return decsync.New(decsyncDir, localDir, syncType, collection, appID, decsync.WithLogger(logger))
}

func parsePath(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "/")
}

func joinPath(path []string) string {
	return strings.Join(path, "/")
}
