package watch

import (
	"os"
	"path/filepath"
)

// walkDirs calls fn once for root and every directory beneath it. fsnotify
// watches are not recursive on any platform, so a Watcher has to add every
// directory individually up front and again as new ones appear.
func walkDirs(root string, fn func(dir string) error) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return fn(path)
	})
}

func isDirectory(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
