package localstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/decsync-go/decsync/fs"
)

// jsonStore keeps Info at a fixed path on an fs.FS, matching the layout
// spec.md's localDir/info file uses. Every Save rewrites the whole file.
type jsonStore struct {
	fs   fs.FS
	path []string
}

// NewJSON returns a Store backed by a single JSON file at path on fsys.
func NewJSON(fsys fs.FS, path []string) Store {
	return &jsonStore{fs: fsys, path: path}
}

func (s *jsonStore) Load(ctx context.Context) (Info, error) {
	data, ok, err := s.fs.Read(ctx, s.path)
	if err != nil {
		return Info{}, fmt.Errorf("localstore: read %s: %w", fs.PathString(s.path), err)
	}
	if !ok {
		return Info{}, nil
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("localstore: parse %s: %w", fs.PathString(s.path), err)
	}
	return info, nil
}

func (s *jsonStore) Save(ctx context.Context, info Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("localstore: encode info: %w", err)
	}
	if err := s.fs.Write(ctx, s.path, data); err != nil {
		return fmt.Errorf("localstore: write %s: %w", fs.PathString(s.path), err)
	}
	return nil
}
