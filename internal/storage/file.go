package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	logx "arius/pkg/logx"
)

// fileStore persists the memory backend as a single JSON snapshot.
//
// Files:
//   - <prefix>.snapshot.json (rewritten via tmp + rename after each mutation)
//
// A crash mid-write leaves the previous snapshot intact.
type fileStore struct {
	*memStore
	log          logx.Logger
	snapshotPath string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fs := &fileStore{
		memStore:     &memStore{st: newMemState()},
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
	}
	if err := loadSnapshot(fs.snapshotPath, &fs.memStore.st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	fs.memStore.onChange = fs.writeSnapshot
	return fs, nil
}

func (s *fileStore) writeSnapshot(st *memState) error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		s.log.Warn("snapshot rename failed", logx.String("path", s.snapshotPath), logx.Err(err))
		return err
	}
	return nil
}

func loadSnapshot(path string, out *memState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var st memState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return err
	}
	if st.Schedules == nil {
		st.Schedules = map[string]ScheduleRow{}
	}
	if st.Settings == nil {
		st.Settings = map[string]string{}
	}
	*out = st
	return nil
}
