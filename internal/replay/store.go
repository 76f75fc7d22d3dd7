package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// ConfigStore holds the ordered catalog of replay slices loaded from a JSON
// file. Records are addressed by ReplaySliceID, which is regenerated 1..N on
// every load.
//
// The store is read-mostly; Set and Persist take the write lock.
type ConfigStore struct {
	path    string
	mu      sync.RWMutex
	records []BlockConfig
}

// Load reads the JSON array at path and assigns primary keys in file order.
// An empty array is accepted with a warning.
func Load(path string) (*ConfigStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read replay config %s: %w", absPath, err)
	}

	var raw []blockRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse replay config %s: %w", absPath, err)
	}

	if len(raw) == 0 {
		logrus.Warnf("replay config %s is empty, no slices to schedule", absPath)
	}

	records := make([]BlockConfig, 0, len(raw))
	for i, r := range raw {
		records = append(records, r.withID(i+1))
	}

	return &ConfigStore{path: absPath, records: records}, nil
}

// Path returns the absolute path the catalog was loaded from.
func (s *ConfigStore) Path() string {
	return s.path
}

// Len returns the number of slices in the catalog.
func (s *ConfigStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Records returns a copy of the catalog in load order.
func (s *ConfigStore) Records() []BlockConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BlockConfig, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the record with the given primary key.
func (s *ConfigStore) Get(id int) (BlockConfig, bool) {
	if id < 1 {
		return BlockConfig{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ReplaySliceID == id {
			return r, true
		}
	}
	return BlockConfig{}, false
}

// Lookup is Get for keys that arrive as text, e.g. query parameters.
func (s *ConfigStore) Lookup(key string) (BlockConfig, bool) {
	id, ok := ParseKey(key)
	if !ok {
		return BlockConfig{}, false
	}
	return s.Get(id)
}

// Set replaces the record whose primary key matches cfg.ReplaySliceID.
// It never inserts; the return value reports whether a match was replaced.
func (s *ConfigStore) Set(cfg BlockConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if r.ReplaySliceID == cfg.ReplaySliceID {
			s.records[i] = cfg
			return true
		}
	}
	return false
}

// FindByStartBlock returns the first record, in load order, starting at id.
func (s *ConfigStore) FindByStartBlock(id uint64) (BlockConfig, bool) {
	return s.find(func(r BlockConfig) bool { return r.StartBlockID == id })
}

// FindByEndBlock returns the first record, in load order, ending at id.
func (s *ConfigStore) FindByEndBlock(id uint64) (BlockConfig, bool) {
	return s.find(func(r BlockConfig) bool { return r.EndBlockID == id })
}

// FindByEndBlockVersion narrows FindByEndBlock to a node software version,
// used when the same block ranges are replayed with several versions. An
// empty version matches any record.
func (s *ConfigStore) FindByEndBlockVersion(id uint64, version string) (BlockConfig, bool) {
	return s.find(func(r BlockConfig) bool {
		return r.EndBlockID == id && (version == "" || r.SpringVersion == version)
	})
}

// linear scan; catalogs hold a handful of block ranges
func (s *ConfigStore) find(match func(BlockConfig) bool) (BlockConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if match(r) {
			return r, true
		}
	}
	return BlockConfig{}, false
}

// Persist writes the catalog back to its source file without primary keys.
// The file is replaced atomically through a temporary file in the same
// directory.
func (s *ConfigStore) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]blockRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.record())
	}

	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal replay config: %w", err)
	}
	data = append(data, '\n')

	return writeFileAtomic(s.path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
