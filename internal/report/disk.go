package report

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultMaxRecords is how many records a DiskStore keeps when MaxRecords
// is unset.
const DefaultMaxRecords = 100

// DiskStore writes records as JSON files into a directory, created lazily
// on first use.
type DiskStore struct {
	// MaxRecords bounds the number of files kept; the oldest are removed
	// after each Save.
	MaxRecords int

	mu  sync.Mutex
	dir string
}

// NewDiskStore creates a DiskStore rooted at dir.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// DefaultDir returns the per-user directory for dispatch records, or ""
// when the platform has no user cache directory.
func DefaultDir() string {
	cache, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(cache, "flashkit", "runs")
}

// NewDefaultStore keeps up to capacity records in memory, persisted under
// DefaultDir when there is one.
func NewDefaultStore(capacity int) *LRUStore {
	dir := DefaultDir()
	if dir == "" {
		return NewLRUStore(capacity, nil)
	}
	return NewLRUStore(capacity, NewDiskStore(dir))
}

// Save writes a record as a JSON file.
func (s *DiskStore) Save(rec *Record) error {
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling run %s: %w", rec.ID, err)
	}
	if err := os.WriteFile(filepath.Join(dir, rec.ID+".json"), data, 0o644); err != nil {
		return fmt.Errorf("writing run %s: %w", rec.ID, err)
	}
	if err := s.prune(dir); err != nil {
		return fmt.Errorf("pruning runs: %w", err)
	}
	return nil
}

// prune removes the oldest record files beyond MaxRecords.
func (s *DiskStore) prune(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := s.MaxRecords
	if limit <= 0 {
		limit = DefaultMaxRecords
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type file struct {
		name string
		mod  time.Time
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{e.Name(), info.ModTime()})
	}
	if len(files) <= limit {
		return nil
	}
	slices.SortFunc(files, func(a, b file) int {
		if c := a.mod.Compare(b.mod); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})
	for _, f := range files[:len(files)-limit] {
		if err := os.Remove(filepath.Join(dir, f.name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Load reads a record from disk.
func (s *DiskStore) Load(id string) (*Record, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return nil, fmt.Errorf("invalid run id %q", id)
	}
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, id+".json"))
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshalling run %s: %w", id, err)
	}
	return &rec, nil
}

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir == "" {
		return "", errors.New("no run directory")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	return s.dir, nil
}
