package filecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"crisisguard/internal/domain"
	"crisisguard/internal/ports"
)

// Store keeps the last good allowlist in a single JSON file on the device.
// Writes go to a temp file in the same directory and are renamed into place,
// so a crash mid-write leaves the previous copy intact.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Store { return &Store{path: path} }

func (s *Store) Path() string { return s.path }

// Load returns found=false without error when no cache exists yet. A file
// that fails validation is reported as an error and never returned.
func (s *Store) Load(ctx context.Context) (ports.PersistedAllowlist, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ports.PersistedAllowlist{}, false, nil
		}
		return ports.PersistedAllowlist{}, false, fmt.Errorf("read cache: %w", err)
	}
	var p ports.PersistedAllowlist
	if err := json.Unmarshal(data, &p); err != nil {
		return ports.PersistedAllowlist{}, false, fmt.Errorf("parse cache: %w", err)
	}
	if err := domain.ValidateAllowlist(p.Document.Allowlist); err != nil {
		return ports.PersistedAllowlist{}, false, fmt.Errorf("cache: %w", err)
	}
	if err := domain.ValidateOverrides(p.Document.Overrides); err != nil {
		return ports.PersistedAllowlist{}, false, fmt.Errorf("cache: %w", err)
	}
	return p, true, nil
}

func (s *Store) Save(ctx context.Context, p ports.PersistedAllowlist) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".allowlist-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("install cache: %w", err)
	}
	return nil
}
