package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// ErrCorrupt marks a document that exists but cannot be parsed or
// fails schema validation.
var ErrCorrupt = errors.New("config: document corrupt")

// ErrUnwritable marks a failed save. The in-memory document is still
// valid; callers may keep operating on it.
var ErrUnwritable = errors.New("config: document unwritable")

// DefaultPath returns the per-user document location,
// <user-config-dir>/mcpmux/servers.yaml. MCPMUX_CONFIG_HOME overrides
// the directory.
func DefaultPath() (string, error) {
	if v := os.Getenv("MCPMUX_CONFIG_HOME"); v != "" {
		return filepath.Join(filepath.Clean(v), "servers.yaml"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "mcpmux", "servers.yaml"), nil
}

// Store owns the on-disk document file. All writes go through Save,
// which is atomic: the document is serialized to a temp sibling and
// renamed into place, so a crashing writer leaves either the previous
// or the new document, never a partial one. A sibling flock guards the
// temp file against concurrent mcpmux processes.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store for the document at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Load reads and validates the document. A missing file yields an
// empty document, not an error. Parse and schema failures wrap
// ErrCorrupt.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", s.path, err)
	}
	doc := NewDocument()
	if len(data) == 0 {
		return doc, nil
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if err := doc.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	return doc, nil
}

// Save serializes doc and renames it into place.
func (s *Store) Save(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("%w: lock: %v", ErrUnwritable, err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrUnwritable, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrUnwritable, err)
	}
	return nil
}
