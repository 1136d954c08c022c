package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// filePermissions restricts the state file to the service user.
const filePermissions = 0600

// Store loads and saves the whole relay table.
type Store interface {
	Load() (*Table, error)
	Save(t *Table) error
}

// FileStore keeps the table in a single JSON file.
type FileStore struct {
	path         string
	defaultCount int
}

// NewFileStore creates a store for path. When the file does not exist, Load
// returns a default table of defaultCount relays.
func NewFileStore(path string, defaultCount int) *FileStore {
	if defaultCount <= 0 {
		defaultCount = DefaultCount
	}
	return &FileStore{path: path, defaultCount: defaultCount}
}

// Path returns the state file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the table from disk.
func (s *FileStore) Load() (*Table, error) {
	return load(s.path, s.defaultCount)
}

// Save writes the table to disk.
func (s *FileStore) Save(t *Table) error {
	return Save(s.path, t)
}

// Load reads the table at path. An absent file yields DefaultTable(DefaultCount);
// an unreadable or invalid file is an error.
func Load(path string) (*Table, error) {
	return load(path, DefaultCount)
}

func load(path string, defaultCount int) (*Table, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultTable(defaultCount), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptState, path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptState, path, err)
	}
	return &t, nil
}

// Save writes t to path as indented JSON. The file is replaced atomically
// so a crash mid-write leaves the previous table intact.
func Save(path string, t *Table) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling table: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // Gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, filePermissions); err != nil {
		return fmt.Errorf("setting state file permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
