package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sentinel errors returned by the store.
var (
	// ErrNotFound is returned when no session record exists.
	ErrNotFound = errors.New("no session record found")
	// ErrConflict is returned when a session record already exists for
	// this host. One active session per host: the caller must stop or
	// clean up the existing session first.
	ErrConflict = errors.New("a session record already exists for this host")
	// ErrCorrupted is returned when the session record cannot be parsed.
	ErrCorrupted = errors.New("session record corrupted")
)

// StateFileName is the name of the session record within the state directory.
const StateFileName = "state.json"

// Store is the durable session state store. It holds at most one record
// per host at a fixed well-known location and overwrites it atomically,
// never leaving a half-written record on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store rooted at the given state directory,
// creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the location of the session record.
func (s *Store) Path() string {
	return filepath.Join(s.dir, StateFileName)
}

// KeysDir returns the directory for private key files, creating it if
// needed.
func (s *Store) KeysDir() (string, error) {
	dir := filepath.Join(s.dir, "keys")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create keys directory: %w", err)
	}
	return dir, nil
}

// Load reads the current session record. Returns ErrNotFound when no
// record exists and ErrCorrupted when the record cannot be parsed.
func (s *Store) Load() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Create persists a brand-new session record. It uses an exclusive
// create so two concurrent starts cannot both win; if a record already
// exists, ErrConflict is returned and nothing is written.
func (s *Store) Create(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	f, err := os.OpenFile(s.Path(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if os.IsExist(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create session record: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(s.Path())
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return f.Sync()
}

// Save atomically overwrites the session record. The record is written
// to a temp file in the same directory and renamed into place.
func (s *Store) Save(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return atomicWriteFile(s.Path(), data, 0600)
}

// Delete removes the session record. Deleting an absent record is a
// no-op: teardown must be safe to re-run.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}

// atomicWriteFile writes data to path via a temp file in the same
// directory followed by a rename, so readers never observe a partial
// record.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
