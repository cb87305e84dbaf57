// Package filestore keeps push receiver state in a JSON document inside a
// session directory.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	pushreceiver "github.com/slush-dev/push-receiver"
)

// FileName is the name of the state document inside the session directory.
const FileName = "push_receiver.json"

// Option configures Store.
type Option func(*Store)

// WithLogger sets a custom logger for Store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store is a pushreceiver.Store backed by a single JSON file. Every write
// replaces the whole document through a temp file and rename, so a crash
// leaves either the old or the new state on disk.
type Store struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex
}

var _ pushreceiver.Store = (*Store)(nil)

// New returns a Store rooted at dir. The directory is created on first write.
func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the location of the state document.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Load reads the state document. A missing file is an empty state.
func (s *Store) Load(ctx context.Context) (pushreceiver.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// SaveRegistration replaces credentials and sender ID in one write.
func (s *Store) SaveRegistration(ctx context.Context, creds *pushreceiver.Credentials, senderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return err
	}
	state.Credentials = creds.Clone()
	state.SenderID = senderID
	return s.write(state)
}

// SavePersistentIDs replaces the persistent ID list.
func (s *Store) SavePersistentIDs(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return err
	}
	state.PersistentIDs = make([]string, len(ids))
	copy(state.PersistentIDs, ids)
	return s.write(state)
}

func (s *Store) read() (pushreceiver.State, error) {
	var state pushreceiver.State
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, fs.ErrNotExist) {
		state.PersistentIDs = []string{}
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("reading state: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("parsing state %s: %w", s.Path(), err)
	}
	if state.PersistentIDs == nil {
		state.PersistentIDs = []string{}
	}
	return state, nil
}

func (s *Store) write(state pushreceiver.State) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing state: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		return fmt.Errorf("replacing state: %w", err)
	}
	s.logger.Debug("Saved push receiver state", "path", s.Path())
	return nil
}
