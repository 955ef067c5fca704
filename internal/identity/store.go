package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/oauth2"
)

const maxSessionSize = 64 * 1024

// Store reads and writes the session file.
type Store struct {
	path string
}

// NewStore returns a store for the session file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the session file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes the session atomically with 0600 permissions.
func (s *Store) Save(sess Session) error {
	if !sess.Identity.Available() {
		return errors.New("session has no operator id")
	}
	if sess.Token == "" {
		return errors.New("session has no token")
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod session file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to install session file: %w", err)
	}
	return nil
}

// Load reads the session file. A missing file yields ErrNoSession.
func (s *Store) Load() (*Session, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0077 != 0 {
		return nil, fmt.Errorf("insecure session file permissions: %v (expected 0600)", info.Mode().Perm())
	}
	if info.Size() > maxSessionSize {
		return nil, fmt.Errorf("session file too large: %d bytes", info.Size())
	}

	var sess Session
	if err := json.NewDecoder(f).Decode(&sess); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	if !sess.Identity.Available() {
		return nil, fmt.Errorf("session file has no operator id")
	}
	return &sess, nil
}

// Remove deletes the session file. Removing a missing file is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// Token implements oauth2.TokenSource over the session file, so clients pick
// up a new login without being rebuilt.
func (s *Store) Token() (*oauth2.Token, error) {
	sess, err := s.Load()
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: sess.Token, TokenType: "Bearer"}, nil
}

var _ oauth2.TokenSource = (*Store)(nil)
