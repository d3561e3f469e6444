// Package tokenfile persists the stack access token between runs. The token
// file is the only state shared across invocations of the CLI; it is always
// replaced as a whole, never edited in place.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when the token file's directory has to be created.
const DirPerms = 0o700

// DefaultPath is the token location used when nothing else is configured.
// Relative to the working directory.
const DefaultPath = "token.json"

// ErrNotFound is returned by Load when no token has been saved yet.
var ErrNotFound = errors.New("tokenfile: no stored token")

// ParseError reports a token file that exists but does not hold a credential.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tokenfile: %s is not a valid token file: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Credential is the on-disk format: {"token": "<access token>"}.
type Credential struct {
	Token string `json:"token"`
}

// Store reads and writes a single token file.
type Store struct {
	path string
}

// NewStore returns a store bound to path. An empty path means DefaultPath.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}

	return &Store{path: path}
}

// Path returns the file the store reads and writes.
func (s *Store) Path() string {
	return s.path
}

// Load reads the stored access token. Returns ErrNotFound if the file does
// not exist and a *ParseError if it cannot be decoded or holds no token.
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("tokenfile: reading %s: %w", s.path, err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return "", &ParseError{Path: s.path, Err: err}
	}

	if cred.Token == "" {
		return "", &ParseError{Path: s.path, Err: errors.New("missing token field")}
	}

	return cred.Token, nil
}

// Save writes the token atomically (write-to-temp + rename) with 0600
// permissions, replacing any previous token. Never logs token values.
func (s *Store) Save(token string) error {
	if token == "" {
		return errors.New("tokenfile: refusing to save empty token")
	}

	data, err := json.Marshal(Credential{Token: token})
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the token file. A missing file is not an error.
func (s *Store) Remove() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", s.path, err)
	}

	return nil
}
