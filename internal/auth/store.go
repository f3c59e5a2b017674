package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/sjson"
)

// authFileName is the JSON auth file written under the auth directory.
const authFileName = "laddel.json"

// Store abstracts persistence of the token set across restarts.
type Store interface {
	// Load reads the persisted token storage; it returns (nil, nil) when no
	// record exists yet.
	Load(ctx context.Context) (*TokenStorage, error)
	// Save persists the provided token storage, replacing any existing record,
	// and returns the backing path.
	Save(ctx context.Context, ts *TokenStorage) (string, error)
	// Delete removes the persisted record.
	Delete(ctx context.Context) error
}

// FileTokenStore persists the token record as a JSON file. Updates rewrite
// known fields in place so fields written by other tools survive rotation.
type FileTokenStore struct {
	mu   sync.Mutex
	path string
}

// NewFileTokenStore creates a token store rooted at the given auth directory.
func NewFileTokenStore(authDir string) *FileTokenStore {
	return &FileTokenStore{path: filepath.Join(authDir, authFileName)}
}

// Path returns the backing file path.
func (s *FileTokenStore) Path() string { return s.path }

// Load reads the auth file. A missing file is not an error.
func (s *FileTokenStore) Load(ctx context.Context) (*TokenStorage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth filestore: read failed: %w", err)
	}
	var ts TokenStorage
	if err = json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("auth filestore: parse failed: %w", err)
	}
	return &ts, nil
}

// Save writes the token storage. When the file already exists only the token
// fields are rewritten, preserving any unknown fields present in the JSON.
func (s *FileTokenStore) Save(ctx context.Context, ts *TokenStorage) (string, error) {
	if ts == nil {
		return "", fmt.Errorf("auth filestore: storage is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return "", fmt.Errorf("auth filestore: create dir failed: %w", err)
	}

	existing, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("auth filestore: read existing failed: %w", err)
		}
		ts.Type = "laddel"
		raw, errMarshal := json.Marshal(ts)
		if errMarshal != nil {
			return "", fmt.Errorf("auth filestore: marshal failed: %w", errMarshal)
		}
		if errWrite := os.WriteFile(s.path, raw, 0o600); errWrite != nil {
			return "", fmt.Errorf("auth filestore: write failed: %w", errWrite)
		}
		return s.path, nil
	}

	updated := existing
	for field, value := range map[string]string{
		"access_token":  ts.AccessToken,
		"refresh_token": ts.RefreshToken,
		"token_type":    ts.TokenType,
		"expired":       ts.Expire,
		"last_refresh":  ts.LastRefresh,
		"type":          "laddel",
	} {
		if updated, err = sjson.SetBytes(updated, field, value); err != nil {
			return "", fmt.Errorf("auth filestore: update field %s failed: %w", field, err)
		}
	}
	if err = os.WriteFile(s.path, updated, 0o600); err != nil {
		return "", fmt.Errorf("auth filestore: write failed: %w", err)
	}
	return s.path, nil
}

// Delete removes the auth file.
func (s *FileTokenStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("auth filestore: delete failed: %w", err)
	}
	return nil
}
