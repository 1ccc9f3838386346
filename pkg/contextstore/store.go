// Package contextstore persists small JSON-shaped records (host
// descriptors, credentials, run bookmarks) under string keys, encrypted
// at rest with AES-GCM. The secret is loaded once from a separate key
// file at construction and held only in memory; ciphertext that cannot
// be authenticated under the held secret fails with ErrDecrypt rather
// than returning corrupted or substituted plaintext.
package contextstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrNotFound is returned by Get when no value exists for the key.
	ErrNotFound = errors.New("context entry not found")

	// ErrDecrypt is returned when the stored ciphertext cannot be
	// authenticated under the held secret.
	ErrDecrypt = errors.New("context store decryption failed")
)

// kdf parameters for deriving the AES key from the key file content.
const (
	kdfSalt       = "stepflow-context-store"
	kdfIterations = 100000
	kdfKeyLen     = 32
)

// Store is a flat, encrypted key-value mapping backed by a single file.
// Each Set atomically replaces the full encrypted file content; volume
// is expected to be small (host and credential records, not bulk data).
type Store struct {
	mu   sync.Mutex
	path string
	key  []byte
}

// New creates a store over path, deriving the encryption key from the
// content of keyPath.
func New(path, keyPath string) (*Store, error) {
	secret, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("key file %s is empty", keyPath)
	}

	return &Store{
		path: path,
		key:  pbkdf2.Key(secret, []byte(kdfSalt), kdfIterations, kdfKeyLen, sha256.New),
	}, nil
}

// Set stores value under key, re-encrypting and atomically rewriting
// the whole file. Concurrent Set calls are serialized; a torn write is
// never observable.
func (s *Store) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	entries[key] = raw

	return s.save(entries)
}

// Get decrypts the store and unmarshals the value for key into out.
// Returns ErrNotFound if the key is absent and ErrDecrypt if the file
// cannot be authenticated under the held secret.
func (s *Store) Get(key string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}

	raw, ok := entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode value for %s: %w", key, err)
	}
	return nil
}

// Delete removes key from the store. Deleting an absent key is not an
// error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)

	return s.save(entries)
}

// Keys returns all stored keys.
func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// load reads and decrypts the full entry map. A missing file is an
// empty store.
func (s *Store) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read context store: %w", err)
	}

	plaintext, err := s.decrypt(data)
	if err != nil {
		return nil, err
	}

	entries := map[string]json.RawMessage{}
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return entries, nil
}

// save encrypts the full entry map and atomically replaces the store
// file via a temp file and rename.
func (s *Store) save(entries map[string]json.RawMessage) error {
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode context store: %w", err)
	}

	ciphertext, err := s.encrypt(plaintext)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".context-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(ciphertext); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write context store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set store permissions: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace context store: %w", err)
	}
	return nil
}

// encrypt seals plaintext with AES-GCM under a fresh nonce. The file
// layout is nonce || ciphertext+tag.
func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt opens nonce || ciphertext+tag. Authentication failure means a
// wrong secret or a corrupted file and surfaces as ErrDecrypt.
func (s *Store) decrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
