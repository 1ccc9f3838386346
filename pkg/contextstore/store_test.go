package contextstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
)

// setupStore creates a store in a temp directory with a fresh key file.
func setupStore(t *testing.T, secret string) (*Store, string) {
	t.Helper()

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "context.key")
	if err := os.WriteFile(keyPath, []byte(secret), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	storePath := filepath.Join(dir, "context.enc")
	store, err := New(storePath, keyPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store, storePath
}

func TestSetGetRoundTrip(t *testing.T) {
	store, _ := setupStore(t, "test-secret")

	type hostRecord struct {
		Address string `json:"address"`
		Port    int    `json:"port"`
	}

	in := hostRecord{Address: "10.0.0.5", Port: 22}
	if err := store.Set("host/web1", in); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	var out hostRecord
	if err := store.Get("host/web1", &out); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestGetMissingKey(t *testing.T) {
	store, _ := setupStore(t, "test-secret")

	var out string
	err := store.Get("absent", &out)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetOverwritesExistingKey(t *testing.T) {
	store, _ := setupStore(t, "test-secret")

	if err := store.Set("version", "1.0"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set("version", "2.0"); err != nil {
		t.Fatalf("second set failed: %v", err)
	}

	var got string
	if err := store.Get("version", &got); err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "2.0" {
		t.Errorf("expected 2.0, got %s", got)
	}
}

func TestWrongSecretFailsDecryption(t *testing.T) {
	store, storePath := setupStore(t, "right-secret")
	if err := store.Set("key", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	// Reopen the same file with a different secret.
	dir := t.TempDir()
	wrongKeyPath := filepath.Join(dir, "wrong.key")
	if err := os.WriteFile(wrongKeyPath, []byte("wrong-secret"), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	wrong, err := New(storePath, wrongKeyPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	var out string
	if err := wrong.Get("key", &out); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt, got %v", err)
	}
}

func TestCorruptedFileFailsDecryption(t *testing.T) {
	store, storePath := setupStore(t, "test-secret")
	if err := store.Set("key", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	data, err := os.ReadFile(storePath)
	if err != nil {
		t.Fatalf("failed to read store file: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(storePath, data, 0600); err != nil {
		t.Fatalf("failed to corrupt store file: %v", err)
	}

	var out string
	if err := store.Get("key", &out); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt for corrupted file, got %v", err)
	}
}

func TestFileIsNotPlaintext(t *testing.T) {
	store, storePath := setupStore(t, "test-secret")
	if err := store.Set("password", "hunter2"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	data, err := os.ReadFile(storePath)
	if err != nil {
		t.Fatalf("failed to read store file: %v", err)
	}
	if bytes.Contains(data, []byte("hunter2")) || bytes.Contains(data, []byte("password")) {
		t.Error("store file must not contain plaintext values")
	}
}

func TestDeleteAndKeys(t *testing.T) {
	store, _ := setupStore(t, "test-secret")

	for _, k := range []string{"a", "b", "c"} {
		if err := store.Set(k, k); err != nil {
			t.Fatalf("set %s failed: %v", k, err)
		}
	}

	if err := store.Delete("b"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	// Deleting an absent key is not an error.
	if err := store.Delete("b"); err != nil {
		t.Fatalf("repeated delete failed: %v", err)
	}

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestEmptyKeyFileRejected(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "empty.key")
	if err := os.WriteFile(keyPath, nil, 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}

	if _, err := New(filepath.Join(dir, "store.enc"), keyPath); err == nil {
		t.Fatal("expected error for empty key file")
	}
}

func TestMissingKeyFileRejected(t *testing.T) {
	dir := t.TempDir()
	if _, err := New(filepath.Join(dir, "store.enc"), filepath.Join(dir, "nope.key")); err == nil {
		t.Fatal("expected error for missing key file")
	}
}

func TestConcurrentWriters(t *testing.T) {
	store, _ := setupStore(t, "test-secret")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			if err := store.Set(key, i); err != nil {
				t.Errorf("concurrent set %s failed: %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	if len(keys) != 10 {
		t.Errorf("expected 10 keys after concurrent writes, got %d", len(keys))
	}
}
