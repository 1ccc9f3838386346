package frameworks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchInvalidatesCacheOnFileChange(t *testing.T) {
	service, dir := setupService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := service.WriteFramework(ctx, "watched", validFramework()); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := service.ReadFramework(ctx, "watched"); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- service.Watch(ctx)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Change the file behind the service's back; only the watcher can
	// evict the cached copy.
	updated := validFramework()
	updated.ID = "watched"
	updated.Name = "Updated"
	data, err := json.Marshal(updated)
	if err != nil {
		t.Fatalf("failed to encode framework: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "watched.json"), data, 0644); err != nil {
		t.Fatalf("failed to rewrite file: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		fw, err := service.ReadFramework(ctx, "watched")
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if fw.Name == "Updated" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cache still serving the stale definition, got %q", fw.Name)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-watchDone; !errors.Is(err, context.Canceled) {
		t.Errorf("expected watch to end with context.Canceled, got %v", err)
	}
}
