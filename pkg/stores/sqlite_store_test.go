package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stepflow/stepflow/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStorePoolSettings(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path:            ":memory:",
		MaxOpenConns:    7,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	defer store.Close()

	if got := store.db.Stats().MaxOpenConnections; got != 7 {
		t.Errorf("expected 7 max open connections, got %d", got)
	}

	defaulted, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if defaulted.cfg.MaxOpenConns != 25 {
		t.Errorf("expected default of 25 max open connections, got %d", defaulted.cfg.MaxOpenConns)
	}
	if defaulted.cfg.MaxIdleConns != 5 {
		t.Errorf("expected default of 5 max idle connections, got %d", defaulted.cfg.MaxIdleConns)
	}
	if defaulted.cfg.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("expected default lifetime of 5m, got %v", defaulted.cfg.ConnMaxLifetime)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"runs", "restart_info"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestRunLifecycle tests run creation and completion
func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	run := &engine.ExecutionRun{
		ID:          "run-001",
		FrameworkID: "deploy-nginx",
		Host:        "web1",
		State:       engine.RunStateRunning,
		StepIndex:   0,
		StartedAt:   now,
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	run.State = engine.RunStateFailed
	run.StepIndex = 2
	run.Err = errors.New("step 2 failed")
	run.CompletedAt = now.Add(time.Minute)
	if err := store.FinishRun(ctx, run); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].State != engine.RunStateFailed {
		t.Errorf("expected state failed, got %s", runs[0].State)
	}
	if runs[0].StepIndex != 2 {
		t.Errorf("expected step_index 2, got %d", runs[0].StepIndex)
	}
}

// TestFinishUnknownRun tests finishing a run that was never created
func TestFinishUnknownRun(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	run := &engine.ExecutionRun{
		ID:          "never-created",
		State:       engine.RunStateCompleted,
		CompletedAt: time.Now(),
	}
	if err := store.FinishRun(context.Background(), run); err == nil {
		t.Fatal("expected error finishing unknown run")
	}
}

// TestRestartInfoRoundTrip tests bookmark persistence
func TestRestartInfoRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	info := &engine.RestartInfo{
		FrameworkID:    "deploy-nginx",
		Host:           "web1",
		LastSuccessful: 1,
		Inputs:         engine.Bindings{"version": "1.2.3"},
		Outputs:        engine.Bindings{"artifact": "/tmp/build.tar"},
		Defaults:       engine.Bindings{"region": "eu-west-1"},
		UpdatedAt:      time.Now(),
	}
	if err := store.SaveRestartInfo(ctx, info); err != nil {
		t.Fatalf("failed to save restart info: %v", err)
	}

	got, err := store.GetRestartInfo(ctx, "deploy-nginx", "web1")
	if err != nil {
		t.Fatalf("failed to get restart info: %v", err)
	}
	if got == nil {
		t.Fatal("expected restart info, got nil")
	}
	if got.LastSuccessful != 1 {
		t.Errorf("expected last_successful=1, got %d", got.LastSuccessful)
	}
	if got.Inputs["version"] != "1.2.3" {
		t.Errorf("expected inputs preserved, got %v", got.Inputs)
	}
	if got.Outputs["artifact"] != "/tmp/build.tar" {
		t.Errorf("expected outputs preserved, got %v", got.Outputs)
	}
	if got.Defaults["region"] != "eu-west-1" {
		t.Errorf("expected defaults preserved, got %v", got.Defaults)
	}
}

// TestRestartInfoAbsent tests the (nil, nil) contract for missing bookmarks
func TestRestartInfoAbsent(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	got, err := store.GetRestartInfo(context.Background(), "unknown", "nowhere")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for absent bookmark, got %+v", got)
	}
}

// TestRestartInfoMonotonic tests that last_successful never moves backwards
func TestRestartInfoMonotonic(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	save := func(last int) {
		t.Helper()
		err := store.SaveRestartInfo(ctx, &engine.RestartInfo{
			FrameworkID:    "fw1",
			Host:           "host1",
			LastSuccessful: last,
			UpdatedAt:      time.Now(),
		})
		if err != nil {
			t.Fatalf("failed to save restart info: %v", err)
		}
	}

	save(3)
	save(1) // stale write from a slower path must not regress the bookmark

	got, err := store.GetRestartInfo(ctx, "fw1", "host1")
	if err != nil {
		t.Fatalf("failed to get restart info: %v", err)
	}
	if got.LastSuccessful != 3 {
		t.Errorf("bookmark regressed: expected 3, got %d", got.LastSuccessful)
	}

	save(5)
	got, err = store.GetRestartInfo(ctx, "fw1", "host1")
	if err != nil {
		t.Fatalf("failed to get restart info: %v", err)
	}
	if got.LastSuccessful != 5 {
		t.Errorf("expected bookmark to advance to 5, got %d", got.LastSuccessful)
	}
}

// TestDeleteRestartInfo tests bookmark removal
func TestDeleteRestartInfo(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	if err := store.SaveRestartInfo(ctx, &engine.RestartInfo{
		FrameworkID:    "fw1",
		Host:           "host1",
		LastSuccessful: 0,
	}); err != nil {
		t.Fatalf("failed to save restart info: %v", err)
	}

	if err := store.DeleteRestartInfo(ctx, "fw1", "host1"); err != nil {
		t.Fatalf("failed to delete restart info: %v", err)
	}

	got, err := store.GetRestartInfo(ctx, "fw1", "host1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected bookmark deleted, got %+v", got)
	}

	// Deleting again is not an error.
	if err := store.DeleteRestartInfo(ctx, "fw1", "host1"); err != nil {
		t.Fatalf("repeated delete failed: %v", err)
	}
}

// TestRestartInfoPerHostIsolation tests that bookmarks are keyed per host
func TestRestartInfoPerHostIsolation(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	for host, last := range map[string]int{"web1": 2, "web2": 0} {
		if err := store.SaveRestartInfo(ctx, &engine.RestartInfo{
			FrameworkID:    "fw1",
			Host:           host,
			LastSuccessful: last,
		}); err != nil {
			t.Fatalf("failed to save restart info for %s: %v", host, err)
		}
	}

	got1, err := store.GetRestartInfo(ctx, "fw1", "web1")
	if err != nil || got1 == nil {
		t.Fatalf("failed to get web1 bookmark: %v", err)
	}
	got2, err := store.GetRestartInfo(ctx, "fw1", "web2")
	if err != nil || got2 == nil {
		t.Fatalf("failed to get web2 bookmark: %v", err)
	}
	if got1.LastSuccessful != 2 || got2.LastSuccessful != 0 {
		t.Errorf("bookmarks leaked across hosts: web1=%d web2=%d",
			got1.LastSuccessful, got2.LastSuccessful)
	}
}
