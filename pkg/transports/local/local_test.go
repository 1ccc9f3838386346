package local

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecuteScriptSuccess(t *testing.T) {
	r := &Runner{TempDir: t.TempDir()}

	res, err := r.ExecuteScript(context.Background(), "echo hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", res.ExitCode)
	}
	if res.Stdout != "hello" {
		t.Errorf("expected stdout hello, got %q", res.Stdout)
	}
	if res.Duration <= 0 {
		t.Error("expected nonzero duration")
	}
}

func TestExecuteScriptNonzeroExitIsData(t *testing.T) {
	r := &Runner{TempDir: t.TempDir()}

	res, err := r.ExecuteScript(context.Background(), "echo oops >&2\nexit 3")
	if err != nil {
		t.Fatalf("nonzero exit must not be an error, got %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", res.ExitCode)
	}
	if res.Stderr != "oops" {
		t.Errorf("expected stderr oops, got %q", res.Stderr)
	}
}

func TestExecuteScriptHonorsShebang(t *testing.T) {
	r := &Runner{TempDir: t.TempDir()}

	res, err := r.ExecuteScript(context.Background(), "#!/bin/sh\necho from-shebang")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "from-shebang" {
		t.Errorf("expected shebang script output, got %q", res.Stdout)
	}
}

func TestExecuteScriptCancellation(t *testing.T) {
	r := &Runner{TempDir: t.TempDir()}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := r.ExecuteScript(ctx, "sleep 10")
	if err == nil {
		t.Fatal("expected error after context timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}
