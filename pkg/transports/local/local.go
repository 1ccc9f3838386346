// Package local executes framework scripts on the controller machine
// itself, for steps whose target is "local". It mirrors the SSH
// transport's result shape so the engine treats both uniformly.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Result mirrors the SSH transport result for local execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes scripts locally. The zero value is ready to use.
type Runner struct {
	// TempDir overrides where script files are written (default:
	// the OS temp directory).
	TempDir string
}

// ExecuteScript writes the script to a temp file and runs it, blocking
// until the process exits or ctx is done. Scripts without a shebang run
// under /bin/sh. The returned Result carries the exit code even when
// the script fails.
func (r *Runner) ExecuteScript(ctx context.Context, script string) (Result, error) {
	startTime := time.Now()

	if !strings.HasPrefix(script, "#!") {
		script = "#!/bin/sh\n" + script
	}

	f, err := os.CreateTemp(r.TempDir, "stepflow-*.sh")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create script file: %w", err)
	}
	scriptPath := f.Name()
	defer func() {
		if err := os.Remove(scriptPath); err != nil {
			log.Warn().Err(err).Str("path", scriptPath).Msg("failed to clean up script file")
		}
	}()

	if _, err := f.WriteString(script); err != nil {
		_ = f.Close()
		return Result{}, fmt.Errorf("failed to write script file: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close script file: %w", err)
	}
	if err := os.Chmod(scriptPath, 0o700); err != nil {
		return Result{}, fmt.Errorf("failed to make script executable: %w", err)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, scriptPath)
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()

	res := Result{
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		Duration: time.Since(startTime),
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("failed to start script: %w", runErr)
	}

	return res, nil
}
