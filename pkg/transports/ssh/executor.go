package ssh

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// ExecuteScript uploads the script body to the remote host and executes
// it, blocking until the remote process exits or ctx is done. The
// returned Result carries stdout, stderr and the exit code even when
// the script fails; err is reserved for transport-level problems.
func (c *Client) ExecuteScript(ctx context.Context, script string) (Result, error) {
	startTime := time.Now()

	client, err := c.getClient()
	if err != nil {
		return Result{}, err
	}

	remotePath, err := c.uploadScript(client, script)
	if err != nil {
		return Result{}, err
	}
	defer c.removeScript(client, remotePath)

	session, err := client.NewSession()
	if err != nil {
		return Result{}, &TransportError{Op: "execute", Host: c.config.Host, Err: fmt.Errorf("failed to create session: %w", err), Temporary: true}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	log.Debug().
		Str("host", c.config.Host).
		Str("script", remotePath).
		Msg("executing script")

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(remotePath)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		// Cooperative interruption, then force.
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	res := Result{
		Stdout:   strings.TrimSpace(stdoutBuf.String()),
		Stderr:   strings.TrimSpace(stderrBuf.String()),
		Duration: time.Since(startTime),
	}

	log.Debug().
		Str("host", c.config.Host).
		Int("stdout_len", len(res.Stdout)).
		Int("stderr_len", len(res.Stderr)).
		Dur("duration", res.Duration).
		Err(execErr).
		Msg("script completed")

	if execErr != nil {
		if exitErr, ok := execErr.(*ssh.ExitError); ok {
			// The script ran; its status is data, not a transport error.
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, &TransportError{Op: "execute", Host: c.config.Host, Err: execErr, Temporary: true}
	}

	return res, nil
}

// uploadScript writes the script to a remote temp file over SFTP and
// makes it executable. Scripts without a shebang run under /bin/sh.
func (c *Client) uploadScript(client *ssh.Client, script string) (string, error) {
	if !strings.HasPrefix(script, "#!") {
		script = "#!/bin/sh\n" + script
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return "", &TransportError{Op: "upload", Host: c.config.Host, Err: fmt.Errorf("failed to create sftp client: %w", err), Temporary: true}
	}
	defer sftpClient.Close()

	remotePath := path.Join(c.config.tempDir(), fmt.Sprintf("stepflow-%d.sh", time.Now().UnixNano()))

	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return "", &TransportError{Op: "upload", Host: c.config.Host, Err: err, Temporary: true}
	}

	if _, err := f.Write([]byte(script)); err != nil {
		_ = f.Close()
		return "", &TransportError{Op: "upload", Host: c.config.Host, Err: err, Temporary: true}
	}
	if err := f.Close(); err != nil {
		return "", &TransportError{Op: "upload", Host: c.config.Host, Err: err, Temporary: true}
	}

	if err := sftpClient.Chmod(remotePath, 0o700); err != nil {
		return "", &TransportError{Op: "upload", Host: c.config.Host, Err: err, Temporary: true}
	}

	return remotePath, nil
}

// removeScript deletes the uploaded script, best effort.
func (c *Client) removeScript(client *ssh.Client, remotePath string) {
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		log.Warn().Err(err).Str("path", remotePath).Msg("failed to clean up remote script")
		return
	}
	defer sftpClient.Close()

	if err := sftpClient.Remove(remotePath); err != nil {
		log.Warn().Err(err).Str("path", remotePath).Msg("failed to clean up remote script")
	}
}
