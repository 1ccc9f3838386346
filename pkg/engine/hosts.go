package engine

import (
	"context"
	"errors"

	"github.com/stepflow/stepflow/pkg/transports/local"
	sshx "github.com/stepflow/stepflow/pkg/transports/ssh"
)

// SSHFactory dials target hosts over SSH with a shared base
// configuration, and routes the reserved "local" target to the
// controller machine. It is the production TransportFactory.
type SSHFactory struct {
	// Base carries the shared connection settings; Host is filled in
	// per dial.
	Base sshx.Config
}

// Dial opens a transport to host. Connection failures are returned as
// connection-class errors so the retry policy treats them as transient.
func (f *SSHFactory) Dial(ctx context.Context, host string) (Transport, error) {
	if host == LocalTarget {
		return &localTransport{runner: &local.Runner{}}, nil
	}

	cfg := f.Base
	cfg.Host = host

	client, err := sshx.NewClient(&cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, &ConnectionError{Host: host, Err: err}
	}

	return &sshTransport{client: client, host: host}, nil
}

// sshTransport adapts an SSH client to the engine's Transport,
// translating transport errors into the engine's failure taxonomy.
type sshTransport struct {
	client *sshx.Client
	host   string
}

func (t *sshTransport) Probe(ctx context.Context) error {
	if err := t.client.Probe(ctx); err != nil {
		return t.classify(err)
	}
	return nil
}

func (t *sshTransport) Execute(ctx context.Context, script string) (ExecResult, error) {
	res, err := t.client.ExecuteScript(ctx, script)
	out := ExecResult{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
	}
	if err != nil {
		return out, t.classify(err)
	}
	return out, nil
}

func (t *sshTransport) Close() error {
	return t.client.Close()
}

func (t *sshTransport) classify(err error) error {
	var te *sshx.TransportError
	if errors.As(err, &te) && !te.Temporary {
		return err
	}
	return &ConnectionError{Host: t.host, Err: err}
}

// localTransport runs "local"-targeted steps on the controller machine.
type localTransport struct {
	runner *local.Runner
}

func (t *localTransport) Probe(context.Context) error { return nil }

func (t *localTransport) Execute(ctx context.Context, script string) (ExecResult, error) {
	res, err := t.runner.ExecuteScript(ctx, script)
	out := ExecResult{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
	}
	if err != nil {
		return out, err
	}
	return out, nil
}

func (t *localTransport) Close() error { return nil }

var (
	_ Transport        = (*sshTransport)(nil)
	_ Transport        = (*localTransport)(nil)
	_ TransportFactory = (*SSHFactory)(nil)
)
