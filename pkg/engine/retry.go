package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Policy bounds a single step's remote execution with retries and a hard
// timeout. Only connection-class failures are retried; a script that ran
// and exited nonzero may have already mutated host state and is reported
// immediately.
type Policy struct {
	// MaxAttempts is the total number of attempts per step, including
	// the first.
	MaxAttempts int

	// Delay is the constant wait between attempts.
	Delay time.Duration

	// Timeout bounds each script attempt.
	Timeout time.Duration

	// ProbeTimeout bounds each host reachability check.
	ProbeTimeout time.Duration
}

// Policy defaults.
const (
	DefaultMaxAttempts  = 3
	DefaultRetryDelay   = 3 * time.Second
	DefaultStepTimeout  = 120 * time.Second
	DefaultProbeTimeout = 10 * time.Second
)

// DefaultPolicy returns the standard retry/timeout policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		Delay:        DefaultRetryDelay,
		Timeout:      DefaultStepTimeout,
		ProbeTimeout: DefaultProbeTimeout,
	}
}

// Execute runs script on the transport, retrying connection-class
// failures up to MaxAttempts total attempts with the fixed delay.
// timeout overrides the policy timeout when positive. Returns the last
// attempt's result, the number of attempts made, and the classified
// failure, if any.
func (p Policy) Execute(ctx context.Context, t Transport, host, script string, timeout time.Duration) (ExecResult, int, error) {
	if timeout <= 0 {
		timeout = p.Timeout
	}

	var res ExecResult
	attempts := 0

	op := func() error {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		r, err := t.Execute(attemptCtx, script)
		cancel()
		res = r

		if err == nil {
			switch {
			case r.ExitCode == 0:
				return nil
			case r.ExitCode == ConnectionFailureExitCode:
				err = &ConnectionError{Host: host, Err: errors.New(r.Stderr)}
			default:
				return backoff.Permanent(&ScriptError{Host: host, ExitCode: r.ExitCode, Stderr: r.Stderr})
			}
		}

		// External cancellation wins over classification.
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		// An attempt timeout counts as a connection failure.
		if errors.Is(err, context.DeadlineExceeded) {
			err = &ConnectionError{Host: host, Err: err}
		}

		if IsConnectionFailure(err) {
			log.Warn().
				Str("host", host).
				Int("attempt", attempts).
				Err(err).
				Msg("connection failure, will retry")
			return err
		}

		return backoff.Permanent(err)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), p.retries()),
		ctx,
	)

	err := backoff.Retry(op, b)
	return res, attempts, err
}

// retries converts MaxAttempts into the backoff retry budget. Anything
// below one attempt collapses to a single attempt with no retries.
func (p Policy) retries() uint64 {
	if p.MaxAttempts < 1 {
		return 0
	}
	return uint64(p.MaxAttempts - 1)
}

// Probe checks host reachability through the transport, with the probe
// timeout and the same retry treatment as commands.
func (p Policy) Probe(ctx context.Context, t Transport, host string) error {
	op := func() error {
		probeCtx, cancel := context.WithTimeout(ctx, p.ProbeTimeout)
		err := t.Probe(probeCtx)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = &ConnectionError{Host: host, Err: err}
		}
		if IsConnectionFailure(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), p.retries()),
		ctx,
	)

	return backoff.Retry(op, b)
}

// ConnectionFailureExitCode is the remote-shell exit code reserved for
// connection failures, distinct from any script-class status.
const ConnectionFailureExitCode = 255
