package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepflow/stepflow/pkg/messages"
)

// ProbeCommandName labels probe failures on error messages; no framework
// step has executed when a probe fails.
const ProbeCommandName = "connection-check"

// LocalTarget routes a step to the controller machine instead of the
// run's host.
const LocalTarget = "local"

// Metrics records engine activity. Implemented by telemetry.Metrics; a
// nil Metrics disables recording.
type Metrics interface {
	RecordRunStarted(host string)
	RecordRunCompleted(status string, duration time.Duration)
	RecordStep(framework, status string, duration time.Duration)
	RecordRetries(count int)
}

// Engine executes frameworks against target hosts. Hosts run
// concurrently as independent ExecutionRun instances; steps within one
// host's run are strictly ordered.
type Engine struct {
	frameworks FrameworkReader
	store      StateStore
	transports TransportFactory
	emitter    *messages.Emitter
	policy     Policy
	metrics    Metrics
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy overrides the default retry/timeout policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine.
func New(frameworks FrameworkReader, store StateStore, transports TransportFactory, emitter *messages.Emitter, opts ...Option) *Engine {
	e := &Engine{
		frameworks: frameworks,
		store:      store,
		transports: transports,
		emitter:    emitter,
		policy:     DefaultPolicy(),
		tracer:     otel.Tracer("stepflow/engine"),
		logger:     log.With().Str("component", "engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the framework against each target host concurrently and
// returns the final ExecutionRun per host, in host order. Progress is
// streamed through the emitter while execution proceeds. A framework
// that cannot be read or validated fails the whole call before any host
// is contacted.
func (e *Engine) Run(ctx context.Context, frameworkID string, hosts []string, opts RunOptions) ([]*ExecutionRun, error) {
	fw, err := e.frameworks.ReadFramework(ctx, frameworkID)
	if err != nil {
		e.emitter.EmitError(frameworkID, err, "")
		return nil, fmt.Errorf("failed to read framework %s: %w", frameworkID, err)
	}

	if len(hosts) == 0 {
		return nil, fmt.Errorf("no target hosts for framework %s", frameworkID)
	}

	runs := make([]*ExecutionRun, len(hosts))
	var wg sync.WaitGroup
	for i, host := range hosts {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			runs[i] = e.runHost(ctx, fw, host, opts)
		}(i, host)
	}
	wg.Wait()

	return runs, nil
}

// runHost drives one host's run from resume point to a terminal state.
func (e *Engine) runHost(ctx context.Context, fw *Framework, host string, opts RunOptions) *ExecutionRun {
	ctx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(
			attribute.String("framework.id", fw.ID),
			attribute.String("host", host),
		))
	defer span.End()

	run := &ExecutionRun{
		ID:          uuid.NewString(),
		FrameworkID: fw.ID,
		Host:        host,
		State:       RunStateRunning,
		Inputs:      opts.Inputs.Clone(),
		Outputs:     Bindings{},
		Defaults:    fw.Defaults.Clone(),
		StartedAt:   time.Now(),
	}

	start := 0
	if !opts.Fresh {
		info, err := e.store.GetRestartInfo(ctx, fw.ID, host)
		switch {
		case err != nil:
			e.logger.Warn().Err(err).Str("framework", fw.ID).Str("host", host).
				Msg("failed to load restart info, starting fresh")
		case info != nil:
			start = info.LastSuccessful + 1
			run.Inputs = info.Inputs.Clone()
			run.Inputs.Merge(opts.Inputs)
			run.Outputs = info.Outputs.Clone()
			run.Defaults = info.Defaults.Clone()
			e.logger.Info().Str("framework", fw.ID).Str("host", host).
				Int("resume_from", start).Msg("resuming run")
		}
	}
	run.StepIndex = start

	if err := e.store.CreateRun(ctx, run); err != nil {
		e.logger.Warn().Err(err).Str("run", run.ID).Msg("failed to record run start")
	}
	if e.metrics != nil {
		e.metrics.RecordRunStarted(host)
	}

	transports := newTransportSet(e.transports)
	defer transports.closeAll()

	// Probe before the first step. A probe failure short-circuits the
	// run without touching the restart bookmark.
	if err := e.probeHost(ctx, transports, host); err != nil {
		if IsCancelled(err) {
			e.finish(ctx, run, RunStateCancelled, nil)
			return run
		}
		e.emitter.EmitError(ProbeCommandName, err, host)
		e.finish(ctx, run, RunStateFailed, err)
		return run
	}

	for i := start; i < len(fw.Commands); i++ {
		select {
		case <-ctx.Done():
			e.finish(ctx, run, RunStateCancelled, nil)
			return run
		default:
		}

		run.StepIndex = i
		cmd := fw.Commands[i]

		if err := e.runStep(ctx, transports, run, fw, i, cmd); err != nil {
			if IsCancelled(err) {
				e.finish(ctx, run, RunStateCancelled, nil)
				return run
			}
			run.Err = err
			e.finish(ctx, run, RunStateFailed, err)
			return run
		}
	}

	e.finish(ctx, run, RunStateCompleted, nil)
	return run
}

// runStep executes one step: substitution, retry policy, output-binding
// merge, bookmark persistence, final message. The bookmark is only
// advanced once the step's result is durably recorded.
func (e *Engine) runStep(ctx context.Context, transports *transportSet, run *ExecutionRun, fw *Framework, index int, cmd Command) error {
	ctx, span := e.tracer.Start(ctx, "engine.step",
		trace.WithAttributes(
			attribute.String("command", cmd.Name),
			attribute.Int("index", index),
		))
	defer span.End()

	script := renderScript(cmd.Script, run.bindings())
	targetHost := run.Host
	if cmd.Target != "" {
		targetHost = cmd.Target
	}

	t, err := transports.get(ctx, targetHost)
	if err != nil {
		e.emitter.EmitError(cmd.Name, err, run.Host)
		return &StepError{Command: cmd.Name, Host: targetHost, Index: index, Attempts: 1, Err: err}
	}

	e.emitter.EmitPartial(cmd.Name, script, "", "", run.Host)

	var timeout time.Duration
	if cmd.TimeoutMs > 0 {
		timeout = time.Duration(cmd.TimeoutMs) * time.Millisecond
	}

	started := time.Now()
	res, attempts, err := e.policy.Execute(ctx, t, targetHost, script, timeout)
	if e.metrics != nil {
		status := "succeeded"
		if err != nil {
			status = "failed"
		}
		e.metrics.RecordStep(fw.ID, status, time.Since(started))
		e.metrics.RecordRetries(attempts - 1)
	}

	if err != nil {
		if IsCancelled(err) {
			return err
		}
		stepErr := &StepError{Command: cmd.Name, Host: targetHost, Index: index, Attempts: attempts, Err: err}
		e.logger.Error().Err(stepErr).Str("class", string(Classify(err))).Msg("step failed")
		e.emitter.EmitError(cmd.Name, stepErr, run.Host)
		return stepErr
	}

	outputs, perr := parseOutputs(res.Stdout)
	if perr != nil {
		e.logger.Warn().Err(perr).Str("command", cmd.Name).Msg("ignoring unparsable output bindings")
	} else if len(outputs) > 0 {
		run.Outputs.Merge(outputs)
	}

	info := &RestartInfo{
		FrameworkID:    fw.ID,
		Host:           run.Host,
		LastSuccessful: index,
		Inputs:         run.Inputs.Clone(),
		Outputs:        run.Outputs.Clone(),
		Defaults:       run.Defaults.Clone(),
		UpdatedAt:      time.Now(),
	}
	if err := e.store.SaveRestartInfo(ctx, info); err != nil {
		saveErr := fmt.Errorf("failed to persist restart info after step %d: %w", index, err)
		e.emitter.EmitError(cmd.Name, saveErr, run.Host)
		return saveErr
	}

	e.emitter.EmitStandard(cmd.Name, res.Stderr, res.Stdout, res.ExitCode, run.Host)
	return nil
}

// probeHost dials the run's host and checks reachability within the
// probe timeout.
func (e *Engine) probeHost(ctx context.Context, transports *transportSet, host string) error {
	dialCtx, cancel := context.WithTimeout(ctx, e.policy.ProbeTimeout)
	t, err := transports.get(dialCtx, host)
	cancel()
	if err != nil {
		return err
	}
	return e.policy.Probe(ctx, t, host)
}

// finish moves the run to a terminal state and records it.
func (e *Engine) finish(ctx context.Context, run *ExecutionRun, state RunState, err error) {
	run.State = state
	run.Err = err
	run.CompletedAt = time.Now()

	if serr := e.store.FinishRun(ctx, run); serr != nil {
		e.logger.Warn().Err(serr).Str("run", run.ID).Msg("failed to record run completion")
	}
	if e.metrics != nil {
		e.metrics.RecordRunCompleted(string(state), run.CompletedAt.Sub(run.StartedAt))
	}

	e.logger.Info().
		Str("run", run.ID).
		Str("framework", run.FrameworkID).
		Str("host", run.Host).
		Str("state", string(state)).
		Msg("run finished")
}

// transportSet lazily dials and caches transports per target host for
// the duration of one run.
type transportSet struct {
	factory TransportFactory
	mu      sync.Mutex
	open    map[string]Transport
}

func newTransportSet(factory TransportFactory) *transportSet {
	return &transportSet{
		factory: factory,
		open:    make(map[string]Transport),
	}
}

func (s *transportSet) get(ctx context.Context, host string) (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.open[host]; ok {
		return t, nil
	}

	t, err := s.factory.Dial(ctx, host)
	if err != nil {
		return nil, err
	}
	s.open[host] = t
	return t, nil
}

func (s *transportSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for host, t := range s.open {
		if err := t.Close(); err != nil {
			log.Debug().Err(err).Str("host", host).Msg("failed to close transport")
		}
	}
	s.open = make(map[string]Transport)
}
