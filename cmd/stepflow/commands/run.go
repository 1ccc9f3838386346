package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stepflow/stepflow/pkg/config"
	"github.com/stepflow/stepflow/pkg/engine"
	"github.com/stepflow/stepflow/pkg/messages"
	"github.com/stepflow/stepflow/pkg/telemetry"
	sshx "github.com/stepflow/stepflow/pkg/transports/ssh"
)

func newRunCommand() *cobra.Command {
	var (
		hosts  []string
		inputs []string
		fresh  bool
	)

	cmd := &cobra.Command{
		Use:   "run <framework-id>",
		Short: "Run a framework against target hosts",
		Long: `Execute a framework's ordered commands against one or more hosts.

Each host runs independently and concurrently. If a previous run of the
same framework against a host was interrupted, execution resumes from
the step after the last successful one with the saved bindings, unless
--fresh is given.

Progress messages are streamed to stdout as execution proceeds.`,
		Example: `  # Run against two hosts
  stepflow run deploy-nginx --host web1 --host web2

  # Run with input bindings
  stepflow run deploy-nginx --host web1 --input version=1.2.3

  # Ignore the saved resume point
  stepflow run deploy-nginx --host web1 --fresh`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frameworkID := args[0]
			ctx := cmd.Context()

			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			store, err := app.openStore(ctx)
			if err != nil {
				return err
			}
			fwService, err := app.openFrameworks()
			if err != nil {
				return err
			}

			tele, err := setupTelemetry(app.cfg)
			if err != nil {
				return err
			}
			defer tele.shutdown(ctx)

			// Pick up definition edits while the run is in flight.
			watchCtx, stopWatch := context.WithCancel(ctx)
			defer stopWatch()
			go func() {
				if err := fwService.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
					app.logger.WithError(err).Warn("framework watcher stopped")
				}
			}()

			runInputs, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			emitter := messages.NewEmitter(messages.NewSequence())
			defer emitter.Close()

			stream, err := emitter.Subscribe(ctx)
			if err != nil {
				return err
			}
			printed := make(chan struct{})
			go func() {
				defer close(printed)
				for m := range stream {
					printMessage(m)
				}
			}()

			eng := engine.New(fwService, store, sshFactory(app.cfg), emitter,
				engine.WithPolicy(policyFromConfig(app.cfg)),
				engine.WithMetrics(tele.metrics),
				engine.WithLogger(app.logger.NewComponentLogger("engine").Zerolog()),
			)

			runs, err := eng.Run(ctx, frameworkID, hosts, engine.RunOptions{
				Fresh:  fresh,
				Inputs: runInputs,
			})

			// Let buffered messages drain before the summary prints.
			if cerr := emitter.Close(); cerr != nil {
				app.logger.WithError(cerr).Warn("failed to close message channel")
			}
			<-printed

			if err != nil {
				return err
			}

			failed := 0
			for _, run := range runs {
				if run.State != engine.RunStateCompleted {
					failed++
				}
				fmt.Fprintf(os.Stdout, "%s: %s\n", run.Host, run.State)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d hosts did not complete", failed, len(runs))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&hosts, "host", "H", nil, "target hosts (repeatable; \"local\" runs on this machine)")
	cmd.Flags().StringSliceVarP(&inputs, "input", "i", nil, "input bindings (key=value)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "start from step 0, ignoring the saved resume point")
	_ = cmd.MarkFlagRequired("host")

	return cmd
}

// parseInputs converts key=value pairs into bindings.
func parseInputs(pairs []string) (engine.Bindings, error) {
	b := engine.Bindings{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}
		b[key] = value
	}
	return b, nil
}

// policyFromConfig applies retry overrides on top of the defaults.
func policyFromConfig(cfg *config.Config) engine.Policy {
	p := engine.DefaultPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		p.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.Delay > 0 {
		p.Delay = cfg.Retry.Delay.Std()
	}
	if cfg.Retry.StepTimeout > 0 {
		p.Timeout = cfg.Retry.StepTimeout.Std()
	}
	if cfg.Retry.ProbeTimeout > 0 {
		p.ProbeTimeout = cfg.Retry.ProbeTimeout.Std()
	}
	return p
}

// sshFactory builds the production transport factory from the config's
// SSH defaults.
func sshFactory(cfg *config.Config) *engine.SSHFactory {
	return &engine.SSHFactory{
		Base: sshx.Config{
			Port:                  cfg.SSH.Port,
			User:                  cfg.SSH.User,
			AuthMethod:            sshx.AuthMethod(cfg.SSH.AuthMethod),
			Password:              cfg.SSH.Password,
			PrivateKeyPath:        cfg.SSH.PrivateKeyPath,
			PrivateKeyPassphrase:  cfg.SSH.PrivateKeyPassphrase,
			KnownHostsPath:        cfg.SSH.KnownHostsPath,
			StrictHostKeyChecking: cfg.SSH.StrictHostKeyChecking,
			ConnectionTimeout:     cfg.SSH.ConnectionTimeout.Std(),
			RemoteTempDir:         cfg.SSH.RemoteTempDir,
		},
	}
}

// printMessage writes one progress message to stdout.
func printMessage(m messages.Message) {
	if jsonOutput {
		data, err := json.Marshal(m)
		if err != nil {
			return
		}
		fmt.Fprintln(os.Stdout, string(data))
		return
	}

	if m.Partial {
		if verbose {
			fmt.Fprintf(os.Stdout, "[%s] %s: running...\n", m.Hostname, m.Command)
		}
		return
	}

	if m.ExitCode == messages.UnfinishedExitCode {
		fmt.Fprintf(os.Stdout, "[%s] %s: ERROR: %s\n", m.Hostname, m.Command, m.Stderr)
		for _, v := range m.Validation {
			fmt.Fprintf(os.Stdout, "  %s (%s): %s\n", v.Field, v.Rule, v.Detail)
		}
		return
	}

	fmt.Fprintf(os.Stdout, "[%s] %s: exit %d\n", m.Hostname, m.Command, m.ExitCode)
	if m.Result != nil && strings.TrimSpace(*m.Result) != "" {
		fmt.Fprintln(os.Stdout, strings.TrimRight(*m.Result, "\n"))
	}
}

// runTelemetry bundles the optional metrics and tracing wiring.
type runTelemetry struct {
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

func setupTelemetry(cfg *config.Config) (*runTelemetry, error) {
	tcfg := telemetry.DefaultConfig()

	if cfg.MetricsListenAddress != "" {
		tcfg.Metrics.Enabled = true
		tcfg.Metrics.ListenAddress = cfg.MetricsListenAddress
	}
	if cfg.TracingExporter != "" {
		tcfg.Tracing.Enabled = true
		tcfg.Tracing.Exporter = cfg.TracingExporter
		tcfg.Tracing.Endpoint = cfg.TracingEndpoint
	}

	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		return nil, err
	}
	if err := metrics.StartMetricsServer(); err != nil {
		return nil, err
	}

	tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion, tcfg.Environment)
	if err != nil {
		return nil, err
	}

	return &runTelemetry{metrics: metrics, tracer: tracer}, nil
}

func (t *runTelemetry) shutdown(ctx context.Context) {
	if t.tracer != nil {
		if err := t.tracer.Shutdown(ctx); err != nil {
			log.Debug().Err(err).Msg("failed to shut down tracer")
		}
	}
}
