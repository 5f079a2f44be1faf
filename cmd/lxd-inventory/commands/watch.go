package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/lxd-inventory/pkg/config"
	"github.com/openfroyo/lxd-inventory/pkg/engine"
	"github.com/openfroyo/lxd-inventory/pkg/telemetry"
)

func newWatchCommand(opts *options) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep an inventory file up to date",
		Long: `Regenerate the inventory into --output at every --interval and whenever
the configuration file changes.

A generation that fails on configuration leaves the previous file in place.
With --metrics-listen, Prometheus metrics are served while watching.`,
		Example: `  # Refresh every minute
  lxd-inventory watch --output /etc/ansible/inventory/lxd.json --interval 1m

  # Serve metrics on :9108 as well
  lxd-inventory watch --output inventory.yml --yaml --metrics-listen :9108`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output == "" || opts.output == "-" {
				return fmt.Errorf("watch requires --output")
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.watch(cmd, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "regeneration interval")
	cmd.Flags().StringVar(&opts.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")

	return cmd
}

// watch runs generations sequentially until the command context is done.
func (o *options) watch(cmd *cobra.Command, interval time.Duration) error {
	tel := telemetry.FromTelemetryContext(cmd.Context())
	logger := tel.Logger.NewComponentLogger("watch")

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		return tel.Metrics.Serve(ctx, tel.Logger.NewComponentLogger("metrics"))
	})

	reload := make(chan struct{}, 1)
	loader := config.NewLoader(tel.Logger.Zerolog()).WithEnv(o.getenv)
	path, err := loader.Locate(o.configPath)
	if err != nil {
		return err
	}
	if path != "" {
		g.Go(func() error {
			return loader.Watch(ctx, path, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		})
	} else {
		logger.Info().Msg("No configuration file, regenerating on interval only")
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			o.refresh(ctx, cmd, logger)

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			case <-reload:
				logger.Info().Str("path", path).Msg("Configuration changed, regenerating")
				ticker.Reset(interval)
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// refresh runs one generation and replaces the output file. Failures are
// logged and the previous file is kept.
func (o *options) refresh(ctx context.Context, cmd *cobra.Command, logger zerolog.Logger) {
	run, err := o.generate(ctx, cmd)
	switch {
	case ctx.Err() != nil:
		return
	case err != nil:
		logger.Error().
			Err(err).
			Bool("configuration", engine.IsConfiguration(err)).
			Str("output", o.output).
			Msg("Generation failed, keeping previous inventory")
		return
	}

	if err := o.write(cmd, run.Inventory); err != nil {
		logger.Error().Err(err).Str("output", o.output).Msg("Failed to write inventory")
		return
	}

	tel := telemetry.FromTelemetryContext(ctx)
	if err := tel.Metrics.WriteTextfile(o.metricsFile); err != nil {
		logger.Warn().Err(err).Str("path", o.metricsFile).Msg("Failed to write metrics textfile")
	}

	logger.Info().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("hosts", run.Inventory.Hosts()).
		Str("output", o.output).
		Msg("Inventory written")
}
