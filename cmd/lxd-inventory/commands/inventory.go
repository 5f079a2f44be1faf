package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/lxd-inventory/pkg/config"
	"github.com/openfroyo/lxd-inventory/pkg/engine"
	"github.com/openfroyo/lxd-inventory/pkg/lxd"
	"github.com/openfroyo/lxd-inventory/pkg/stores"
	"github.com/openfroyo/lxd-inventory/pkg/telemetry"
)

func (o *options) runList(cmd *cobra.Command) error {
	run, err := o.generate(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	return o.write(cmd, run.Inventory)
}

func (o *options) runHost(cmd *cobra.Command, name string) error {
	run, err := o.generate(cmd.Context(), cmd)
	if err != nil {
		return err
	}

	tel := telemetry.FromTelemetryContext(cmd.Context())
	hosts := run.Inventory.Lookup(name, tel.Logger.NewComponentLogger("lookup"))
	if err := o.write(cmd, engine.HostInventory(hosts)); err != nil {
		return err
	}
	if len(hosts) == 0 {
		return fmt.Errorf("%w: %s", ErrHostNotFound, name)
	}
	return nil
}

// resolve loads the configuration file and resolves the endpoint mapping.
func (o *options) resolve(ctx context.Context, cmd *cobra.Command) (map[string]engine.EndpointConfig, string, error) {
	tel := telemetry.FromTelemetryContext(ctx)

	loader := config.NewLoader(tel.Logger.Zerolog()).WithEnv(o.getenv)
	raw, path, err := loader.LoadDefault(ctx, o.configPath)
	if err != nil {
		return nil, "", err
	}

	resolver := config.NewResolver(tel.Logger.Zerolog()).WithEnv(o.getenv)
	endpoints, err := resolver.Resolve(raw, o.overrides(cmd))
	if err != nil {
		return nil, path, err
	}
	return endpoints, path, nil
}

// generate resolves the configuration and runs one generation. Only
// configuration errors and cancellation fail it.
func (o *options) generate(ctx context.Context, cmd *cobra.Command) (*engine.Run, error) {
	tel := telemetry.FromTelemetryContext(ctx)

	ctx, span := tel.Tracer.Start(ctx, "cli.generate")
	defer span.End()

	endpoints, path, err := o.resolve(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("config.path", path))

	run, err := o.generator(tel).Generate(ctx, endpoints)
	if run != nil {
		o.recordHistory(ctx, run, path)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.AddEvent("inventory.ready", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("inventory.hosts", run.Inventory.Hosts()),
	))
	return run, nil
}

func (o *options) generator(tel *telemetry.Telemetry) *engine.Generator {
	factory := lxd.Factory(
		lxd.WithLogger(tel.Logger.NewComponentLogger("lxd")),
		lxd.WithUserAgent(lxd.DefaultUserAgent+"/"+o.version),
	)
	return engine.NewGenerator(factory, tel.Logger.Zerolog(), tel.Metrics)
}

// recordHistory stores the run when --history-db is set. Failures are
// logged; the inventory is still produced.
func (o *options) recordHistory(ctx context.Context, run *engine.Run, configPath string) {
	if o.historyDB == "" {
		return
	}
	logger := telemetry.FromTelemetryContext(ctx).Logger.NewComponentLogger("history")

	store, err := o.openStore(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("path", o.historyDB).Msg("Run history unavailable")
		return
	}
	defer store.Close()

	if err := store.RecordRun(ctx, run, configPath); err != nil {
		logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to record run")
		return
	}
	logger.Debug().Str("run_id", run.ID).Str("path", o.historyDB).Msg("Run recorded")
}

// openStore opens and migrates the history database.
func (o *options) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if o.historyDB == "" {
		return nil, fmt.Errorf("--history-db is required")
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: o.historyDB})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// encode renders v as indented JSON or, with --yaml, as YAML.
func (o *options) encode(v interface{}) ([]byte, error) {
	if o.yaml {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// write sends the encoded value to --output or stdout.
func (o *options) write(cmd *cobra.Command, v interface{}) error {
	data, err := o.encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	if o.output == "" || o.output == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return writeFileAtomic(o.output, data)
}

// writeFileAtomic replaces path so that readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
