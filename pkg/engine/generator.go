package engine

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Run describes one inventory generation.
type Run struct {
	ID         string    `json:"id"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Endpoints  []string  `json:"endpoints"`
	Discovered int       `json:"discovered"`
	Included   int       `json:"included"`

	// Errors counts the non-fatal errors seen during the run.
	Errors int `json:"errors"`

	Inventory *Inventory `json:"-"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Generator runs the collect, filter, resolve and assemble pipeline over a
// set of endpoints.
type Generator struct {
	factory  ClientFactory
	logger   zerolog.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// NewGenerator creates a generator that reaches endpoints through factory.
func NewGenerator(factory ClientFactory, logger zerolog.Logger, recorder Recorder) *Generator {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Generator{
		factory:  factory,
		logger:   logger,
		recorder: recorder,
		tracer:   otel.Tracer(tracerName),
	}
}

// Generate builds one inventory. Endpoints are processed sequentially in
// name order. Upstream failures degrade the inventory instead of failing
// the run; the only error returned is context cancellation, in which case
// the run and the inventory collected so far are still returned.
func (g *Generator) Generate(ctx context.Context, endpoints map[string]EndpointConfig) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
		Endpoints: slices.Sorted(maps.Keys(endpoints)),
	}

	ctx, span := g.tracer.Start(ctx, "inventory.generate", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.StringSlice("lxd.endpoints", run.Endpoints),
	))
	defer span.End()

	logger := g.logger.With().Str("run_id", run.ID).Logger()
	counter := &errorCounter{Recorder: g.recorder}
	collector := NewCollector(g.factory, logger, counter)
	assembler := NewAssembler(logger, counter)

	logger.Debug().Strs("endpoints", run.Endpoints).Msg("Generating inventory")

	var err error
	for _, name := range run.Endpoints {
		if err = ctx.Err(); err != nil {
			break
		}

		cfg := endpoints[name]
		instances := collector.Collect(ctx, cfg)

		included := 0
		for i := range instances {
			inst := &instances[i]
			verdict := Evaluate(inst, &cfg.Filters)
			if !verdict.Included {
				LogVerdict(logger, inst, verdict)
				counter.RecordExclusion(cfg.Name, verdict.Reason)
				continue
			}
			assembler.Add(inst, &cfg)
			included++
		}

		counter.RecordInstances(cfg.Name, len(instances), included)
		run.Discovered += len(instances)
		run.Included += included

		logger.Info().
			Str("endpoint", cfg.Name).
			Int("discovered", len(instances)).
			Int("included", included).
			Msg("Endpoint processed")
	}
	if err == nil {
		err = ctx.Err()
	}

	run.Inventory = assembler.Inventory()
	run.Errors = counter.errors
	run.FinishedAt = time.Now().UTC()

	switch {
	case err != nil:
		run.Status = RunStatusCancelled
	case run.Errors > 0:
		run.Status = RunStatusPartial
	default:
		run.Status = RunStatusSucceeded
	}

	span.SetAttributes(
		attribute.String("run.status", string(run.Status)),
		attribute.Int("inventory.hosts", run.Inventory.Hosts()),
	)
	g.recorder.RecordRun(string(run.Status), run.Inventory.Hosts(), run.Duration().Seconds())

	logger.Info().
		Str("status", string(run.Status)).
		Int("hosts", run.Inventory.Hosts()).
		Int("errors", run.Errors).
		Dur("duration", run.Duration()).
		Msg("Inventory generated")

	return run, err
}

// errorCounter counts the errors passing through to the wrapped recorder.
type errorCounter struct {
	Recorder
	errors int
}

func (c *errorCounter) RecordError(class, code string) {
	c.errors++
	c.Recorder.RecordError(class, code)
}
