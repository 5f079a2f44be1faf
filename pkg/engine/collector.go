package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of engine spans.
const tracerName = "github.com/openfroyo/lxd-inventory/pkg/engine"

// Collector enumerates projects and fetches instances of an endpoint.
type Collector struct {
	factory  ClientFactory
	logger   zerolog.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// NewCollector creates a collector that builds clients with factory.
func NewCollector(factory ClientFactory, logger zerolog.Logger, recorder Recorder) *Collector {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Collector{
		factory:  factory,
		logger:   logger.With().Str("component", "collector").Logger(),
		recorder: recorder,
		tracer:   otel.Tracer(tracerName),
	}
}

// Collect returns every instance of the endpoint's selected projects.
// It never fails: unreachable endpoints and failing projects are logged
// and contribute no instances.
func (c *Collector) Collect(ctx context.Context, cfg EndpointConfig) []Instance {
	ctx, span := c.tracer.Start(ctx, "collector.collect", trace.WithAttributes(
		attribute.String("lxd.endpoint", cfg.Name),
		attribute.String("lxd.endpoint_url", cfg.Endpoint),
	))
	defer span.End()

	logger := c.logger.With().Str("endpoint", cfg.Name).Logger()

	client, err := c.factory(cfg)
	if err != nil {
		if !IsFetch(err) {
			err = NewFetchError("could not create client", err).
				WithEndpoint(cfg.Name).
				WithCode(ErrCodeUnreachable)
		}
		c.recorder.RecordError(string(ErrorClassFetch), codeOf(err))
		c.fail(span, err)
		logger.Warn().Err(err).Msg("Endpoint unavailable, skipping")
		return nil
	}

	projects := c.resolveProjects(ctx, client, cfg, logger)
	span.SetAttributes(attribute.StringSlice("lxd.projects", projects))

	var all []Instance
	for _, project := range projects {
		instances, err := c.fetchInstances(ctx, client, cfg, project)
		if err != nil {
			c.fail(span, err)
			logger.Warn().Err(err).Str("project", project).Msg("Could not fetch instances from project")
			continue
		}
		logger.Debug().Str("project", project).Int("instances", len(instances)).Msg("Fetched instances")
		all = append(all, instances...)
	}

	return all
}

// resolveProjects returns the projects to query, expanding "all" and applying
// exclude_projects.
func (c *Collector) resolveProjects(ctx context.Context, client Fetcher, cfg EndpointConfig, logger zerolog.Logger) []string {
	if !cfg.Filters.Projects.All {
		if len(cfg.Filters.Projects.Names) == 0 {
			return []string{DefaultProject}
		}
		return cfg.Filters.Projects.Names
	}

	projects, err := c.listProjects(ctx, client, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not list projects, using default")
		projects = []string{DefaultProject}
	}

	kept := projects[:0:0]
	for _, project := range projects {
		if p, ok := firstProjectMatch(cfg.Filters.ExcludeProjects, project); ok {
			logger.Debug().Str("project", project).Str("pattern", p.String()).Msg("Project excluded")
			continue
		}
		kept = append(kept, project)
	}
	return kept
}

// listProjects fetches /projects and extracts project names.
func (c *Collector) listProjects(ctx context.Context, client Fetcher, cfg EndpointConfig) ([]string, error) {
	raw, err := c.fetch(ctx, client, cfg, "list_projects", "/projects")
	if err != nil {
		return nil, err
	}
	names, err := ParseProjectList(raw)
	if err != nil {
		ferr := NewFetchError("unexpected projects response", err).
			WithEndpoint(cfg.Name).
			WithOperation("list_projects").
			WithCode(ErrCodeMalformedPayload)
		c.recorder.RecordError(string(ferr.Class), ferr.Code)
		return nil, ferr
	}
	return names, nil
}

// fetchInstances fetches the fully expanded instances of one project.
func (c *Collector) fetchInstances(ctx context.Context, client Fetcher, cfg EndpointConfig, project string) ([]Instance, error) {
	ctx, span := c.tracer.Start(ctx, "collector.fetch_instances", trace.WithAttributes(
		attribute.String("lxd.endpoint", cfg.Name),
		attribute.String("lxd.project", project),
	))
	defer span.End()

	p := "/instances?recursion=2&project=" + url.QueryEscape(project)
	raw, err := c.fetch(ctx, client, cfg, "list_instances", p)
	if err != nil {
		return nil, err
	}

	var instances []Instance
	if err := json.Unmarshal(raw, &instances); err != nil {
		ferr := NewFetchError("unexpected instances response", err).
			WithEndpoint(cfg.Name).
			WithOperation("list_instances").
			WithCode(ErrCodeMalformedPayload).
			WithDetail("project", project)
		c.recorder.RecordError(string(ferr.Class), ferr.Code)
		c.fail(span, ferr)
		return nil, ferr
	}

	for i := range instances {
		instances[i].Project = project
		instances[i].Endpoint = cfg.Name
	}
	return instances, nil
}

// fetch performs one timed request and classifies failures.
func (c *Collector) fetch(ctx context.Context, client Fetcher, cfg EndpointConfig, operation, p string) (json.RawMessage, error) {
	start := time.Now()
	raw, err := client.Fetch(ctx, p)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		c.recorder.RecordFetch(cfg.Name, operation, "error", elapsed)
		var ee *EngineError
		if !errors.As(err, &ee) {
			err = NewFetchError(fmt.Sprintf("request %s failed", p), err).
				WithEndpoint(cfg.Name).
				WithOperation(operation).
				WithCode(ErrCodeUnreachable)
		}
		c.recorder.RecordError(string(ClassOf(err)), codeOf(err))
		return nil, err
	}

	c.recorder.RecordFetch(cfg.Name, operation, "ok", elapsed)
	return raw, nil
}

func (c *Collector) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ParseProjectList extracts project names from a /1.0/projects response.
// Accepted shapes: a list of project URLs ("/1.0/projects/default"), a list
// of plain names, a list of project objects, or an object keyed by name.
func ParseProjectList(raw json.RawMessage) ([]string, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		names := make([]string, 0, len(list))
		for _, item := range list {
			name, err := projectNameFromItem(item)
			if err != nil {
				return nil, err
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			return nil, errors.New("empty project list")
		}
		return names, nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err == nil && len(keyed) > 0 {
		names := make([]string, 0, len(keyed))
		for name := range keyed {
			names = append(names, name)
		}
		slices.Sort(names)
		return names, nil
	}

	return nil, errors.New("projects response is neither a list nor an object")
}

func projectNameFromItem(item json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		if strings.Contains(s, "/") {
			u, err := url.Parse(s)
			if err != nil {
				return "", fmt.Errorf("invalid project url %q: %w", s, err)
			}
			s = path.Base(u.Path)
		}
		if s == "" || s == "." || s == "/" {
			return "", fmt.Errorf("invalid project entry %q", string(item))
		}
		return s, nil
	}

	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(item, &obj); err == nil && obj.Name != "" {
		return obj.Name, nil
	}

	return "", fmt.Errorf("invalid project entry %s", string(item))
}

func firstProjectMatch(patterns []Pattern, project string) (Pattern, bool) {
	for _, p := range patterns {
		if p.MatchesProject(project) {
			return p, true
		}
	}
	return Pattern{}, false
}

func codeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
