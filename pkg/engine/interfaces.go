package engine

import (
	"context"
	"encoding/json"
)

// Fetcher retrieves one API path from an LXD endpoint.
// Implementations return the decoded "metadata" member of the LXD response,
// or an error classified as ErrorClassFetch.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (json.RawMessage, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, path string) (json.RawMessage, error)

// Fetch calls f(ctx, path).
func (f FetcherFunc) Fetch(ctx context.Context, path string) (json.RawMessage, error) {
	return f(ctx, path)
}

// ClientFactory creates a Fetcher for an endpoint.
// The composition root binds it to the real LXD client; tests bind fakes.
type ClientFactory func(cfg EndpointConfig) (Fetcher, error)

// Recorder receives run measurements. telemetry.Metrics implements it.
type Recorder interface {
	RecordFetch(endpoint, operation, outcome string, seconds float64)
	RecordInstances(endpoint string, discovered, included int)
	RecordExclusion(endpoint, reason string)
	RecordHostnameCollision(endpoint string)
	RecordError(class, code string)
	RecordRun(status string, hosts int, seconds float64)
}

// nopRecorder discards all measurements.
type nopRecorder struct{}

func (nopRecorder) RecordFetch(string, string, string, float64) {}
func (nopRecorder) RecordInstances(string, int, int)            {}
func (nopRecorder) RecordExclusion(string, string)              {}
func (nopRecorder) RecordHostnameCollision(string)              {}
func (nopRecorder) RecordError(string, string)                  {}
func (nopRecorder) RecordRun(string, int, float64)              {}
