// Package lxd is a minimal client for the LXD REST API.
//
// Only GET requests against /1.0 are issued. Responses are unwrapped from the
// standard envelope and the metadata member is handed back undecoded, so the
// engine owns the instance schema.
//
// Endpoints are either a local unix socket (unix:///var/lib/lxd/unix.socket)
// or a remote https URL authenticated with a client certificate. Requests are
// traced through otelhttp and retried with exponential backoff on transport
// errors and 429, 500, 502, 503 and 504 replies.
//
// Usage:
//
//	gen := engine.NewGenerator(lxd.Factory(lxd.WithLogger(logger)), logger, metrics)
package lxd
