// Package telemetry provides logging, tracing and metrics for the inventory.
//
// The telemetry package wires zerolog, OpenTelemetry and Prometheus together.
// Everything it writes goes to standard error or to files: standard output
// carries the inventory document and must stay clean for Ansible.
//
// # Usage
//
// Initialize telemetry at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Level = "debug"
//	cfg.Metrics.TextfilePath = "/var/lib/node_exporter/lxd_inventory.prom"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	gen := engine.NewGenerator(factory, tel.Logger.Zerolog(), tel.Metrics)
//
// # Logging
//
// Components receive a zerolog.Logger and derive a child carrying a
// "component" field. Log levels: trace, debug, info, warn, error.
//
// # Tracing
//
// NewTracer installs the global tracer provider. The engine creates spans for
// each run, endpoint and project, and the LXD client adds one span per HTTP
// request. Exporters:
//
//   - none: spans are not recorded (default)
//   - stdout: spans are pretty-printed to standard error
//   - otlp: spans are sent to an OTLP/gRPC collector
//
// # Metrics
//
// Metrics implements engine.Recorder. One-shot runs can write a node exporter
// textfile on shutdown; the watch command serves /metrics over HTTP.
//
//	lxd_inventory_fetches_total{endpoint,operation,outcome}
//	lxd_inventory_fetch_duration_seconds{endpoint,operation}
//	lxd_inventory_instances_discovered{endpoint}
//	lxd_inventory_instances_included{endpoint}
//	lxd_inventory_instances_excluded_total{endpoint,reason}
//	lxd_inventory_hostname_collisions_total{endpoint}
//	lxd_inventory_errors_by_class_total{class}
//	lxd_inventory_errors_by_code_total{code}
//	lxd_inventory_runs_completed_total{status}
//	lxd_inventory_run_duration_seconds{status}
//	lxd_inventory_inventory_hosts
//	lxd_inventory_last_run_timestamp_seconds
package telemetry
