// Package engine resolves LXD instances into an Ansible dynamic inventory.
//
// # Overview
//
// One inventory generation walks every configured endpoint in name order and
// runs the same pipeline for each of them:
//
//  1. Collect - enumerate projects and fetch instances (Collector)
//  2. Filter - decide inclusion per instance (Evaluate)
//  3. Address - pick the connection address (ResolveAddresses)
//  4. Hostname - render, sanitize and deduplicate the host name (FormatHostname, HostnameSet)
//  5. Assemble - record host variables and group membership (Assembler)
//
// The Generator drives the whole pipeline and returns a Run carrying the
// resulting Inventory.
//
// # Core Domain Types
//
//   - EndpointConfig: the resolved connection and filter settings of one endpoint
//   - Filters: status, type, project, profile, exclusion and tag filters
//   - Pattern: one exclude_names or exclude_projects entry (exact, scoped or regex)
//   - TagPredicate: a presence or equality check on instance config, optionally negated
//   - Instance: an instance record as returned by /1.0/instances?recursion=2
//   - ResolvedHost: the host variables of one inventory entry
//   - Inventory: hostvars plus groups, rendered in the Ansible layout
//
// # Fetching
//
// The engine does not know how endpoints are reached. A ClientFactory turns an
// EndpointConfig into a Fetcher returning the metadata of one API path; the
// lxd package provides the real implementation.
//
// # Error Classification
//
// Errors are classified so the run can degrade instead of failing:
//
//   - Configuration: unknown endpoint or malformed configuration; aborts the run
//   - Fetch: unreachable endpoint or bad response; the endpoint or project is skipped
//   - FilterPattern: invalid exclude regex; the pattern is skipped
//   - Template: bad hostname template; the instance name is used
//
// Only IsFatal errors are returned to callers.
//
// # Example Usage
//
//	gen := engine.NewGenerator(lxd.Factory(), logger, metrics)
//	run, err := gen.Generate(ctx, endpoints)
//	if err != nil {
//	    return err
//	}
//	return json.NewEncoder(os.Stdout).Encode(run.Inventory)
//
// # Thread Safety
//
// A Generator may be shared, but each Generate call owns its Assembler and
// hostname set. Assembler itself is not safe for concurrent use.
package engine
