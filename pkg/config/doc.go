// Package config loads the inventory configuration and resolves it into one
// engine.EndpointConfig per LXD endpoint.
//
// # Overview
//
// Configuration is read from YAML (or CUE) and checked against a built-in CUE
// schema before resolution. Files are located in this order:
//
//  1. --config
//  2. LXD_INVENTORY_CONFIG
//  3. ./lxd_inventory.yml, ./lxd_inventory.yaml, ./lxd_inventory.cue
//  4. /etc/lxd-inventory/config.yml
//
// Without any file a single "default" endpoint on the local unix socket is used.
//
// # File Layout
//
//	global_defaults:
//	  verify_ssl: true
//	  filters:
//	    status: running
//	    ignore_interfaces: [lo, docker0, lxdbr0]
//	lxd_endpoints:
//	  local:
//	    endpoint: unix:///var/snap/lxd/common/lxd/unix.socket
//	  lab:
//	    endpoint: https://lab.example:8443
//	    cert_path: ~/.config/lxc/client.crt
//	    key_path: ~/.config/lxc/client.key
//	    hostname_format: "{name}.{project}"
//	    filters:
//	      projects: all
//	      exclude_projects: ["regex:^scratch"]
//	      exclude_names: ["default/builder", "regex:tmp-"]
//	      tags:
//	        user.ansible: "true"
//	        user.legacy: {negate: true}
//
// A flat file with the endpoint keys at top level describes the "default"
// endpoint.
//
// # Precedence
//
// Each field takes the first value set by, in order: the command line, the
// endpoint, global_defaults, the LXD_* environment variables, the built-in
// default. Lists replace lower layers. Tags merge key by key. Exclude patterns
// come from configuration only.
//
// # Components
//
// Loader: locates, reads and schema-checks files, and watches them for changes.
//
// SchemaRegistry: compiled CUE definitions for the configuration tree.
//
// CUEParser: reads configuration written in CUE.
//
// Resolver: merges layers and validates the result with validator/v10.
package config
