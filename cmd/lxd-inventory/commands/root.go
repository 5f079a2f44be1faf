package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/lxd-inventory/pkg/config"
	"github.com/openfroyo/lxd-inventory/pkg/telemetry"
)

// ErrHostNotFound is returned by --host when no host answers to the name.
// The empty result has already been written when it is returned.
var ErrHostNotFound = errors.New("host not found")

// options carries the flag values shared by every command.
type options struct {
	version string
	getenv  func(string) string

	// Global flags
	configPath string
	verbose    bool
	logFormat  string
	logFile    string

	// Resolution overrides
	endpoints        []string
	status           []string
	types            []string
	projects         []string
	allProjects      bool
	profiles         []string
	tags             []string
	ignoreInterfaces []string
	preferIPv6       bool
	hostnameFormat   string

	// Output
	output string
	yaml   bool

	// Observability and history
	historyDB     string
	metricsFile   string
	metricsListen string
	traceExporter string
	traceEndpoint string

	telemetry *telemetry.Telemetry
}

func newOptions(version string) *options {
	return &options{
		version: version,
		getenv:  os.Getenv,
	}
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	opts := newOptions(version)
	rootCmd := newRootCommand(opts, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, opts.shutdown())
}

func newRootCommand(opts *options, commit, buildDate string) *cobra.Command {
	var (
		list bool
		host string
	)

	rootCmd := &cobra.Command{
		Use:   "lxd-inventory",
		Short: "Ansible dynamic inventory for LXD",
		Long: `lxd-inventory builds an Ansible dynamic inventory from one or more LXD
endpoints.

Instances are collected from every selected project, filtered by status,
type, profile, tags and exclude patterns, given a unique inventory hostname
and an address, and grouped by type, status, profile, project and endpoint.

Configuration is read from --config, $LXD_INVENTORY_CONFIG,
./lxd_inventory.yml or /etc/lxd-inventory/config.yml. Command-line filters
override the environment, global_defaults and per-endpoint settings.`,
		Example: `  # Full inventory as JSON
  lxd-inventory --list

  # Variables of one host
  lxd-inventory --host web1

  # Running containers of two projects, as YAML
  lxd-inventory --list --yaml --status running --type container --project default,staging

  # Only hosts tagged env=prod from the lab endpoint
  lxd-inventory --list --endpoint lab --tag env=prod`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", opts.version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupTelemetry(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case host != "":
				return opts.runHost(cmd, host)
			case list:
				return opts.runList(cmd)
			default:
				return cmd.Help()
			}
		},
	}

	rootCmd.Flags().BoolVar(&list, "list", false, "output the full inventory")
	rootCmd.Flags().StringVar(&host, "host", "", "output the variables of one host")
	rootCmd.MarkFlagsMutuallyExclusive("list", "host")

	// Persistent flags available to all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file path")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&opts.logFormat, "log-format", "console", "log format (console, json)")
	flags.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")

	flags.StringSliceVar(&opts.endpoints, "endpoint", nil, "restrict to these configured endpoints")
	flags.StringSliceVar(&opts.status, "status", nil, "include only these statuses (running, stopped, frozen, error, all)")
	flags.StringSliceVar(&opts.types, "type", nil, "include only these types (container, virtual-machine, vm, all)")
	flags.StringSliceVar(&opts.projects, "project", nil, "collect these projects")
	flags.BoolVar(&opts.allProjects, "all-projects", false, "collect every project (overrides --project)")
	flags.StringSliceVar(&opts.profiles, "profile", nil, "include only instances with one of these profiles")
	flags.StringArrayVar(&opts.tags, "tag", nil, "tag filter: k=v, k!=v, k or !k (repeatable, comma separated)")
	flags.StringSliceVar(&opts.ignoreInterfaces, "ignore-interfaces", nil, "interfaces never used for ansible_host")
	flags.BoolVar(&opts.preferIPv6, "prefer-ipv6", false, "prefer IPv6 addresses for ansible_host")
	flags.StringVar(&opts.hostnameFormat, "hostname-format", "", "hostname template, e.g. {name}-{project}")

	flags.StringVarP(&opts.output, "output", "o", "", "write output to this file instead of stdout")
	flags.BoolVar(&opts.yaml, "yaml", false, "output YAML instead of JSON")

	flags.StringVar(&opts.historyDB, "history-db", "", "record runs in this SQLite database")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write run metrics to this Prometheus textfile")
	flags.StringVar(&opts.traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	flags.StringVar(&opts.traceEndpoint, "trace-endpoint", "", "OTLP gRPC endpoint for --trace-exporter=otlp")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newWatchCommand(opts))

	return rootCmd
}

// overrides converts the resolution flags into config overrides.
func (o *options) overrides(cmd *cobra.Command) config.Overrides {
	ov := config.Overrides{
		Endpoints:        o.endpoints,
		Status:           o.status,
		Type:             o.types,
		Projects:         o.projects,
		AllProjects:      o.allProjects,
		Profiles:         o.profiles,
		Tags:             o.tags,
		IgnoreInterfaces: o.ignoreInterfaces,
		HostnameFormat:   o.hostnameFormat,
	}
	if cmd.Flags().Changed("prefer-ipv6") {
		prefer := o.preferIPv6
		ov.PreferIPv6 = &prefer
	}
	return ov
}

// logLevel is debug with --verbose, else $LOG_LEVEL, else warn.
func (o *options) logLevel() string {
	if o.verbose {
		return "debug"
	}
	if level := o.getenv("LOG_LEVEL"); level != "" {
		return level
	}
	return "warn"
}

func (o *options) setupTelemetry(cmd *cobra.Command) error {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = o.version
	cfg.Logging.Level = o.logLevel()
	cfg.Logging.Format = o.logFormat
	if o.logFile != "" {
		cfg.Logging.Output = o.logFile
	}
	cfg.Tracing.Exporter = o.traceExporter
	cfg.Tracing.Endpoint = o.traceEndpoint
	cfg.Metrics.TextfilePath = o.metricsFile
	cfg.Metrics.ListenAddress = o.metricsListen

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	o.telemetry = tel

	cmd.SetContext(tel.WithContext(cmd.Context()))
	return nil
}

// shutdown flushes telemetry once the command has finished, whatever its
// outcome.
func (o *options) shutdown() error {
	if o.telemetry == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := o.telemetry.Shutdown(ctx)
	o.telemetry = nil
	return err
}
