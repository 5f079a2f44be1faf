package commands

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/lxd-inventory/pkg/lxd"
	"github.com/openfroyo/lxd-inventory/pkg/telemetry"
)

func newValidateCommand(opts *options) *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the resolved endpoints",
		Long: `Validate the configuration file and print the fully resolved endpoint
configurations as YAML.

This command checks:
  - YAML or CUE syntax validity
  - Schema conformance of the raw configuration
  - Resolved endpoint settings (addresses, TLS material pairs, filters)
  - Endpoint names given with --endpoint

With --probe, every resolved endpoint is contacted and its server
information is reported.`,
		Example: `  # Validate the default configuration
  lxd-inventory validate

  # Validate a specific file with command-line overrides applied
  lxd-inventory validate --config ./inventory.yml --all-projects

  # Check that the lab endpoint is reachable and trusts us
  lxd-inventory validate --endpoint lab --probe`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tel := telemetry.FromTelemetryContext(ctx)
			logger := tel.Logger.NewComponentLogger("validate")

			endpoints, path, err := opts.resolve(ctx, cmd)
			if err != nil {
				return err
			}

			logger.Info().
				Str("path", path).
				Int("endpoints", len(endpoints)).
				Msg("Configuration is valid")

			data, err := yaml.Marshal(endpoints)
			if err != nil {
				return fmt.Errorf("failed to encode endpoints: %w", err)
			}
			out := cmd.OutOrStdout()
			if _, err := out.Write(data); err != nil {
				return err
			}

			if !probe {
				return nil
			}

			var errs []error
			for _, name := range slices.Sorted(maps.Keys(endpoints)) {
				client, err := lxd.NewClient(endpoints[name],
					lxd.WithLogger(tel.Logger.NewComponentLogger("lxd")),
					lxd.WithUserAgent(lxd.DefaultUserAgent+"/"+opts.version),
				)
				if err != nil {
					errs = append(errs, err)
					fmt.Fprintf(out, "# %s: %v\n", name, err)
					continue
				}

				server, err := client.ServerInfo(ctx)
				client.Close()
				if err != nil {
					errs = append(errs, err)
					fmt.Fprintf(out, "# %s: %v\n", name, err)
					continue
				}

				fmt.Fprintf(out, "# %s: reachable, %s %s (api %s, auth %s)\n",
					name,
					server.Environment.Server,
					server.Environment.ServerVersion,
					server.APIVersion,
					server.Auth)
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "contact every endpoint")

	return cmd
}
