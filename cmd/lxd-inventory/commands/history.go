package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openfroyo/lxd-inventory/pkg/stores"
)

func newHistoryCommand(opts *options) *cobra.Command {
	var (
		runID      string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded inventory runs",
		Long: `List the inventory runs recorded with --history-db, or the hosts of one run.

Runs are listed newest first with their status, host count and error count.`,
		Example: `  # Recent runs
  lxd-inventory history --history-db /var/lib/lxd-inventory/history.db

  # Hosts produced by one run
  lxd-inventory history --history-db history.db --run 3f0c...

  # What changed between two runs
  lxd-inventory history diff --history-db history.db OLD_RUN NEW_RUN`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if runID != "" {
				run, err := store.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				hosts, err := store.ListRunHosts(ctx, runID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, struct {
						Run   *stores.RunRecord    `json:"run"`
						Hosts []*stores.HostRecord `json:"hosts"`
					}{run, hosts})
				}
				return printHosts(cmd, run, hosts)
			}

			runs, err := store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, runs)
			}
			return printRuns(cmd, runs)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "show the hosts of this run")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	cmd.AddCommand(newHistoryDiffCommand(opts))
	cmd.AddCommand(newHistoryPruneCommand(opts))

	return cmd
}

func newHistoryDiffCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "diff FROM TO",
		Short: "Show hosts added and removed between two runs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			diff, err := store.DiffRuns(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if diff.Empty() {
				fmt.Fprintln(out, "No changes")
				return nil
			}
			for _, h := range diff.Added {
				fmt.Fprintf(out, "+ %s\n", h)
			}
			for _, h := range diff.Removed {
				fmt.Fprintf(out, "- %s\n", h)
			}
			return nil
		},
	}
}

func newHistoryPruneCommand(opts *options) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := opts.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.PruneRuns(ctx, keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s)\n", deleted)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 100, "number of runs to keep")

	return cmd
}

func printRuns(cmd *cobra.Command, runs []*stores.RunRecord) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tHOSTS\tERRORS\tDURATION\tENDPOINTS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID,
			humanize.Time(r.StartedAt),
			r.Status,
			r.Hosts,
			r.Errors,
			r.Duration().Round(time.Millisecond),
			strings.Join(r.Endpoints, ","))
	}
	return w.Flush()
}

func printHosts(cmd *cobra.Command, run *stores.RunRecord, hosts []*stores.HostRecord) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s, %s hosts, started %s\n\n",
		run.ID, run.Status, humanize.Comma(int64(run.Hosts)), run.StartedAt.Format("2006-01-02 15:04:05 MST"))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOSTNAME\tNAME\tPROJECT\tENDPOINT\tSTATUS\tTYPE\tADDRESS")
	for _, h := range hosts {
		addr := "-"
		if h.AnsibleHost != nil {
			addr = *h.AnsibleHost
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			h.Hostname, h.Name, h.Project, h.Endpoint, h.Status, h.Type, addr)
	}
	return w.Flush()
}

// writeJSON writes v to stdout as indented JSON.
func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
