// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/blackbox/internal/api"
	"github.com/ManuGH/blackbox/internal/config"
	"github.com/ManuGH/blackbox/internal/incident"
	"github.com/ManuGH/blackbox/internal/inventory"
	"github.com/ManuGH/blackbox/internal/retention"
)

func newListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the newest incident bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be >= 1")
			}
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			entries, err := inventory.List(cfg.IncidentDir(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No incidents in %s\n", cfg.IncidentDir())
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tSIZE\tHEADLINE")
			for _, e := range entries {
				created := "-"
				if !e.CreatedAt.IsZero() {
					created = e.CreatedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.ID, created, e.Size, e.Headline)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", api.DefaultListLimit, "maximum number of bundles to show")
	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one incident report and its bundle contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			d, err := inventory.Show(cfg.IncidentDir(), incident.ID(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Bundle:   %s (%d bytes)\n", d.Path, d.Size)
			fmt.Fprintf(out, "Files:\n")
			for _, f := range d.Files {
				fmt.Fprintf(out, "  %s\n", f)
			}
			fmt.Fprintln(out)
			return incident.WriteJSON(out, d.Report)
		},
	}
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy to the incident directory once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			policy := cfg.RetentionPolicy()
			stats := retention.NewManager(nil, nil).Enforce(cfg.IncidentDir(), policy)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Policy:   %s\n", policy)
			fmt.Fprintf(out, "Scanned:  %d\n", stats.Scanned)
			fmt.Fprintf(out, "Deleted:  %d (%d bytes)\n", stats.Deleted, stats.BytesDeleted)
			fmt.Fprintf(out, "Failures: %d\n", stats.DeleteFailures)
			fmt.Fprintf(out, "Remaining: %d bundles, %d bytes\n", stats.FinalCount, stats.FinalBytes)
			if stats.DeleteFailures > 0 {
				return fmt.Errorf("%d bundles could not be deleted", stats.DeleteFailures)
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, loader, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := config.Render(cfg, true)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# source: %s\n", loader.Path())
			for _, w := range loader.Warnings() {
				fmt.Fprintf(out, "# clamped: %s\n", w)
			}
			_, err = out.Write(data)
			return err
		},
	}
}
