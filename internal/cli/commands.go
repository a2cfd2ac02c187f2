package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
	"github.com/spf13/cobra"
)

func (a *app) initSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-schema",
		Short: "Create the listings and scrape_events tables if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.env(cmd, NeedStore)
			if err != nil {
				return err
			}
			defer env.Close()
			if env.Admin == nil {
				return errUnsupported
			}
			if err := env.Admin.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show listing, event and price totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.env(cmd, NeedStore)
			if err != nil {
				return err
			}
			defer env.Close()
			stats, err := env.Store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(cmd, stats)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "listings\t%d\n", stats.TotalListings)
			fmt.Fprintf(tw, "scrape events\t%d\n", stats.TotalEvents)
			fmt.Fprintf(tw, "average price\t%.2f\n", stats.AveragePrice)
			fmt.Fprintf(tw, "awaiting vectorisation\t%d\n", stats.Unvectorised)
			return tw.Flush()
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <listing-id>",
		Short: "Print one stored listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(cmd, NeedStore)
			if err != nil {
				return err
			}
			defer env.Close()
			l, err := env.Store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(cmd, l)
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List listings, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.env(cmd, NeedStore)
			if err != nil {
				return err
			}
			defer env.Close()
			ls, err := env.Store.List(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(cmd, ls)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPRICE\tBEDS\tTYPE\tADDRESS\tUPDATED")
			for _, l := range ls {
				fmt.Fprintf(tw, "%s\t%.0f\t%d\t%s\t%s\t%s\n",
					l.ID, l.Price, l.Bedrooms, l.PropertyType, l.Address, l.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of listings")
	cmd.Flags().IntVar(&offset, "offset", 0, "listings to skip")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <listing-id>",
		Short: "Show the scrape events of a listing, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(cmd, NeedStore)
			if err != nil {
				return err
			}
			defer env.Close()
			events, err := env.Store.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(cmd, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No history found.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EVENT\tSCRAPED AT\tVECTORISED\tSOURCE")
			for _, e := range events {
				fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", e.ID, e.ScrapedAt.Format(time.RFC3339), e.Vectorised, e.SourceURL)
			}
			return tw.Flush()
		},
	}
}

func (a *app) addColumnCmd() *cobra.Command {
	var spec listing.ColumnSpec
	cmd := &cobra.Command{
		Use:   "add-column",
		Short: "Add a nullable column to a listing table",
		Long: `Adds a column outside any transaction. Table, column name and type are
validated against an allow-list before any DDL is issued. Re-running with an
existing column is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := spec.Validate(); err != nil {
				return err
			}
			env, err := a.env(cmd, NeedStore)
			if err != nil {
				return err
			}
			defer env.Close()
			if env.Admin == nil {
				return errUnsupported
			}
			if err := env.Admin.AddColumn(cmd.Context(), spec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "column %s.%s ready\n", spec.Table, spec.Column)
			return nil
		},
	}
	cmd.Flags().StringVar(&spec.Table, "table", "listings", "table to alter")
	cmd.Flags().StringVar(&spec.Column, "column", "", "column name")
	cmd.Flags().StringVar(&spec.Type, "type", "TEXT", "column type")
	cmd.MarkFlagRequired("column")
	return cmd
}

func (a *app) dedupeCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "dedupe-history [listing-id]",
		Short: "Collapse a listing's history to its earliest event",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = strings.TrimSpace(args[0])
			}
			if id == "" && !all {
				return errors.New("pass a listing id or --all")
			}
			env, err := a.env(cmd, NeedStore)
			if err != nil {
				return err
			}
			defer env.Close()
			if env.Deduper == nil {
				return errUnsupported
			}
			n, err := env.Deduper.DedupeHistory(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d duplicate events\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "deduplicate every listing")
	return cmd
}

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one vectorisation pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := a.env(cmd, NeedStore|NeedIndex)
			if err != nil {
				return err
			}
			defer env.Close()
			n, err := env.Syncer.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "embedded %d listings\n", n)
			return nil
		},
	}
}

func (a *app) searchCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Run a semantic search against the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.env(cmd, NeedIndex)
			if err != nil {
				return err
			}
			defer env.Close()
			matches, err := env.Search.Search(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			if a.jsonOut {
				return a.printJSON(cmd, matches)
			}
			if len(matches) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
				return nil
			}
			for i, m := range matches {
				doc := m.Document
				if len(doc) > 80 {
					doc = doc[:77] + "..."
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s (%.4f) %s\n", i+1, m.ID, m.Distance, doc)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 10, "number of results")
	return cmd
}
