// Package cli implements listingctl, the admin command line for the listing
// store, the synchronizer and the search path.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/logger"
	"github.com/spf13/cobra"
)

// Admin is the schema maintenance surface of a store.
type Admin interface {
	EnsureSchema(ctx context.Context) error
	AddColumn(ctx context.Context, spec listing.ColumnSpec) error
}

// Deduper collapses listing history.
type Deduper interface {
	DedupeHistory(ctx context.Context, id string) (int64, error)
}

// Syncer runs one synchronizer pass.
type Syncer interface {
	RunOnce(ctx context.Context) (int, error)
}

// Needs tells the Opener which collaborators a command uses.
type Needs int

const (
	NeedStore Needs = 1 << iota
	NeedIndex
)

// Env holds the collaborators a command runs against. Fields outside the
// requested Needs may be nil.
type Env struct {
	Store   listing.Store
	Admin   Admin
	Deduper Deduper
	Syncer  Syncer
	Search  query.Searcher
	Close   func()
}

// Opener builds an Env from config.
type Opener func(ctx context.Context, cfg *config.Config, needs Needs) (*Env, error)

type app struct {
	open       Opener
	configPath string
	jsonOut    bool
}

// NewRootCmd returns the listingctl command tree.
func NewRootCmd(open Opener) *cobra.Command {
	a := &app{open: open}
	root := &cobra.Command{
		Use:           "listingctl",
		Short:         "Administer rental listings and their search index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "configs/development.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		a.initSchemaCmd(),
		a.statsCmd(),
		a.showCmd(),
		a.listCmd(),
		a.historyCmd(),
		a.addColumnCmd(),
		a.dedupeCmd(),
		a.syncCmd(),
		a.searchCmd(),
	)
	return root
}

// env loads config, sets up logging and opens what the command needs.
func (a *app) env(cmd *cobra.Command, needs Needs) (*Env, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, "text")
	env, err := a.open(cmd.Context(), cfg, needs)
	if err != nil {
		return nil, err
	}
	if env.Close == nil {
		env.Close = func() {}
	}
	return env, nil
}

func (a *app) printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

var errUnsupported = errors.New("operation not supported by this store")
