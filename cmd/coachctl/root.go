package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/coach-labs/internal/catalog"
	"github.com/ashureev/coach-labs/internal/coach"
	"github.com/ashureev/coach-labs/internal/domain"
	"github.com/ashureev/coach-labs/internal/session"
	"github.com/ashureev/coach-labs/internal/store"
)

var version = "dev"

var errOffline = errors.New("coachctl does not call the generator")

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	dbPath      string
	catalogPath string
	debug       bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "coachctl",
		Short: "coachctl - operator tool for the coaching service",
		Long: `coachctl validates and prints the phase catalog and inspects, exports,
resets or finalizes coaching sessions stored in the service database.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("DB_PATH", "./data/coach.db"), "SQLite database path")
	cmd.PersistentFlags().StringVar(&opts.catalogPath, "catalog", os.Getenv("CATALOG_PATH"), "Phase catalog file (default: built-in)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		level := slog.LevelWarn
		if opts.debug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	}

	cmd.AddCommand(newCatalogCommand(opts))
	cmd.AddCommand(newSessionCommand(opts))
	cmd.AddCommand(newProgramCommand(opts))

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// offlineGenerator satisfies the generator ports for commands that never
// produce a reply.
type offlineGenerator struct{}

func (offlineGenerator) Generate(context.Context, string, []domain.Message) (coach.Reply, error) {
	return coach.Reply{}, errOffline
}

func (offlineGenerator) GenerateStructured(context.Context, string, []byte) (json.RawMessage, error) {
	return nil, errOffline
}

// openOrchestrator builds an orchestrator over the database at opts.dbPath.
// The returned func closes the database.
func openOrchestrator(opts *globalOptions) (*coach.Orchestrator, func(), error) {
	cat, err := catalog.Load(opts.catalogPath)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(opts.dbPath); err != nil {
		return nil, nil, fmt.Errorf("database %s: %w", opts.dbPath, err)
	}
	repo, err := store.NewSQLite(opts.dbPath)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := repo.Close(); err != nil {
			slog.Warn("Failed to close repository", "error", err)
		}
	}

	cache, err := session.NewCache(16, repo)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	orch, err := coach.New(coach.Deps{
		Catalog:    cat,
		Sessions:   cache,
		Text:       offlineGenerator{},
		Structured: offlineGenerator{},
		Records:    repo,
		Plans:      repo,
		Sink:       repo,
		Logger:     slog.Default(),
	}, coach.DefaultOptions())
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return orch, closeFn, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
