package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xhad/docvec/internal/types"
	"github.com/xhad/docvec/pkg/config"
	"github.com/xhad/docvec/pkg/llm"
	"github.com/xhad/docvec/pkg/store"
)

var (
	configPath  string
	engine      string
	databaseURL string
	sqlitePath  string
)

var rootCmd = &cobra.Command{
	Use:   "docvec",
	Short: "Chunk, embed and search documents",
	Long: `docvec ingests documents into a pgvector database as embedded chunks
and answers similarity searches over them.

Documents can be local files (.txt, .md, .html, .pdf), directories of them,
or web pages. Search results are ranked by cosine similarity.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&engine, "engine", "", "storage engine: postgres, sqlite or memory")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "SQLite database file")
}

// app holds what a command needs; embedder is nil unless requested.
type app struct {
	cfg      *config.Config
	store    types.Store
	embedder types.Embedder
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	// Command line flags override the file
	if engine != "" {
		cfg.Database.Engine = engine
	}
	if databaseURL != "" {
		cfg.Database.URL = databaseURL
	}
	if sqlitePath != "" {
		cfg.Database.SQLitePath = sqlitePath
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(joined...))
	}
	return cfg, nil
}

func newApp(ctx context.Context, withEmbedder bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	s, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	a := &app{cfg: cfg, store: s}
	if withEmbedder {
		a.embedder, err = llm.NewEmbedder(llm.EmbedderConfig{
			Provider:   cfg.Embedder.Provider,
			Model:      cfg.Embedder.Model,
			BaseURL:    cfg.Embedder.BaseURL,
			APIKey:     cfg.Embedder.APIKey,
			Dimensions: cfg.Database.VectorDim,
			Timeout:    cfg.Embedder.Timeout,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func openStore(ctx context.Context, db config.DatabaseConfig) (types.Store, error) {
	switch db.Engine {
	case config.EnginePostgres:
		return store.OpenPG(ctx, store.VectorStoreConfig{
			ConnString: db.URL,
			VectorDim:  db.VectorDim,
			Lists:      db.Lists,
			Probes:     db.Probes,
			MaxConns:   db.MaxConns,
		})
	case config.EngineSQLite:
		return store.OpenSQLite(ctx, db.SQLitePath, db.VectorDim)
	case config.EngineMemory:
		return store.NewMemory(db.VectorDim), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", db.Engine)
	}
}
