package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/domsphere/siteintel/internal/atlas"
	"github.com/domsphere/siteintel/internal/config"
	"github.com/domsphere/siteintel/internal/embedding"
	"github.com/domsphere/siteintel/internal/fetcher"
	"github.com/domsphere/siteintel/internal/logging"
	"github.com/domsphere/siteintel/internal/pipeline"
	"github.com/domsphere/siteintel/internal/site"
	"github.com/domsphere/siteintel/internal/sitemap"
	"github.com/domsphere/siteintel/internal/store/memory"
	"github.com/domsphere/siteintel/internal/store/postgres"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "siteintel",
		Short: "Site intelligence pipeline: crawl, map, snapshot and search websites.",
		Long: `siteintel builds a navigable model of a website: a canonical page
registry from breadth-first crawls, structural DOM snapshots for selector
inference, and an embedding index for semantic page search.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// bootstrap loads config, builds the logger and wires the pipeline service.
// The returned cleanup closes the store and flushes the logger.
func bootstrap(ctx context.Context) (*pipeline.Service, config.Config, *zap.Logger, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, config.Config{}, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, config.Config{}, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	var store site.Store
	if cfg.DB.DSN != "" {
		store, err = postgres.New(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DBLifetime(),
		})
		if err != nil {
			return nil, config.Config{}, nil, nil, fmt.Errorf("init store: %w", err)
		}
		logger.Info("using postgres store")
	} else {
		store = memory.New()
		logger.Warn("no db.dsn configured, using in-memory store")
	}

	var provider site.EmbeddingProvider = embedding.Disabled{}
	if cfg.Embedding.BaseURL != "" {
		provider, err = embedding.NewHTTPProvider(embedding.ProviderConfig{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.EmbeddingTimeout(),
		})
		if err != nil {
			store.Close()
			return nil, config.Config{}, nil, nil, fmt.Errorf("init embedding provider: %w", err)
		}
	} else {
		logger.Warn("no embedding.base_url configured, embed and search are disabled")
	}

	fetchClient := fetcher.New(fetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Accept:    cfg.Fetch.Accept,
		Timeout:   cfg.FetchTimeout(),
	})
	crawler := sitemap.New(fetchClient, sitemap.Config{
		MaxPages:    cfg.Sitemap.MaxPages,
		QueueFanout: cfg.Sitemap.QueueFanout,
	}, logging.ForSubsystem(logger, "sitemap"))
	builder := atlas.New(cfg.Atlas.MaxElements)
	index := embedding.NewIndex(store, provider, logging.ForSubsystem(logger, "embedding"))

	svc := pipeline.New(store, fetchClient, crawler, builder, index, pipeline.Config{
		EmbedBatchLimit:   cfg.Embedding.BatchLimit,
		DefaultCrawlDepth: cfg.Sitemap.DefaultDepth,
	}, logging.ForSubsystem(logger, "pipeline"))

	cleanup := func() {
		store.Close()
		_ = logger.Sync()
	}
	return svc, cfg, logger, cleanup, nil
}
