package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/metasearch/internal/catalog"
	"github.com/xxxsen/metasearch/internal/config"
	"github.com/xxxsen/metasearch/internal/embedcache"
	"github.com/xxxsen/metasearch/internal/embedding"
	"github.com/xxxsen/metasearch/internal/handler"
	"github.com/xxxsen/metasearch/internal/job"
	"github.com/xxxsen/metasearch/internal/lifecycle"
	"github.com/xxxsen/metasearch/internal/middleware"
	"github.com/xxxsen/metasearch/internal/reindex"
	"github.com/xxxsen/metasearch/internal/repo"
	"github.com/xxxsen/metasearch/internal/schedule"
	"github.com/xxxsen/metasearch/internal/search"
	"github.com/xxxsen/metasearch/internal/stats"
	"github.com/xxxsen/metasearch/internal/vector"
)

const drainTimeout = 30 * time.Second

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "metasearch",
		Short: "metasearch indexing server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run metasearch server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
			return runServer(cfg)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func buildEmbedder(cfg *config.Config, cacheRepo *repo.EmbeddingCacheRepo) (embedding.Client, error) {
	if cfg.Embedding.Provider == "" {
		return nil, nil
	}
	client, err := embedding.New(cfg.Embedding.Provider, cfg.Embedding.Args)
	if err != nil {
		return nil, fmt.Errorf("init embedding provider: %w", err)
	}
	if cfg.Embedding.PersistentCache && cacheRepo != nil {
		client = embedcache.WrapDB(client, cacheRepo)
	}
	if cfg.Embedding.CacheSize > 0 {
		ttl := time.Duration(cfg.Embedding.CacheTTLMinutes) * time.Minute
		client = embedcache.WrapLRU(client, cfg.Embedding.CacheSize, ttl)
	}
	return client, nil
}

func runServer(cfg *config.Config) error {
	ctx := context.Background()
	logutil.GetLogger(ctx).Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("search_addr", cfg.Search.Addr),
		zap.String("embedding_provider", cfg.Embedding.Provider),
	)

	engine, err := search.NewRestEngine(cfg.Search)
	if err != nil {
		return fmt.Errorf("init search engine: %w", err)
	}

	var cacheRepo *repo.EmbeddingCacheRepo
	var runStore reindex.RunStore
	var runHistory handler.RunHistory
	if cfg.Database.DSN != "" || cfg.Database.Host != "" {
		db, err := repo.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		if err := repo.ApplyMigrations(db); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		cacheRepo = repo.NewEmbeddingCacheRepo(db)
		runRepo := repo.NewReindexRunRepo(db)
		runStore = runRepo
		runHistory = runRepo
	}

	embedder, err := buildEmbedder(cfg, cacheRepo)
	if err != nil {
		return err
	}

	tracker := stats.NewTracker()

	var vecSvc *vector.Service
	if embedder != nil {
		vecSvc, err = vector.NewService(engine, embedder, vector.ServiceConfig{
			MaxBulkActions: cfg.Reindex.MaxBulkActions,
			MaxBulkBytes:   cfg.Reindex.MaxBulkBytes,
		}, &stats.BulkSink{Tracker: tracker, Stage: "vector"})
		if err != nil {
			return fmt.Errorf("init vector service: %w", err)
		}
		if err := vecSvc.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("ensure vector index: %w", err)
		}
	} else {
		logutil.GetLogger(ctx).Info("no embedding provider configured, vector indexing disabled")
	}

	source, err := catalog.NewClient(cfg.Reindex.CatalogAddr)
	if err != nil {
		return fmt.Errorf("init catalog client: %w", err)
	}

	dispatcher := lifecycle.NewDispatcher()
	if vecSvc != nil {
		dispatcher.Register(vector.NewHandler(vecSvc))
	}

	base := reindex.NewDefaultHandler(engine, source, reindex.DefaultHandlerConfig{
		PageSize:       cfg.Reindex.PageSize,
		MaxBulkActions: cfg.Reindex.MaxBulkActions,
		MaxBulkBytes:   cfg.Reindex.MaxBulkBytes,
	}, &stats.BulkSink{Tracker: tracker, Stage: "reader"})
	reindexHandler := reindex.NewWithEmbeddings(base, engine, vecSvc, source, cfg.Reindex.PageSize)

	runner := reindex.NewRunner(reindexHandler, runStore)

	scheduler := schedule.NewCronScheduler()
	if cfg.Jobs.ReindexSpec != "" {
		if err := scheduler.AddJob(job.NewReindexJob(runner, cfg.Reindex.EntityTypes), cfg.Jobs.ReindexSpec); err != nil {
			return fmt.Errorf("schedule reindex job: %w", err)
		}
	}
	if cacheRepo != nil {
		activeModel := ""
		if embedder != nil {
			activeModel = embedder.ModelID()
		}
		if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(cacheRepo, cfg.Jobs.CacheMaxAgeDays, activeModel), cfg.Jobs.CacheCleanupSpec); err != nil {
			return fmt.Errorf("schedule cache cleanup job: %w", err)
		}
	}

	deps := handler.RouterDeps{
		Vector:      handler.NewVectorHandler(vecSvc),
		Reindex:     handler.NewReindexHandler(runner, cfg.Reindex.EntityTypes, runHistory),
		Stats:       handler.NewStatsHandler(tracker),
		Events:      handler.NewEventHandler(dispatcher),
		Aggregation: handler.NewAggregationHandler(engine),
	}

	web, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(nil),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	sigctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(sigctx)

	go func() {
		if err := web.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(ctx).Error("server error", zap.Error(err))
		}
	}()

	<-sigctx.Done()
	logutil.GetLogger(ctx).Info("server stopping...")
	scheduler.Stop()
	if !dispatcher.Drain(drainTimeout) {
		logutil.GetLogger(ctx).Warn("lifecycle handlers still running at shutdown")
	}
	if vecSvc != nil {
		if err := vecSvc.Flush(ctx); err != nil {
			logutil.GetLogger(ctx).Warn("final vector flush failed", zap.Error(err))
		}
	}
	if embedder != nil {
		if err := embedder.Close(); err != nil {
			logutil.GetLogger(ctx).Warn("close embedding client failed", zap.Error(err))
		}
	}
	return nil
}
