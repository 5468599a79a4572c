package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/compiler"
	"github.com/kailas-cloud/imgdex/internal/config"
	"github.com/kailas-cloud/imgdex/internal/db"
	dbPostgres "github.com/kailas-cloud/imgdex/internal/db/postgres"
	dbRedis "github.com/kailas-cloud/imgdex/internal/db/redis"
	dbSQLite "github.com/kailas-cloud/imgdex/internal/db/sqlite"
	"github.com/kailas-cloud/imgdex/internal/domain"
	logpkg "github.com/kailas-cloud/imgdex/internal/logger"
	"github.com/kailas-cloud/imgdex/internal/metrics"
	"github.com/kailas-cloud/imgdex/internal/repository/catalog"
	"github.com/kailas-cloud/imgdex/internal/repository/embcache"
	namedrepo "github.com/kailas-cloud/imgdex/internal/repository/named"
	"github.com/kailas-cloud/imgdex/internal/repository/simcache"
	simrepo "github.com/kailas-cloud/imgdex/internal/repository/similarity"
	chiTransport "github.com/kailas-cloud/imgdex/internal/transport/chi"
	cacheuc "github.com/kailas-cloud/imgdex/internal/usecase/cache"
	healthuc "github.com/kailas-cloud/imgdex/internal/usecase/health"
	nameduc "github.com/kailas-cloud/imgdex/internal/usecase/named"
	searchuc "github.com/kailas-cloud/imgdex/internal/usecase/search"
	simuc "github.com/kailas-cloud/imgdex/internal/usecase/similarity"
)

// app is the composition root shared by every subcommand.
type app struct {
	env      string
	cfg      config.Config
	logger   *zap.Logger
	store    db.Store
	kv       *dbRedis.Store
	services chiTransport.Services
}

func newApp(ctx context.Context, env string) (*app, error) {
	cfg, err := config.Load(env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logpkg.SetFallback(logger)

	a := &app{env: env, cfg: cfg, logger: logger}

	a.store, err = openStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s catalog: %w", cfg.Database.Driver, err)
	}
	if err := a.store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		a.Close()
		return nil, fmt.Errorf("database not ready: %w", err)
	}
	logger.Info("Connected to database", zap.String("db_driver", cfg.Database.Driver))

	// Register engine metrics explicitly (no init())
	metrics.RegisterEngineMetrics()

	if cfg.Cache.Enabled {
		a.kv, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:     cfg.Cache.Addrs,
			Password:  cfg.Cache.Password,
			Namespace: cfg.Cache.Namespace,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open similarity cache: %w", err)
		}
		logger.Info("Similarity cache enabled",
			zap.Strings("addrs", cfg.Cache.Addrs),
			zap.Int("ttl_sec", cfg.Cache.TTLSec),
		)
	}

	a.services = a.buildServices()
	return a, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (db.Store, error) {
	idle := time.Duration(cfg.MaxConnIdleSec) * time.Second
	switch cfg.Driver {
	case "postgres":
		return dbPostgres.NewStore(ctx, dbPostgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        int32(cfg.MaxConns), //nolint:gosec // bounded by config validation
			MinConns:        int32(cfg.MinConns), //nolint:gosec // bounded by config validation
			MaxConnIdleTime: idle,
		})
	case "sqlite":
		return dbSQLite.NewStore(dbSQLite.Config{
			Path:            cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MaxConnIdleTime: idle,
		})
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func (a *app) buildServices() chiTransport.Services {
	cfg, logger := a.cfg, a.logger

	cacheRepo := embcache.New(a.store, metrics.CacheOpsTotal, logger)
	bind := func(q db.Querier) cacheuc.Repository { return cacheRepo.WithQuerier(q) }

	// Similarity layer, optionally fronted by the Redis result cache
	var similarity simuc.Repository = simrepo.New(a.store, cfg.Search.BatchSize, metrics.SimilarityQueryDuration, logger)
	if a.kv != nil {
		similarity = simcache.New(similarity, a.kv, time.Duration(cfg.Cache.TTLSec)*time.Second,
			metrics.SimilarityCacheTotal, logger)
	}

	// Config validation already rejected unknown columns.
	column, _ := domain.ParseColumn(cfg.Search.DefaultColumn)
	simSvc := simuc.New(similarity, simuc.Defaults{
		Column:    column,
		Threshold: cfg.Search.DefaultThreshold,
		Limit:     cfg.Search.DefaultLimit,
		MaxLimit:  cfg.Search.MaxLimit,
		MaxBatch:  cfg.Search.MaxBatchSources,
	})

	comp := compiler.New(compiler.Options{
		Dialect:       a.store.Dialect(),
		Schema:        cfg.Database.Schema,
		RawDataSearch: cfg.Search.RawDataSearch,
	})

	// Pass a nil interface, not a typed nil pointer, when the cache is off.
	var cachePinger healthuc.Pinger
	if a.kv != nil {
		cachePinger = a.kv
	}

	return chiTransport.Services{
		Search:     searchuc.New(comp, catalog.New(a.store, logger), simSvc, metrics.CompiledBranches),
		Similarity: simSvc,
		Cache:      cacheuc.New(a.store, cacheRepo, bind, logger),
		Named:      nameduc.New(namedrepo.New(a.store, logger)),
		Health:     healthuc.New(a.store, cachePinger),
	}
}

// Close releases every connection and flushes the logger.
func (a *app) Close() {
	if a.kv != nil {
		a.kv.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync()
}
