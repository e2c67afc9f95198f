package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/config"
	"github.com/progprogect/steamids-parser/internal/database"
	"github.com/progprogect/steamids-parser/internal/database/migration"
	dbpostgres "github.com/progprogect/steamids-parser/internal/database/postgres"
	dbsqlite "github.com/progprogect/steamids-parser/internal/database/sqlite"
	"github.com/progprogect/steamids-parser/internal/infrastructure/cache"
	"github.com/progprogect/steamids-parser/internal/pipeline"
	"github.com/progprogect/steamids-parser/internal/pkg/jwt"
	"github.com/progprogect/steamids-parser/internal/repository"
	"github.com/progprogect/steamids-parser/internal/usecase"
	"github.com/progprogect/steamids-parser/internal/ws"
)

// Container owns every long-lived dependency of the process.
type Container struct {
	Config       config.Config
	Log          *logrus.Logger
	DB           database.DB
	Store        *repository.SQLStatusStore
	Redis        *cache.Redis
	Hub          *ws.Hub
	Orchestrator *pipeline.Orchestrator
	Plans        *PlanBuilder
	Jobs         *usecase.JobUsecase
	JWT          *jwt.HMACService
}

// OpenDB connects the configured dialect and brings its schema up to date.
func OpenDB(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (database.DB, error) {
	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()

	var (
		db  database.DB
		err error
	)
	switch cfg.Database.Dialect {
	case config.DialectPostgres:
		db, err = dbpostgres.Connect(connCtx, cfg.Database)
	default:
		db, err = dbsqlite.Open(connCtx, cfg.Database.SQLitePath)
	}
	if err != nil {
		return nil, err
	}

	migCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	r := migration.Runner{Dialect: db.Dialect(), Logger: log}
	if err := r.Run(migCtx, db.SQLDB()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func NewContainer(ctx context.Context, cfg config.Config, log *logrus.Logger) (*Container, error) {
	db, err := OpenDB(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	store, err := repository.NewStatusStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	c := &Container{Config: cfg, Log: log, DB: db, Store: store}

	c.Redis = cache.NewRedis(ctx, cfg.Redis, log)
	if err := c.Redis.DeleteByPattern(ctx, usecase.StatusCacheKey("*")); err != nil {
		log.WithError(err).Warn("stale status snapshots not cleared")
	}

	c.Hub = ws.NewHub(log)
	c.Orchestrator = pipeline.NewOrchestrator(store, pipeline.NewCheckpointWriter(cfg.Paths.CheckpointDir), c.Hub, log)
	c.Plans = NewPlanBuilder(cfg, store, log)
	c.Jobs = usecase.NewJobUsecase(c.Orchestrator, c.Plans.Build, store, c.Redis, usecase.JobUsecaseConfig{
		DefaultFile: cfg.Paths.AppIDsFile,
		StatusTTL:   cfg.Redis.TTL,
	}, log)

	if cfg.Control.JWTSecret != "" {
		c.JWT = jwt.NewHMACService(cfg.Control.JWTSecret, cfg.Control.TokenTTL)
	}
	return c, nil
}

func (c *Container) Close() error {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if c.Jobs != nil {
		if err := c.Jobs.Shutdown(ctx); err != nil {
			c.Log.WithError(err).Warn("jobs did not drain before shutdown")
		}
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
