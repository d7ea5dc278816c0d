// cmd/sql-assistant/app.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sql-assistant/internal/common/config"
	"sql-assistant/internal/common/database"
	"sql-assistant/internal/common/logger"
	"sql-assistant/internal/common/observability"
	"sql-assistant/internal/examples"
	"sql-assistant/internal/llm"
	"sql-assistant/internal/pipeline"
	"sql-assistant/internal/schema"
	"sql-assistant/internal/session"
)

// app holds the long-lived handles shared by every subcommand.
type app struct {
	cfg    *config.Config
	zapLog *zap.Logger
	log    logger.Logger
	obs    *observability.Observability

	db    *database.SQLClient
	redis *database.RedisClient
	es    *database.ElasticsearchClient

	closeModel func() error
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// bootstrap loads configuration and opens the database plus whichever of
// redis and elasticsearch the configuration asks for.
func bootstrap(ctx context.Context, cfgPath, service string) (*app, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	a := &app{
		cfg:        cfg,
		zapLog:     zapLog,
		log:        logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{"service": service}),
		obs:        observability.New(service),
		closeModel: func() error { return nil },
	}

	err = retryWithBackoff(func() error {
		db, err := database.NewSQL(cfg.Database)
		if err != nil {
			return err
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return err
		}
		a.db = db
		return nil
	}, 5, time.Second, zapLog, "database connection")
	if err != nil {
		a.Close()
		return nil, err
	}
	zapLog.Info("database connected", zap.String("driver", a.db.Driver()))

	if cfg.Session.Store == session.StoreRedis || cfg.Schema.CacheEnabled {
		err = retryWithBackoff(func() error {
			rc, err := database.NewRedis(cfg.Redis)
			if err != nil {
				return err
			}
			if err := rc.Ping(ctx); err != nil {
				rc.Close()
				return err
			}
			a.redis = rc
			return nil
		}, 5, time.Second, zapLog, "redis connection")
		if err != nil {
			a.Close()
			return nil, err
		}
		zapLog.Info("redis connected")
	}

	if cfg.Examples.Enabled {
		es, err := database.NewElasticsearch(cfg.Elasticsearch)
		if err == nil {
			err = es.Ping(ctx)
		}
		if err != nil {
			// few-shot examples are optional; generation works without them
			zapLog.Warn("elasticsearch unavailable, continuing without examples", zap.Error(err))
		} else {
			a.es = es
		}
	}

	return a, nil
}

func (a *app) schemaCache() schema.Cache {
	if a.redis == nil || !a.cfg.Schema.CacheEnabled {
		return nil
	}
	return schema.NewRedisCache(a.redis.Client)
}

func (a *app) sessions() (session.Store, error) {
	var client *redis.Client
	if a.redis != nil {
		client = a.redis.Client
	}
	return session.New(a.cfg.Session, client)
}

// buildPipeline creates the model client and wires the orchestrator.
func (a *app) buildPipeline(ctx context.Context) (*pipeline.Orchestrator, error) {
	model, closeModel, err := llm.New(ctx, a.cfg.LLM, a.log)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	a.closeModel = closeModel

	var retriever *examples.Retriever
	if a.es != nil {
		retriever = examples.NewRetriever(a.es.Client, a.cfg.Examples, a.log)
	}

	return pipeline.NewFromConfig(a.cfg, pipeline.Collaborators{
		DB:            a.db,
		Model:         model,
		SchemaCache:   a.schemaCache(),
		Examples:      retriever,
		Observability: a.obs,
	}, a.log)
}

func (a *app) Close() {
	if err := a.closeModel(); err != nil {
		a.zapLog.Warn("failed to close model client", zap.Error(err))
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	a.obs.Shutdown()
	_ = a.zapLog.Sync()
}
