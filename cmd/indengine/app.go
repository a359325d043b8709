package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	goredis "github.com/go-redis/redis/v8"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"indicator-engine/config"
	"indicator-engine/internal/indengine"
	"indicator-engine/internal/indicator"
	"indicator-engine/internal/logger"
	"indicator-engine/internal/metrics"
	"indicator-engine/internal/model"
	"indicator-engine/internal/pipeline"
	redisstore "indicator-engine/internal/store/redis"
	sqlitestore "indicator-engine/internal/store/sqlite"
)

// app holds the wired stores of one command invocation.
type app struct {
	cfg  *config.Config
	log  *zap.Logger
	plan *pipeline.Plan

	writer *sqlitestore.Writer
	reader *sqlitestore.Reader
	rdb    *goredis.Client
	cache  *redisstore.StateCache
}

// loadConfig reads the service configuration and builds the logger.
func loadConfig(cmd *cli.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if p := cmd.String("indicators"); p != "" {
		cfg.IndicatorsPath = p
	}
	log, err := logger.Init("indengine", cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// setup loads the plan and opens SQLite and, when configured, Redis. The
// plan is loaded first so a bad indicator configuration fails before any
// store is touched.
func setup(ctx context.Context, cmd *cli.Command, needRedis bool) (*app, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	plan, err := pipeline.LoadPlan(cfg.IndicatorsPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, plan: plan}
	if err := a.openSQLite(); err != nil {
		return nil, err
	}
	if err := a.openRedis(ctx, needRedis); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openSQLite() error {
	if dir := filepath.Dir(a.cfg.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: a.cfg.SQLitePath}, a.log)
	if err != nil {
		return err
	}
	r, err := sqlitestore.NewReader(a.cfg.SQLitePath)
	if err != nil {
		w.Close()
		return err
	}
	a.writer, a.reader = w, r
	return nil
}

// openRedis connects when an address is configured. Without required, a
// failed connection only disables the cache.
func (a *app) openRedis(ctx context.Context, required bool) error {
	if !a.cfg.RedisEnabled() {
		if required {
			return fmt.Errorf("redis address not configured (REDIS_ADDR)")
		}
		return nil
	}
	rdb, err := redisstore.Connect(ctx, redisstore.Config{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err != nil {
		if required {
			return err
		}
		a.log.Warn("redis unavailable, continuing with SQLite state only", zap.Error(err))
		return nil
	}
	a.rdb = rdb
	a.cache = redisstore.NewStateCache(rdb, redisstore.StateCacheConfig{TTL: a.cfg.Redis.StateTTL}, a.log)
	a.log.Info("redis connected", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

// states returns the restore chain: Redis (if connected) in front of SQLite.
func (a *app) states() model.StateStore {
	stores := []model.StateStore{}
	if a.cache != nil {
		stores = append(stores, a.cache)
	}
	stores = append(stores, sqlitestore.States(a.reader, a.writer))
	return indicator.NewRestorer(a.log, stores...)
}

func (a *app) trigger() *redisstore.Trigger {
	if a.rdb == nil {
		return nil
	}
	consumer := a.cfg.Redis.Consumer
	if consumer == "" {
		consumer, _ = os.Hostname()
	}
	return redisstore.NewTrigger(a.rdb, redisstore.TriggerConfig{
		Stream:    a.cfg.Redis.Stream,
		Group:     a.cfg.Redis.Group,
		Consumer:  consumer,
		ClaimIdle: a.cfg.Redis.ClaimIdle,
	}, a.log)
}

// service builds the indicator service over the opened stores.
func (a *app) service(prom *metrics.Metrics, health *metrics.HealthStatus, opts indengine.Options) *indengine.Service {
	timeout, _ := a.cfg.SecurityTimeout()
	opts.Workers = a.cfg.EffectiveWorkers()
	opts.MinBars = a.cfg.MinBars
	opts.SecurityTimeout = timeout
	opts.History = opts.History || a.cfg.History

	if prom != nil && a.cache != nil {
		cb := a.cache.Breaker()
		prev := cb.OnStateChange
		cb.OnStateChange = func(from, to redisstore.State) {
			if prev != nil {
				prev(from, to)
			}
			prom.CircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.CircuitBreakerTrips.Inc()
			}
		}
	}

	return indengine.New(a.plan, indengine.Deps{
		Series:  a.reader,
		States:  a.states(),
		Records: a.writer,
		Metrics: prom,
		Health:  health,
		Log:     a.log,
	}, opts)
}

func (a *app) Close() {
	if a.reader != nil {
		a.reader.Close()
	}
	if a.writer != nil {
		a.writer.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	a.log.Sync()
}
