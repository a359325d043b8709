package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"indicator-engine/internal/indengine"
	"indicator-engine/internal/metrics"
	"indicator-engine/internal/model"
	"indicator-engine/internal/pipeline"
	redisstore "indicator-engine/internal/store/redis"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run one batch over all (or the given) securities and exit",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "full", Usage: "Ignore stored state and recompute the whole history"},
			&cli.StringSliceFlag{Name: "security", Aliases: []string{"s"}, Usage: "Security `ID` to run (repeatable)"},
			&cli.BoolFlag{Name: "history", Usage: "Print every output point of every mapped field as JSON lines"},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	mode := pipeline.ModeIncremental
	if cmd.Bool("full") {
		mode = pipeline.ModeFull
	}

	opts := indengine.Options{History: cmd.Bool("history")}
	if opts.History {
		var mu sync.Mutex
		enc := json.NewEncoder(os.Stdout)
		opts.OnResult = func(r *model.ComputationResult) {
			mu.Lock()
			defer mu.Unlock()
			if err := enc.Encode(r); err != nil {
				a.log.Warn("write history", zap.String("security", r.SecurityID), zap.Error(err))
			}
		}
	}

	svc := a.service(nil, nil, opts)
	report, err := svc.RunBatch(ctx, cmd.StringSlice("security"), mode)
	if report != nil {
		for _, s := range report.Securities {
			if s.Status == indengine.StatusFailed {
				fmt.Fprintf(os.Stderr, "%s: %v\n", s.SecurityID, s.Err)
			}
		}
		fmt.Fprintf(os.Stderr, "run %s (%s): %d ok, %d skipped, %d failed in %s\n",
			report.RunID, report.Mode, report.OK, report.Skipped, report.Failed,
			report.Finished.Sub(report.Started).Round(time.Millisecond))
	}
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d securities failed", report.Failed)
	}
	return nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run batches on the cron schedule and on run requests until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "run-on-start", Usage: "Run one incremental batch before waiting for the schedule"},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	health.SetRedisEnabled(a.cfg.RedisEnabled())
	var rdb goredis.UniversalClient
	if a.rdb != nil {
		rdb = a.rdb
	}
	health.StartLivenessChecker(ctx, rdb, a.writer.DB(), 15*time.Second)

	srv := metrics.NewServer(a.cfg.MetricsAddr, prometheus.DefaultGatherer, health, a.log)
	srv.Start()
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Stop(shutCtx)
	}()

	svc := a.service(prom, health, indengine.Options{})
	a.log.Info("indicator engine started",
		zap.Strings("order", a.plan.Order()),
		zap.String("schedule", a.cfg.Schedule),
		zap.Int("workers", a.cfg.EffectiveWorkers()),
		zap.Bool("redis", a.rdb != nil))

	if cmd.Bool("run-on-start") {
		if _, err := svc.RunBatch(ctx, nil, pipeline.ModeIncremental); err != nil {
			a.log.Error("startup batch", zap.Error(err))
		}
	}

	opts := indengine.ServeOptions{Schedule: a.cfg.Schedule}
	if t := a.trigger(); t != nil {
		opts.Trigger = t
	}
	return svc.Serve(ctx, opts)
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Load the indicator configuration and print the execution order",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			plan, err := pipeline.LoadPlan(cfg.IndicatorsPath)
			if err != nil {
				return err
			}
			if err := indengine.ValidateSchedule(cfg.Schedule); err != nil {
				return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
			}
			for n, level := range plan.Levels {
				ids := make([]string, len(level))
				for i, idx := range level {
					sp := plan.Specs[idx]
					ids[i] = fmt.Sprintf("%s [%s %s]", sp.ID, sp.Kind, sp.Interval)
				}
				fmt.Printf("level %d: %s\n", n, strings.Join(ids, ", "))
			}
			fmt.Printf("%d indicators OK\n", len(plan.Specs))
			return nil
		},
	}
}

func enqueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "enqueue",
		Usage: "Publish a run request for a serving engine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "security", Aliases: []string{"s"}, Usage: "Security `ID`; all securities when empty"},
			&cli.BoolFlag{Name: "full", Usage: "Request a full recompute"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer log.Sync()
			if !cfg.RedisEnabled() {
				return fmt.Errorf("redis address not configured (REDIS_ADDR)")
			}
			rdb, err := redisstore.Connect(ctx, redisstore.Config{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err != nil {
				return err
			}
			defer rdb.Close()

			req := redisstore.RunRequest{SecurityID: cmd.String("security"), Mode: pipeline.ModeIncremental.String()}
			if cmd.Bool("full") {
				req.Mode = pipeline.ModeFull.String()
			}
			trig := redisstore.NewTrigger(rdb, redisstore.TriggerConfig{Stream: cfg.Redis.Stream, Group: cfg.Redis.Group}, log)
			id, err := trig.Publish(ctx, req)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
}
