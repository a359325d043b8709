package indengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"indicator-engine/internal/pipeline"
)

// ServeOptions configure the long-running mode.
type ServeOptions struct {
	Schedule string  // cron spec with seconds; empty disables the schedule
	Trigger  Trigger // optional run-request stream
}

// Serve runs incremental batches on the cron schedule and on demand from
// the trigger stream until ctx is cancelled. Scheduled runs never overlap.
func (svc *Service) Serve(ctx context.Context, opts ServeOptions) error {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if opts.Schedule != "" {
		if _, err := c.AddFunc(opts.Schedule, func() { svc.scheduledRun(ctx) }); err != nil {
			return fmt.Errorf("schedule %q: %w", opts.Schedule, err)
		}
		c.Start()
		svc.log.Info("scheduler started", zap.String("schedule", opts.Schedule))
	}

	done := make(chan struct{})
	if opts.Trigger != nil {
		go func() {
			defer close(done)
			if err := svc.ConsumeTriggers(ctx, opts.Trigger); err != nil && !errors.Is(err, context.Canceled) {
				svc.log.Error("trigger consumer stopped", zap.Error(err))
			}
		}()
	} else {
		close(done)
	}

	<-ctx.Done()
	svc.log.Info("shutdown signal received, waiting for running batches...")

	<-c.Stop().Done()
	<-done
	svc.log.Info("shutdown complete")
	return nil
}

func (svc *Service) scheduledRun(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := svc.RunBatch(ctx, nil, pipeline.ModeIncremental); err != nil {
		svc.log.Error("scheduled batch", zap.Error(err))
	}
}

// ValidateSchedule reports whether spec is a valid cron spec with seconds.
// An empty spec disables the schedule and is valid.
func ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	p := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := p.Parse(spec)
	return err
}
