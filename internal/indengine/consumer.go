package indengine

import (
	"context"

	"go.uber.org/zap"

	"indicator-engine/internal/logger"
	"indicator-engine/internal/pipeline"
	redisstore "indicator-engine/internal/store/redis"
)

// Trigger is the run-request stream consumed by the service.
type Trigger interface {
	EnsureConsumerGroup(ctx context.Context) error
	RecoverPending(ctx context.Context, out chan<- redisstore.Delivery) error
	Consume(ctx context.Context, out chan<- redisstore.Delivery) error
	Ack(ctx context.Context, id string) error
}

// ConsumeTriggers runs one batch per run request until ctx is cancelled.
// Requests left pending by a previous process are handled first. A request
// is acked once its batch has finished, whatever the per-security outcome;
// a request interrupted by shutdown stays pending and is redelivered.
func (svc *Service) ConsumeTriggers(ctx context.Context, trig Trigger) error {
	if err := trig.EnsureConsumerGroup(ctx); err != nil {
		return err
	}

	deliveries := make(chan redisstore.Delivery, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(deliveries)
		if err := trig.RecoverPending(ctx, deliveries); err != nil {
			svc.log.Warn("pending recovery failed", zap.Error(err))
		}
		errCh <- trig.Consume(ctx, deliveries)
	}()

	for d := range deliveries {
		svc.handleTrigger(ctx, trig, d)
	}
	return <-errCh
}

func (svc *Service) handleTrigger(ctx context.Context, trig Trigger, d redisstore.Delivery) {
	ctx = logger.WithRunID(ctx, logger.NewRunID())
	log := logger.For(ctx, svc.log).With(zap.String("request", d.ID))

	mode, err := pipeline.ParseMode(d.Request.Mode)
	if err != nil {
		log.Warn("bad run request", zap.Error(err))
		svc.countTrigger("failed")
		if err := trig.Ack(ctx, d.ID); err != nil {
			log.Warn("ack failed", zap.Error(err))
		}
		return
	}

	var ids []string
	if d.Request.SecurityID != "" {
		ids = []string{d.Request.SecurityID}
	}
	log.Info("run requested", zap.String("security", d.Request.SecurityID), zap.Stringer("mode", mode))

	report, err := svc.RunBatch(ctx, ids, mode)
	if ctx.Err() != nil {
		return // redelivered after restart
	}
	if err != nil || report.Failed > 0 {
		svc.countTrigger("failed")
	} else {
		svc.countTrigger("ok")
	}
	if err := trig.Ack(ctx, d.ID); err != nil {
		log.Warn("ack failed", zap.Error(err))
	}
}

func (svc *Service) countTrigger(result string) {
	if svc.prom != nil {
		svc.prom.TriggersTotal.WithLabelValues(result).Inc()
	}
}
