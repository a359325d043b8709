package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	defaultTriggerStream = "ind:runs"
	defaultTriggerGroup  = "indengine"
	defaultClaimIdle     = 10 * time.Minute
	triggerMaxLen        = 10000
)

// RunRequest asks the engine to recompute one security (or all, when
// SecurityID is empty). Mode is "incremental" or "full".
type RunRequest struct {
	SecurityID  string    `json:"security_id,omitempty"`
	Mode        string    `json:"mode,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Delivery is a run request read from the stream. It must be acked once handled.
type Delivery struct {
	ID      string
	Request RunRequest
}

// TriggerConfig configures the trigger stream.
type TriggerConfig struct {
	Stream   string // stream key, default "ind:runs"
	Group    string // consumer group name, default "indengine"
	Consumer string // unique consumer name, e.g. hostname

	// ClaimIdle is how long another consumer's request must sit unacked
	// before recovery takes it over. Default 10m.
	ClaimIdle time.Duration
}

// Trigger publishes and consumes run requests on a Redis Stream via a
// consumer group. Delivery is at-least-once.
type Trigger struct {
	client    goredis.UniversalClient
	stream    string
	group     string
	consumer  string
	claimIdle time.Duration
	log       *zap.Logger
}

// NewTrigger creates a Trigger.
func NewTrigger(client goredis.UniversalClient, cfg TriggerConfig, log *zap.Logger) *Trigger {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Stream == "" {
		cfg.Stream = defaultTriggerStream
	}
	if cfg.Group == "" {
		cfg.Group = defaultTriggerGroup
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = defaultClaimIdle
	}
	return &Trigger{
		client:    client,
		stream:    cfg.Stream,
		group:     cfg.Group,
		consumer:  cfg.Consumer,
		claimIdle: cfg.ClaimIdle,
		log:       log.Named("redis-trigger"),
	}
}

// Stream returns the stream key.
func (t *Trigger) Stream() string { return t.stream }

// Publish appends a run request to the stream.
func (t *Trigger) Publish(ctx context.Context, req RunRequest) (string, error) {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	id, err := t.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: t.stream,
		MaxLen: triggerMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", t.stream, err)
	}
	return id, nil
}

// EnsureConsumerGroup creates the consumer group if it doesn't exist.
// A fresh group starts at "$" (only new requests).
func (t *Trigger) EnsureConsumerGroup(ctx context.Context) error {
	err := t.client.XGroupCreateMkStream(ctx, t.stream, t.group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s: %w", t.stream, err)
	}
	return nil
}

// Consume reads new requests with XREADGROUP and sends them to out.
// Blocks until ctx is cancelled.
func (t *Trigger) Consume(ctx context.Context, out chan<- Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := t.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    t.group,
			Consumer: t.consumer,
			Streams:  []string{t.stream, ">"},
			Count:    50,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			t.log.Error("xreadgroup failed", zap.Error(err))
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, stream := range results {
			if err := t.dispatch(ctx, stream.Messages, out); err != nil {
				return err
			}
		}
	}
}

// RecoverPending claims requests delivered to this group but never acked
// (e.g. after a crash) and sends them to out. Requests of other consumers
// are only taken once idle for ClaimIdle, so a live peer keeps its work.
func (t *Trigger) RecoverPending(ctx context.Context, out chan<- Delivery) error {
	start := "-"
	for {
		pending, err := t.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
			Stream: t.stream,
			Group:  t.group,
			Start:  start,
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			return fmt.Errorf("xpending %s: %w", t.stream, err)
		}
		if len(pending) == 0 {
			return nil
		}

		own, stale := claimable(pending, t.consumer, t.claimIdle)
		if err := t.claim(ctx, own, 0, out); err != nil {
			return err
		}
		// MinIdle makes XCLAIM skip a request its owner touched since XPENDING.
		if err := t.claim(ctx, stale, t.claimIdle, out); err != nil {
			return err
		}
		if len(pending) < 100 {
			return nil
		}
		start = "(" + pending[len(pending)-1].ID
	}
}

func (t *Trigger) claim(ctx context.Context, ids []string, minIdle time.Duration, out chan<- Delivery) error {
	if len(ids) == 0 {
		return nil
	}
	claimed, err := t.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   t.stream,
		Group:    t.group,
		Consumer: t.consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return fmt.Errorf("xclaim %s: %w", t.stream, err)
	}
	t.log.Info("recovered pending requests", zap.Int("count", len(claimed)), zap.Duration("min_idle", minIdle))
	return t.dispatch(ctx, claimed, out)
}

// claimable splits pending entries into those already owned by consumer,
// left over from its previous run, and those another consumer has held
// for at least minIdle. Younger entries of live peers are left alone.
func claimable(pending []goredis.XPendingExt, consumer string, minIdle time.Duration) (own, stale []string) {
	for _, p := range pending {
		switch {
		case p.Consumer == consumer:
			own = append(own, p.ID)
		case p.Idle >= minIdle:
			stale = append(stale, p.ID)
		}
	}
	return own, stale
}

// Ack acknowledges a handled delivery.
func (t *Trigger) Ack(ctx context.Context, id string) error {
	return t.client.XAck(ctx, t.stream, t.group, id).Err()
}

func (t *Trigger) dispatch(ctx context.Context, msgs []goredis.XMessage, out chan<- Delivery) error {
	for _, msg := range msgs {
		req, err := decodeRequest(msg.Values)
		if err != nil {
			t.log.Warn("dropping malformed run request", zap.String("id", msg.ID), zap.Error(err))
			// ack to avoid a poison pill
			if err := t.client.XAck(ctx, t.stream, t.group, msg.ID).Err(); err != nil {
				t.log.Warn("ack malformed run request", zap.String("id", msg.ID), zap.Error(err))
			}
			continue
		}
		select {
		case out <- Delivery{ID: msg.ID, Request: req}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func decodeRequest(values map[string]interface{}) (RunRequest, error) {
	var req RunRequest
	data, ok := values["data"].(string)
	if !ok {
		return req, fmt.Errorf("missing data field")
	}
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return req, err
	}
	switch req.Mode {
	case "", "incremental", "full":
	default:
		return req, fmt.Errorf("unknown mode %q", req.Mode)
	}
	return req, nil
}
