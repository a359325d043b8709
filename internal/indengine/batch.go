package indengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"indicator-engine/internal/logger"
	"indicator-engine/internal/pipeline"
)

// ErrNoTimeSeries is reported for a security without any stored bars.
var ErrNoTimeSeries = errors.New("no time series")

// Status is the outcome of one security run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped" // too few bars, nothing written
	StatusFailed  Status = "failed"
)

// SecurityReport describes one security run.
type SecurityReport struct {
	SecurityID string        `json:"security_id"`
	Status     Status        `json:"status"`
	Bars       int           `json:"bars"`
	Outputs    int           `json:"outputs"`
	Recomputed []string      `json:"recomputed,omitempty"`
	Took       time.Duration `json:"took"`
	Err        error         `json:"-"`
}

// BatchReport aggregates a batch. Failures of single securities never
// abort the batch; they are listed here.
type BatchReport struct {
	RunID      string           `json:"run_id"`
	Mode       string           `json:"mode"`
	Started    time.Time        `json:"started"`
	Finished   time.Time        `json:"finished"`
	Securities []SecurityReport `json:"securities"`
	OK         int              `json:"ok"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
}

// RunBatch runs every security in ids (all stored securities when ids is
// empty) on a bounded worker pool. The returned error is non-nil only when
// the security list cannot be read or ctx ends before the batch completes;
// the report is returned in the latter case too.
func (svc *Service) RunBatch(ctx context.Context, ids []string, mode pipeline.Mode) (*BatchReport, error) {
	if logger.RunID(ctx) == "" {
		ctx = logger.WithRunID(ctx, logger.NewRunID())
	}
	log := logger.For(ctx, svc.log)

	if len(ids) == 0 {
		var err error
		ids, err = svc.series.ListSecurities(ctx)
		if err != nil {
			return nil, fmt.Errorf("list securities: %w", err)
		}
	}

	report := &BatchReport{
		RunID:      logger.RunID(ctx),
		Mode:       mode.String(),
		Started:    time.Now(),
		Securities: make([]SecurityReport, len(ids)),
	}
	log.Info("batch started",
		zap.String("mode", mode.String()),
		zap.Int("securities", len(ids)),
		zap.Int("workers", svc.opts.Workers))

	scheduled := make([]bool, len(ids))
	g := new(errgroup.Group)
	g.SetLimit(svc.opts.Workers)
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		scheduled[i] = true
		g.Go(func() error {
			report.Securities[i] = svc.RunSecurity(ctx, id, mode)
			return nil
		})
	}
	g.Wait()

	for i := range report.Securities {
		rep := &report.Securities[i]
		if !scheduled[i] {
			*rep = SecurityReport{SecurityID: ids[i], Status: StatusFailed, Err: ctx.Err()}
		}
		switch rep.Status {
		case StatusOK:
			report.OK++
		case StatusSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}
	report.Finished = time.Now()
	svc.observeBatch(report)

	log.Info("batch finished",
		zap.Int("ok", report.OK),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("took", report.Finished.Sub(report.Started)))
	return report, ctx.Err()
}

// RunSecurity computes and commits one security. Concurrent runs of the same
// security are serialised. The record is merged first and states are saved
// after it; nothing is written when the computation fails or ctx ends.
func (svc *Service) RunSecurity(ctx context.Context, securityID string, mode pipeline.Mode) SecurityReport {
	unlock := svc.locks.Lock(securityID)
	defer unlock()

	start := time.Now()
	rep := svc.runSecurity(ctx, securityID, mode)
	rep.Took = time.Since(start)
	svc.observeRun(mode, rep.Status, rep.Took)

	log := logger.For(ctx, svc.log).With(zap.String("security", securityID))
	switch rep.Status {
	case StatusFailed:
		log.Error("security failed", zap.Error(rep.Err))
	case StatusSkipped:
		log.Info("security skipped", zap.Int("bars", rep.Bars), zap.Int("min_bars", svc.opts.MinBars))
	default:
		log.Debug("security done",
			zap.Int("bars", rep.Bars),
			zap.Int("outputs", rep.Outputs),
			zap.Strings("recomputed", rep.Recomputed),
			zap.Duration("took", rep.Took))
	}
	return rep
}

func (svc *Service) runSecurity(ctx context.Context, securityID string, mode pipeline.Mode) SecurityReport {
	rep := SecurityReport{SecurityID: securityID, Status: StatusFailed}
	if svc.opts.SecurityTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, svc.opts.SecurityTimeout)
		defer cancel()
	}

	bars, err := svc.series.ReadBars(ctx, securityID)
	if err != nil {
		rep.Err = fmt.Errorf("read bars: %w", err)
		return rep
	}
	rep.Bars = len(bars)
	if len(bars) == 0 {
		rep.Err = ErrNoTimeSeries
		return rep
	}
	if len(bars) < svc.opts.MinBars {
		rep.Status = StatusSkipped
		return rep
	}

	var prior map[string][]byte
	if mode == pipeline.ModeIncremental {
		prior, err = svc.states.LoadStates(ctx, securityID, svc.Plan().SpecIDs())
		if err != nil {
			rep.Err = fmt.Errorf("load states: %w", err)
			return rep
		}
	}

	out, err := svc.engine.Compute(ctx, securityID, bars, prior, pipeline.Options{
		Mode:    mode,
		History: svc.opts.History,
	})
	if err != nil {
		rep.Err = fmt.Errorf("compute: %w", err)
		return rep
	}
	rep.Outputs = out.Outputs
	rep.Recomputed = out.Recomputed
	if svc.prom != nil {
		svc.prom.RecomputedTotal.Add(float64(len(out.Recomputed)))
	}

	if err := svc.records.MergeRecord(ctx, out.Result); err != nil {
		rep.Err = fmt.Errorf("merge record: %w", err)
		return rep
	}
	// the record is committed: a failed save only costs a recompute later
	if err := svc.states.SaveStates(ctx, securityID, out.States); err != nil {
		logger.For(ctx, svc.log).Warn("save states failed",
			zap.String("security", securityID), zap.Error(err))
	}
	if svc.opts.OnResult != nil {
		svc.opts.OnResult(out.Result)
	}

	rep.Status = StatusOK
	return rep
}
