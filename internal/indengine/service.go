package indengine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"indicator-engine/internal/indicator"
	"indicator-engine/internal/metrics"
	"indicator-engine/internal/model"
	"indicator-engine/internal/pipeline"
)

// Deps are the ports the service reads from and writes to.
type Deps struct {
	Series  model.TimeSeriesStore
	States  model.StateStore
	Records model.RecordStore

	Metrics *metrics.Metrics      // optional
	Health  *metrics.HealthStatus // optional
	Log     *zap.Logger           // optional
}

// Options tune batch runs.
type Options struct {
	Workers         int           // concurrent securities, at least 1
	MinBars         int           // shorter series are skipped
	SecurityTimeout time.Duration // 0 = none
	History         bool          // attach every output point to the result

	// OnResult is called with each committed result (optional).
	OnResult func(*model.ComputationResult)
}

// Service is the top-level orchestrator for the indicator engine: it reads
// bars, computes the plan and writes records and states, one security per
// unit of work.
type Service struct {
	engine  *pipeline.Engine
	series  model.TimeSeriesStore
	states  model.StateStore
	records model.RecordStore
	opts    Options

	prom   *metrics.Metrics
	health *metrics.HealthStatus
	log    *zap.Logger

	locks keyedMutex
}

// New creates a Service evaluating plan.
func New(plan *pipeline.Plan, deps Deps, opts Options) *Service {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MinBars < 1 {
		opts.MinBars = 1
	}

	svc := &Service{
		engine:  pipeline.NewEngine(plan, log),
		series:  deps.Series,
		states:  deps.States,
		records: deps.Records,
		opts:    opts,
		prom:    deps.Metrics,
		health:  deps.Health,
		log:     log.Named("indengine"),
	}
	if svc.prom != nil {
		svc.engine.OnSpec = func(kind indicator.Kind, took time.Duration, outputs int) {
			svc.prom.SpecEvalDur.WithLabelValues(string(kind)).Observe(took.Seconds())
			svc.prom.OutputsTotal.Add(float64(outputs))
		}
		svc.engine.OnStateCorrupt = func(string) {
			svc.prom.StateCorruptTotal.Inc()
		}
	}
	if svc.health != nil {
		svc.health.SetPlanSpecs(len(plan.Specs))
	}
	return svc
}

// Plan returns the evaluated plan.
func (svc *Service) Plan() *pipeline.Plan { return svc.engine.Plan() }

// keyedMutex serialises work per key. Entries are dropped when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (svc *Service) observeRun(mode pipeline.Mode, status Status, took time.Duration) {
	if svc.prom == nil {
		return
	}
	svc.prom.RunsTotal.WithLabelValues(mode.String(), string(status)).Inc()
	svc.prom.SecurityDur.Observe(took.Seconds())
}

func (svc *Service) observeBatch(r *BatchReport) {
	if svc.health != nil {
		svc.health.RecordBatch(r.Finished, r.Failed)
	}
	if svc.prom == nil {
		return
	}
	svc.prom.BatchDur.Observe(r.Finished.Sub(r.Started).Seconds())
	svc.prom.LastBatchAt.Set(float64(r.Finished.Unix()))
}
