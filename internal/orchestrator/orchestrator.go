package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/evalsvc"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/logging"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/modelconfig"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/notify"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/progress"
)

// #endregion

// Loading labels passed to the notification sink.
const (
	LabelRetrieving = "RETRIEVING..."
	LabelDedupe     = "REMOVING DUPLICATES..."
)

// #region config

// Config wires an Orchestrator. Service, Source and Store are required.
type Config struct {
	Service  evalsvc.Service
	Source   modelconfig.Source
	Store    *evaluation.Store
	Progress *progress.Indicator
	Notify   notify.Sink
	Log      logr.Logger
	Metrics  Metrics
	Journal  Journal
	// CallTimeout bounds each evaluation plus its commit. Zero means no limit.
	CallTimeout time.Duration
}

// #endregion

// #region orchestrator-struct

// Orchestrator drives evaluation runs over a worklist, one entry at a time.
type Orchestrator struct {
	service     evalsvc.Service
	source      modelconfig.Source
	store       *evaluation.Store
	progress    *progress.Indicator
	notify      notify.Sink
	log         logr.Logger
	metrics     Metrics
	journal     Journal
	callTimeout time.Duration
	now         func() time.Time

	running atomic.Bool
}

// #endregion

// #region constructor

// New creates an orchestrator. A nil Progress gets a fresh indicator and a nil
// Notify discards notifications.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.Service == nil:
		return nil, errors.New("orchestrator: evaluation service is required")
	case cfg.Source == nil:
		return nil, errors.New("orchestrator: model source is required")
	case cfg.Store == nil:
		return nil, errors.New("orchestrator: evaluation store is required")
	case cfg.CallTimeout < 0:
		return nil, fmt.Errorf("orchestrator: negative call timeout %s", cfg.CallTimeout)
	}
	if cfg.Progress == nil {
		cfg.Progress = progress.NewIndicator()
	}
	if cfg.Notify == nil {
		cfg.Notify = notify.Discard{}
	}
	if cfg.Log.GetSink() == nil {
		cfg.Log = logr.Discard()
	}
	return &Orchestrator{
		service:     cfg.Service,
		source:      cfg.Source,
		store:       cfg.Store,
		progress:    cfg.Progress,
		notify:      cfg.Notify,
		log:         cfg.Log,
		metrics:     cfg.Metrics,
		journal:     cfg.Journal,
		callTimeout: cfg.CallTimeout,
		now:         time.Now,
	}, nil
}

// Progress returns the indicator driven by this orchestrator.
func (o *Orchestrator) Progress() *progress.Indicator { return o.progress }

// Store returns the evaluation store driven by this orchestrator.
func (o *Orchestrator) Store() *evaluation.Store { return o.store }

// #endregion

// #region lifecycle

func (o *Orchestrator) acquire() error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	return nil
}

func (o *Orchestrator) release() { o.running.Store(false) }

// Start loads the store and the model source concurrently, then runs a full
// evaluation. A load failure is surfaced like an abort and no run starts.
func (o *Orchestrator) Start(ctx context.Context) (RunResult, error) {
	if err := o.acquire(); err != nil {
		return RunResult{}, err
	}
	defer o.release()

	started := o.now()
	if err := o.load(ctx, true); err != nil {
		res := RunResult{RunID: uuid.NewString(), Mode: ModeFull}
		return o.loadFailed(ctx, res, started, err)
	}
	return o.evaluate(ctx)
}

// Retry starts over from loading. Every committed evaluation is skipped, so a
// retry resumes where the previous run stopped.
func (o *Orchestrator) Retry(ctx context.Context) (RunResult, error) {
	return o.Start(ctx)
}

// Load refreshes the store and the model source without running anything.
func (o *Orchestrator) Load(ctx context.Context) error {
	return o.loadOnly(ctx, true)
}

// LoadRecords refreshes only the store. Pending runs and deduplication work
// from stored records, so they do not need the evaluation server's options.
func (o *Orchestrator) LoadRecords(ctx context.Context) error {
	return o.loadOnly(ctx, false)
}

func (o *Orchestrator) loadOnly(ctx context.Context, withSource bool) error {
	if err := o.acquire(); err != nil {
		return err
	}
	defer o.release()

	if err := o.load(ctx, withSource); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		abort := &AbortError{Class: Classify(err), Err: err}
		o.surface(abort)
		return abort
	}
	return nil
}

func (o *Orchestrator) load(ctx context.Context, withSource bool) error {
	o.notify.ShowLoading(LabelRetrieving)
	defer o.notify.HideLoading()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.store.LoadAll(gctx) })
	if withSource {
		g.Go(func() error { return o.source.Load(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if withSource {
		o.log.Info("loaded", "records", o.store.Len(), "models", o.source.ModelCount())
	} else {
		o.log.Info("loaded", "records", o.store.Len())
	}
	return nil
}

func (o *Orchestrator) loadFailed(ctx context.Context, res RunResult, started time.Time, err error) (RunResult, error) {
	if ctx.Err() != nil {
		res.Outcome = OutcomeCancelled
		o.finish(ctx, res, started)
		return res, nil
	}
	abort := &AbortError{Class: Classify(err), Err: err}
	o.surface(abort)
	res.Outcome = OutcomeAborted
	res.Err = abort
	o.finish(ctx, res, started)
	return res, abort
}

// #endregion

// #region entry-points

// Evaluate runs every model from the source, skipping models the store
// already has. The store and source must have been loaded.
func (o *Orchestrator) Evaluate(ctx context.Context) (RunResult, error) {
	if err := o.acquire(); err != nil {
		return RunResult{}, err
	}
	defer o.release()
	return o.evaluate(ctx)
}

func (o *Orchestrator) evaluate(ctx context.Context) (RunResult, error) {
	return o.run(ctx, worklist{
		mode:   ModeFull,
		total:  o.source.ModelCount(),
		models: o.source.Models(),
		eligible: func(m modelconfig.ModelConfig) bool {
			return !o.store.Has(m)
		},
		commit: o.store.Add,
	})
}

// ReevaluatePending re-submits every PENDING record in store order and
// replaces each one in place on success.
func (o *Orchestrator) ReevaluatePending(ctx context.Context) (RunResult, error) {
	if err := o.acquire(); err != nil {
		return RunResult{}, err
	}
	defer o.release()

	records := o.store.ToArray()
	models := make([]modelconfig.ModelConfig, len(records))
	for i, r := range records {
		models[i] = r.Model
	}
	return o.run(ctx, worklist{
		mode:   ModePending,
		total:  len(records),
		models: models,
		eligible: func(m modelconfig.ModelConfig) bool {
			r, ok := o.store.Get(m)
			return ok && r.IsPending()
		},
		commit: o.store.Update,
	})
}

// RemoveDuplicates sweeps duplicate persisted records, keeping the most
// recently written one per model.
func (o *Orchestrator) RemoveDuplicates(ctx context.Context) (RunResult, error) {
	if err := o.acquire(); err != nil {
		return RunResult{}, err
	}
	defer o.release()

	started := o.now()
	res := RunResult{RunID: uuid.NewString(), Mode: ModeDedupe}

	o.notify.ShowLoading(LabelDedupe)
	removed, err := o.store.RemoveDuplicates(ctx)
	o.notify.HideLoading()
	if err != nil {
		return o.loadFailed(ctx, res, started, err)
	}

	o.log.Info("removed duplicates", "removed", removed, "records", o.store.Len())
	res.Outcome = OutcomeCompleted
	res.Total = removed
	res.Current = removed
	o.finish(ctx, res, started)
	return res, nil
}

// #endregion

// #region run-loop

// worklist parameterizes the shared loop: which models, which of them still
// need work, and how a result is committed.
type worklist struct {
	mode     Mode
	total    int
	models   []modelconfig.ModelConfig
	eligible func(modelconfig.ModelConfig) bool
	commit   func(context.Context, evaluation.Record) (evaluation.Record, error)
}

func (o *Orchestrator) run(ctx context.Context, w worklist) (RunResult, error) {
	started := o.now()
	res := RunResult{RunID: uuid.NewString(), Mode: w.mode, Total: w.total}
	log := o.log.WithValues("run", res.RunID, "mode", w.mode)

	o.progress.Reset(w.total)
	o.progress.Run()
	log.Info("run started", "total", w.total)

	for _, m := range w.models {
		// cancellation is only honored between entries
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			res.Current = o.progress.Current()
			log.Info("run cancelled", "current", res.Current, "total", res.Total)
			o.finish(ctx, res, started)
			return res, nil
		}

		if !w.eligible(m) {
			o.progress.Advance()
			res.Skipped++
			o.observeEntry(w.mode, entrySkipped)
			continue
		}

		err := o.evaluateOne(ctx, m, w.commit)
		switch class := Classify(err); {
		case err == nil:
			res.Evaluated++
			o.progress.Advance()
			o.observeEntry(w.mode, entryEvaluated)
			log.V(1).Info("evaluated", "model", m.String())
		case !class.Aborts():
			// transient: left for the next run; progress is not advanced
			res.Transient++
			o.observeEntry(w.mode, entryTransient)
			log.Error(err, "transient evaluation failure, continuing", "model", m.String())
		default:
			o.progress.Stop()
			o.observeEntry(w.mode, entryFailed)
			abort := &AbortError{Class: class, Model: m, Err: err}
			log.Error(err, "run aborted", "class", class, "model", m.String())
			o.surface(abort)

			res.Outcome = OutcomeAborted
			res.Current = o.progress.Current()
			res.Err = abort
			o.finish(ctx, res, started)
			return res, abort
		}
	}

	o.progress.Complete()
	res.Outcome = OutcomeCompleted
	res.Current = o.progress.Current()
	log.Info("run completed", "evaluated", res.Evaluated, "skipped", res.Skipped, "transient", res.Transient)
	o.finish(ctx, res, started)
	return res, nil
}

// evaluateOne calls the service and commits the result. Both steps ignore
// cancellation of ctx so an in-flight entry is always finished.
func (o *Orchestrator) evaluateOne(ctx context.Context, m modelconfig.ModelConfig, commit func(context.Context, evaluation.Record) (evaluation.Record, error)) error {
	callCtx := context.WithoutCancel(ctx)
	if o.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, o.callTimeout)
		defer cancel()
	}

	rec, err := o.service.Evaluate(callCtx, m)
	if err != nil {
		return err
	}
	if rec.Model.IsZero() {
		rec.Model = m
	}
	if _, err := commit(callCtx, rec); err != nil {
		return err
	}
	return nil
}

// #endregion

// #region reporting

func (o *Orchestrator) surface(abort *AbortError) {
	title, message := notification(abort.Class)
	o.notify.ShowError(abort.Err, title, message)
}

func (o *Orchestrator) observeEntry(mode Mode, outcome string) {
	if o.metrics != nil {
		o.metrics.ObserveEvaluation(string(mode), outcome)
	}
}

// finish records the run in metrics and the journal. Journal failures are
// logged only.
func (o *Orchestrator) finish(ctx context.Context, res RunResult, started time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveRun(string(res.Mode), string(res.Outcome))
	}
	if o.journal == nil {
		return
	}
	entry := logging.RunEntry{
		RunID:      res.RunID,
		Mode:       string(res.Mode),
		Outcome:    string(res.Outcome),
		Total:      res.Total,
		Current:    res.Current,
		Evaluated:  res.Evaluated,
		Skipped:    res.Skipped,
		Transient:  res.Transient,
		StartedAt:  started,
		FinishedAt: o.now(),
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if err := o.journal.LogRun(context.WithoutCancel(ctx), entry); err != nil {
		o.log.Error(err, "failed to journal run", "run", res.RunID)
	}
}

// #endregion
