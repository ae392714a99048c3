package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/evalsvc"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation/evaluationtest"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/logging"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/modelconfig"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/notify"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/progress"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/store"
)

// #region fixtures

var (
	m1 = modelconfig.ModelConfig{Architecture: "a1", Dataset: "mnist", Loss: "mse", Optimizer: "sgd"}
	m2 = modelconfig.ModelConfig{Architecture: "a2", Dataset: "mnist", Loss: "mse", Optimizer: "sgd"}
	m3 = modelconfig.ModelConfig{Architecture: "a3", Dataset: "mnist", Loss: "mse", Optimizer: "sgd"}
)

var threeModels = modelconfig.Options{
	Architectures: []string{"a1", "a2", "a3"},
	Datasets:      []string{"mnist"},
	Losses:        []string{"mse"},
	Optimizers:    []string{"sgd"},
}

// scriptedService succeeds unless fail has an error for the model. before runs
// at the start of every call.
type scriptedService struct {
	mu     sync.Mutex
	calls  []modelconfig.ModelConfig
	fail   map[modelconfig.ModelConfig]error
	before func(ctx context.Context, m modelconfig.ModelConfig)
}

func (s *scriptedService) Evaluate(ctx context.Context, m modelconfig.ModelConfig) (evaluation.Record, error) {
	if s.before != nil {
		s.before(ctx, m)
	}
	s.mu.Lock()
	s.calls = append(s.calls, m)
	err := s.fail[m]
	s.mu.Unlock()
	if err != nil {
		return evaluation.Record{}, err
	}
	return evaluation.Record{
		Model:  m,
		Status: evaluation.StatusComplete,
		Result: evaluation.Metrics{"test": {"acc": 0.9}},
	}, nil
}

func (s *scriptedService) Calls() []modelconfig.ModelConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]modelconfig.ModelConfig(nil), s.calls...)
}

type fakeMetrics struct {
	mu      sync.Mutex
	entries map[string]int
	runs    map[string]int
}

func (f *fakeMetrics) ObserveEvaluation(mode, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[mode+"/"+outcome]++
}

func (f *fakeMetrics) ObserveRun(mode, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[mode+"/"+outcome]++
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []logging.RunEntry
	err     error
}

func (f *fakeJournal) LogRun(_ context.Context, e logging.RunEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return f.err
}

type harness struct {
	o       *Orchestrator
	svc     *scriptedService
	persist *evaluationtest.Persister
	store   *evaluation.Store
	notes   *notify.Recorder
	metrics *fakeMetrics
	journal *fakeJournal
}

func newHarness(t *testing.T, seed ...evaluation.Record) *harness {
	t.Helper()
	h := &harness{
		svc:     &scriptedService{fail: map[modelconfig.ModelConfig]error{}},
		persist: evaluationtest.NewPersister(seed...),
		notes:   &notify.Recorder{},
		metrics: &fakeMetrics{entries: map[string]int{}, runs: map[string]int{}},
		journal: &fakeJournal{},
	}
	h.store = evaluation.NewStore(h.persist)
	o, err := New(Config{
		Service: h.svc,
		Source:  modelconfig.NewCatalog(modelconfig.StaticFetcher(threeModels)),
		Store:   h.store,
		Notify:  h.notes,
		Log:     logr.Discard(),
		Metrics: h.metrics,
		Journal: h.journal,
	})
	require.NoError(t, err)
	h.o = o
	return h
}

func noStatus(msg string) error {
	return &evalsvc.Error{Op: "evaluate", StatusCode: evalsvc.NoStatus, Err: errors.New(msg)}
}

func withStatus(code int) error {
	return &evalsvc.Error{Op: "evaluate", StatusCode: code, Message: http.StatusText(code)}
}

// #endregion fixtures

// #region full-run

func TestStartEvaluatesEveryModel(t *testing.T) {
	h := newHarness(t)

	res, err := h.o.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, res.Evaluated)
	for _, m := range []modelconfig.ModelConfig{m1, m2, m3} {
		assert.True(t, h.store.Has(m), m.String())
	}
	snap := h.o.Progress().Snapshot()
	assert.Equal(t, progress.Snapshot{Total: 3, Current: 3, Phase: progress.PhaseComplete, Percentage: 100}, snap)
	assert.Equal(t, []modelconfig.ModelConfig{m1, m2, m3}, h.svc.Calls())
	assert.Equal(t, 3, h.persist.Inserts)

	events := h.notes.Events()
	require.Len(t, events, 2)
	assert.Equal(t, notify.Event{Kind: notify.KindShowLoading, Label: LabelRetrieving}, events[0])
	assert.Equal(t, notify.KindHideLoading, events[1].Kind)
}

func TestStartSkipsPersistedModels(t *testing.T) {
	h := newHarness(t, evaluation.Record{Model: m2, Status: evaluation.StatusComplete})

	res, err := h.o.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Evaluated)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []modelconfig.ModelConfig{m1, m3}, h.svc.Calls())
	assert.Equal(t, 3, h.o.Progress().Current())
}

func TestEvaluateTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.o.Start(ctx)
	require.NoError(t, err)
	before := h.store.ToArray()

	res, err := h.o.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
	assert.Zero(t, res.Evaluated)
	assert.Len(t, h.svc.Calls(), 3, "second run makes no calls")
	assert.Equal(t, before, h.store.ToArray())

	snap := h.o.Progress().Snapshot()
	assert.Equal(t, 3, snap.Current)
	assert.Equal(t, 3, snap.Total)
}

func TestProgressIsMonotonic(t *testing.T) {
	h := newHarness(t, evaluation.Record{Model: m1, Status: evaluation.StatusComplete})
	h.svc.fail[m2] = withStatus(http.StatusBadGateway)

	var snaps []progress.Snapshot
	h.o.Progress().OnChange(func(s progress.Snapshot) { snaps = append(snaps, s) })

	_, err := h.o.Start(context.Background())
	require.NoError(t, err)

	// the first snapshot is the reset
	require.NotEmpty(t, snaps)
	last := 0
	for _, s := range snaps[1:] {
		assert.GreaterOrEqual(t, s.Current, last)
		assert.LessOrEqual(t, s.Current, s.Total)
		last = s.Current
	}
}

// #endregion full-run

// #region classification

func TestConnectivityFailureAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.svc.fail[m2] = noStatus("connection refused")

	res, err := h.o.Start(context.Background())
	require.Error(t, err)

	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, FailureConnectivity, abort.Class)
	assert.Equal(t, m2, abort.Model)
	assert.Equal(t, OutcomeAborted, res.Outcome)

	assert.Equal(t, 1, h.o.Progress().Current())
	assert.Equal(t, progress.PhaseStopped, h.o.Progress().Phase())
	assert.Equal(t, []modelconfig.ModelConfig{m1, m2}, h.svc.Calls(), "config #3 is never attempted")
	assert.False(t, h.store.Has(m2))
	assert.False(t, h.store.Has(m3))

	errs := h.notes.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "ERROR: Connection", errs[0].Title)
	assert.Equal(t, "Unable to reach the evaluation service", errs[0].Message)
}

func TestUnreachableStoreAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.persist.InsertErr = &store.ServerSelectionError{Op: "insert", Err: errors.New("database is locked")}

	_, err := h.o.Start(context.Background())
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, FailureConnectivity, abort.Class)
	assert.Equal(t, m1, abort.Model)
	assert.Zero(t, h.o.Progress().Current())
	assert.Equal(t, 0, h.store.Len(), "nothing is added without a durable write")
}

func TestTransientFailureIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.svc.fail[m2] = withStatus(http.StatusInternalServerError)

	res, err := h.o.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, res.Transient)
	assert.Equal(t, progress.PhaseComplete, h.o.Progress().Phase())
	// the failed entry does not count as processed
	assert.Equal(t, 2, h.o.Progress().Current())
	assert.True(t, h.store.Has(m1))
	assert.False(t, h.store.Has(m2))
	assert.True(t, h.store.Has(m3))
	assert.Empty(t, h.notes.Errors())

	// the next run picks it up again
	delete(h.svc.fail, m2)
	res, err = h.o.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evaluated)
	assert.Equal(t, 3, h.o.Progress().Current())
}

func TestGenericFailureAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.svc.fail[m1] = withStatus(http.StatusBadRequest)

	_, err := h.o.Start(context.Background())
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, FailureGeneric, abort.Class)
	assert.Equal(t, []modelconfig.ModelConfig{m1}, h.svc.Calls())
	assert.Equal(t, progress.PhaseStopped, h.o.Progress().Phase())

	errs := h.notes.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "ERROR: Deep Learning", errs[0].Title)
	assert.Equal(t, "Error while evaluating", errs[0].Message)
}

// #endregion classification

// #region pending-run

func TestReevaluatePendingOnlyTouchesPending(t *testing.T) {
	h := newHarness(t,
		evaluation.Record{Model: m1, Status: evaluation.StatusComplete, Result: evaluation.Metrics{"test": {"acc": 0.5}}},
		evaluation.Record{Model: m2, Status: evaluation.StatusPending},
	)
	ctx := context.Background()
	require.NoError(t, h.o.Load(ctx))
	complete, _ := h.store.Get(m1)

	res, err := h.o.ReevaluatePending(ctx)
	require.NoError(t, err)

	assert.Equal(t, []modelconfig.ModelConfig{m2}, h.svc.Calls())
	assert.Equal(t, 1, h.persist.Replaces)
	assert.Zero(t, h.persist.Inserts)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Evaluated)

	after, _ := h.store.Get(m1)
	assert.Equal(t, complete, after, "the complete record is untouched")
	updated, _ := h.store.Get(m2)
	assert.Equal(t, evaluation.StatusComplete, updated.Status)
	assert.Equal(t, []modelconfig.ModelConfig{m1, m2}, []modelconfig.ModelConfig{h.store.ToArray()[0].Model, h.store.ToArray()[1].Model})
	assert.Equal(t, progress.PhaseComplete, h.o.Progress().Phase())
}

func TestLoadRecordsSkipsOptionSource(t *testing.T) {
	h := newHarness(t, evaluation.Record{Model: m1, Status: evaluation.StatusPending})
	h.o.source = modelconfig.NewCatalog(func(context.Context) (modelconfig.Options, error) {
		return modelconfig.Options{}, noStatus("connection refused")
	})
	ctx := context.Background()

	require.NoError(t, h.o.LoadRecords(ctx))
	assert.Equal(t, 1, h.store.Len())
	assert.Empty(t, h.notes.Errors())

	res, err := h.o.ReevaluatePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evaluated)

	var abort *AbortError
	require.ErrorAs(t, h.o.Load(ctx), &abort, "a full load still needs the options")
	assert.Equal(t, FailureConnectivity, abort.Class)
}

// #endregion pending-run

// #region dedupe

func TestRemoveDuplicates(t *testing.T) {
	h := newHarness(t,
		evaluation.Record{Model: m1, Status: evaluation.StatusComplete},
		evaluation.Record{Model: m2, Status: evaluation.StatusComplete},
		evaluation.Record{Model: m1, Status: evaluation.StatusPending},
	)
	ctx := context.Background()
	require.NoError(t, h.o.Load(ctx))

	res, err := h.o.RemoveDuplicates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)

	var persisted int
	for _, r := range h.persist.Records() {
		if r.Model == m1 {
			persisted++
		}
	}
	assert.Equal(t, 1, persisted)
	assert.Equal(t, 2, h.store.Len())

	kept, ok := h.store.Get(m1)
	require.True(t, ok)
	assert.Equal(t, evaluation.StatusPending, kept.Status, "the later row wins")
}

func TestRemoveDuplicatesFailureIsSurfaced(t *testing.T) {
	h := newHarness(t)
	h.persist.GetAllErr = &store.ServerSelectionError{Op: "get all", Err: errors.New("unable to open database file")}

	_, err := h.o.RemoveDuplicates(context.Background())
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, FailureConnectivity, abort.Class)

	events := h.notes.Events()
	require.Len(t, events, 3)
	assert.Equal(t, notify.Event{Kind: notify.KindShowLoading, Label: LabelDedupe}, events[0])
	assert.Equal(t, notify.KindHideLoading, events[1].Kind)
	assert.Equal(t, "ERROR: Connection", events[2].Title)
}

// #endregion dedupe

// #region lifecycle

func TestCancellationLetsInFlightEntryFinish(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.svc.before = func(callCtx context.Context, m modelconfig.ModelConfig) {
		if m == m2 {
			cancel()
			assert.NoError(t, callCtx.Err(), "in-flight call is not interrupted")
		}
	}

	res, err := h.o.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, []modelconfig.ModelConfig{m1, m2}, h.svc.Calls())
	assert.True(t, h.store.Has(m2), "in-flight result is committed")
	assert.False(t, h.store.Has(m3))
	assert.Equal(t, 2, h.o.Progress().Current())
	assert.Equal(t, progress.PhaseRunning, h.o.Progress().Phase(), "no phase change on cancellation")
	assert.Empty(t, h.notes.Errors())
}

func TestStartWithCancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.o.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Empty(t, h.svc.Calls())
}

func TestConcurrentRunIsRejected(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.svc.before = func(context.Context, modelconfig.ModelConfig) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.o.Start(context.Background())
		done <- err
	}()

	<-entered
	_, err := h.o.Evaluate(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = h.o.Retry(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)

	// the guard is released once the run ends
	_, err = h.o.Evaluate(context.Background())
	assert.NoError(t, err)
}

func TestStartLoadFailure(t *testing.T) {
	h := newHarness(t)
	h.persist.GetAllErr = &store.ServerSelectionError{Op: "get all", Err: errors.New("database is locked")}

	res, err := h.o.Start(context.Background())
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, FailureConnectivity, abort.Class)
	assert.True(t, abort.Model.IsZero())
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.Empty(t, h.svc.Calls())

	events := h.notes.Events()
	require.Len(t, events, 3)
	assert.Equal(t, notify.KindHideLoading, events[1].Kind)
	assert.Equal(t, notify.KindShowError, events[2].Kind)

	// a manual retry resumes once the store is back
	h.persist.GetAllErr = nil
	res, err = h.o.Retry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Evaluated)
}

func TestCallTimeoutBoundsEachEntry(t *testing.T) {
	h := newHarness(t)
	h.o.callTimeout = time.Minute
	h.svc.before = func(ctx context.Context, _ modelconfig.ModelConfig) {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
	}

	_, err := h.o.Start(context.Background())
	require.NoError(t, err)
}

func TestNewRequiresCollaborators(t *testing.T) {
	src := modelconfig.NewCatalog(modelconfig.StaticFetcher(threeModels))
	st := evaluation.NewStore(evaluationtest.NewPersister())
	svc := &scriptedService{}

	for name, cfg := range map[string]Config{
		"no service":       {Source: src, Store: st},
		"no source":        {Service: svc, Store: st},
		"no store":         {Service: svc, Source: src},
		"negative timeout": {Service: svc, Source: src, Store: st, CallTimeout: -time.Second},
	} {
		_, err := New(cfg)
		assert.Error(t, err, name)
	}

	o, err := New(Config{Service: svc, Source: src, Store: st})
	require.NoError(t, err)
	assert.NotNil(t, o.Progress())
}

// #endregion lifecycle

// #region reporting

func TestRunsAreJournaledAndCounted(t *testing.T) {
	h := newHarness(t, evaluation.Record{Model: m1, Status: evaluation.StatusComplete})
	h.svc.fail[m2] = withStatus(http.StatusServiceUnavailable)
	h.journal.err = errors.New("disk full")

	res, err := h.o.Start(context.Background())
	require.NoError(t, err, "journal failures do not fail the run")

	require.Len(t, h.journal.entries, 1)
	e := h.journal.entries[0]
	assert.Equal(t, res.RunID, e.RunID)
	assert.Equal(t, "full", e.Mode)
	assert.Equal(t, "completed", e.Outcome)
	assert.Equal(t, 3, e.Total)
	assert.Equal(t, 2, e.Current)
	assert.Equal(t, 1, e.Evaluated)
	assert.Equal(t, 1, e.Skipped)
	assert.Equal(t, 1, e.Transient)
	assert.Empty(t, e.Error)

	assert.Equal(t, 1, h.metrics.entries["full/evaluated"])
	assert.Equal(t, 1, h.metrics.entries["full/skipped"])
	assert.Equal(t, 1, h.metrics.entries["full/transient"])
	assert.Equal(t, 1, h.metrics.runs["full/completed"])
}

func TestAbortIsJournaledWithError(t *testing.T) {
	h := newHarness(t)
	h.svc.fail[m1] = withStatus(http.StatusUnprocessableEntity)

	_, err := h.o.Start(context.Background())
	require.Error(t, err)
	require.Len(t, h.journal.entries, 1)
	assert.Equal(t, "aborted", h.journal.entries[0].Outcome)
	assert.Contains(t, h.journal.entries[0].Error, "status 422")
	assert.Equal(t, 1, h.metrics.entries["full/failed"])
	assert.Equal(t, 1, h.metrics.runs["full/aborted"])
}

// #endregion reporting
