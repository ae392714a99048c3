package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/logging"
	"github.com/danielpatrickdp/evalboard/go-controller/internal/modelconfig"
)

// #endregion

// #region mode

// Mode identifies which worklist a run processes.
type Mode string

const (
	ModeFull    Mode = "full"
	ModePending Mode = "pending"
	ModeDedupe  Mode = "dedupe"
)

// #endregion

// #region outcome

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeCancelled Outcome = "cancelled"
)

// Per-entry outcomes reported to Metrics.
const (
	entryEvaluated = "evaluated"
	entrySkipped   = "skipped"
	entryTransient = "transient"
	entryFailed    = "failed"
)

// #endregion

// #region failure-class

// FailureClass routes a failed evaluation to continue or abort.
type FailureClass string

const (
	FailureNone         FailureClass = "none"
	FailureConnectivity FailureClass = "connectivity"
	FailureTransient    FailureClass = "transient"
	FailureGeneric      FailureClass = "generic"
)

// #endregion

// #region errors

// ErrRunInProgress is returned when a run is started while another one is
// still active on the same orchestrator.
var ErrRunInProgress = errors.New("orchestrator: run already in progress")

// AbortError ends a run. Model is zero when the failure happened while
// loading rather than on a worklist entry.
type AbortError struct {
	Class FailureClass
	Model modelconfig.ModelConfig
	Err   error
}

func (e *AbortError) Error() string {
	if e.Model.IsZero() {
		return fmt.Sprintf("run aborted (%s): %v", e.Class, e.Err)
	}
	return fmt.Sprintf("run aborted (%s) at %s: %v", e.Class, e.Model, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

// #endregion

// #region run-result

// RunResult summarizes one run.
type RunResult struct {
	RunID   string
	Mode    Mode
	Outcome Outcome
	Total   int
	// Current is the progress count when the run ended.
	Current   int
	Evaluated int
	Skipped   int
	Transient int
	Err       error
}

// #endregion

// #region interfaces

// Metrics receives per-entry and per-run outcomes.
type Metrics interface {
	ObserveEvaluation(mode, outcome string)
	ObserveRun(mode, outcome string)
}

// Journal persists one entry per finished run.
type Journal interface {
	LogRun(ctx context.Context, entry logging.RunEntry) error
}

// #endregion
