package evaluation

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/modelconfig"
)

// #region status

// Status tags the lifecycle of an evaluation record. Values other than the
// constants below come from the evaluation service and are kept verbatim.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusComplete Status = "COMPLETE"
	StatusError    Status = "ERROR"
)

// #endregion status

// #region metrics

// Metrics holds result values keyed by phase ("train", "validation", "test")
// and then by metric name ("acc", "loss").
type Metrics map[string]map[string]float64

// Value looks up a single metric.
func (m Metrics) Value(phase, name string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[phase][name]
	return v, ok
}

// #endregion metrics

// #region record

// Record is the persisted outcome of evaluating one ModelConfig.
type Record struct {
	ID        string                  `json:"id,omitempty"`
	Model     modelconfig.ModelConfig `json:"model"`
	Status    Status                  `json:"status"`
	Result    Metrics                 `json:"result,omitempty"`
	CreatedAt time.Time               `json:"created_at,omitempty"`
	UpdatedAt time.Time               `json:"updated_at,omitempty"`
}

// IsPending reports whether the record still awaits a terminal outcome.
func (r Record) IsPending() bool {
	return r.Status == StatusPending
}

// Accuracy returns the test-phase accuracy, if the result carries one.
func (r Record) Accuracy() (float64, bool) {
	return r.Result.Value("test", "acc")
}

// #endregion record

// #region persister

// ErrNotFound is returned when a record to replace does not exist.
var ErrNotFound = errors.New("evaluation record not found")

// Persister is the durable side of a Store.
type Persister interface {
	GetAll(ctx context.Context) ([]Record, error)
	// InsertOne stores rec and returns it with its id and timestamps set.
	InsertOne(ctx context.Context, rec Record) (Record, error)
	// ReplaceOne overwrites the record with the same id.
	ReplaceOne(ctx context.Context, rec Record) (Record, error)
	DeleteMany(ctx context.Context, ids []string) (int, error)
}

// #endregion persister

// #region change

// ChangeKind names the mutation a Change reports.
type ChangeKind string

const (
	ChangeLoaded       ChangeKind = "loaded"
	ChangeAdded        ChangeKind = "added"
	ChangeUpdated      ChangeKind = "updated"
	ChangeDeduplicated ChangeKind = "deduplicated"
)

// Change is emitted after a mutation has been committed. Record is set for
// added and updated changes only.
type Change struct {
	Kind   ChangeKind
	Record *Record
	Len    int
}

// #endregion change
