package report

import (
	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation"
)

// #region summary
// Summary aggregates a set of evaluation records.
type Summary struct {
	Total    int
	ByStatus map[evaluation.Status]int
	// Best is the record with the highest test accuracy, nil when no record has one.
	Best *evaluation.Record
}

// Pending is the number of records still awaiting an outcome.
func (s Summary) Pending() int { return s.ByStatus[evaluation.StatusPending] }

// #endregion summary

// #region row
// Row is one display line for a record.
type Row struct {
	Architecture string `json:"architecture"`
	Dataset      string `json:"dataset"`
	Loss         string `json:"loss"`
	Optimizer    string `json:"optimizer"`
	Status       string `json:"status"`
	Accuracy     string `json:"accuracy"`
}

// #endregion row
