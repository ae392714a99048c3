package report

import (
	"fmt"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation"
)

// #region summarize
// Summarize counts records per status and picks the most accurate one.
// Ties keep the earlier record.
func Summarize(records []evaluation.Record) Summary {
	s := Summary{
		Total:    len(records),
		ByStatus: make(map[evaluation.Status]int),
	}
	bestAcc := -1.0
	for i := range records {
		s.ByStatus[records[i].Status]++
		if acc, ok := records[i].Accuracy(); ok && acc > bestAcc {
			bestAcc = acc
			best := records[i]
			s.Best = &best
		}
	}
	return s
}

// #endregion summarize

// #region rows
// Rows renders records for display, in the order given.
func Rows(records []evaluation.Record) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{
			Architecture: r.Model.Architecture,
			Dataset:      r.Model.Dataset,
			Loss:         r.Model.Loss,
			Optimizer:    r.Model.Optimizer,
			Status:       string(r.Status),
			Accuracy:     formatAccuracy(r),
		})
	}
	return rows
}

// Filter keeps the records with the given status. An empty status keeps all.
func Filter(records []evaluation.Record, status evaluation.Status) []evaluation.Record {
	if status == "" {
		return records
	}
	var out []evaluation.Record
	for _, r := range records {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func formatAccuracy(r evaluation.Record) string {
	acc, ok := r.Accuracy()
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", acc*100)
}

// #endregion rows
