package logging

import "time"

// #region run-entry
// RunEntry is a single row in the run_log table.
type RunEntry struct {
	RunID      string    `json:"run_id"`
	Mode       string    `json:"mode"`    // "full" | "pending" | "dedupe"
	Outcome    string    `json:"outcome"` // "completed" | "aborted" | "cancelled"
	Total      int       `json:"total"`
	Current    int       `json:"current"`
	Evaluated  int       `json:"evaluated"`
	Skipped    int       `json:"skipped"`
	Transient  int       `json:"transient"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is how long the run took.
func (e RunEntry) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.FinishedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// #endregion run-entry
