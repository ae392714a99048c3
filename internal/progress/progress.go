package progress

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// #region phase

// Phase is the run state shown by the indicator.
type Phase string

const (
	PhaseStopped  Phase = "stopped"
	PhaseRunning  Phase = "running"
	PhaseComplete Phase = "complete"
)

// #endregion phase

// #region snapshot

// Snapshot is a consistent read of the indicator.
type Snapshot struct {
	Total      int
	Current    int
	Phase      Phase
	Percentage int
}

// #endregion snapshot

// #region indicator

// Indicator tracks how far a run has progressed. It has a single writer (the
// orchestrator loop) and any number of readers.
type Indicator struct {
	mu      sync.RWMutex
	total   int
	current int
	phase   Phase

	obsMu     sync.Mutex
	observers []func(Snapshot)
}

// NewIndicator returns a stopped indicator with zero counts.
func NewIndicator() *Indicator {
	return &Indicator{phase: PhaseStopped}
}

// OnChange registers fn to receive a snapshot after every mutation.
func (p *Indicator) OnChange(fn func(Snapshot)) {
	p.obsMu.Lock()
	p.observers = append(p.observers, fn)
	p.obsMu.Unlock()
}

func (p *Indicator) mutate(fn func() bool) bool {
	p.mu.Lock()
	changed := fn()
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if changed {
		p.obsMu.Lock()
		observers := append([]func(Snapshot){}, p.observers...)
		p.obsMu.Unlock()
		for _, o := range observers {
			o(snap)
		}
	}
	return changed
}

// Reset sets current to zero and total to n. The phase is left alone so the
// caller decides when the run starts.
func (p *Indicator) Reset(total int) {
	if total < 0 {
		total = 0
	}
	p.mutate(func() bool {
		p.total = total
		p.current = 0
		return true
	})
}

// Run moves to the running phase. Counters are not touched.
func (p *Indicator) Run() {
	p.mutate(func() bool {
		p.phase = PhaseRunning
		return true
	})
}

// Stop moves to the stopped phase, both for idle and for aborted runs.
func (p *Indicator) Stop() {
	p.mutate(func() bool {
		p.phase = PhaseStopped
		return true
	})
}

// Complete moves a running indicator to complete. It reports false and does
// nothing in any other phase.
func (p *Indicator) Complete() bool {
	return p.mutate(func() bool {
		if p.phase != PhaseRunning {
			return false
		}
		p.phase = PhaseComplete
		return true
	})
}

// Advance counts one processed entry. It reports false once current has
// reached total.
func (p *Indicator) Advance() bool {
	return p.mutate(func() bool {
		if p.current >= p.total {
			return false
		}
		p.current++
		return true
	})
}

// #endregion indicator

// #region readers

// Snapshot returns the current counts and phase.
func (p *Indicator) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Indicator) snapshotLocked() Snapshot {
	return Snapshot{
		Total:      p.total,
		Current:    p.current,
		Phase:      p.phase,
		Percentage: percentage(p.current, p.total),
	}
}

// Total returns the number of entries in the current run.
func (p *Indicator) Total() int { return p.Snapshot().Total }

// Current returns the number of entries processed so far.
func (p *Indicator) Current() int { return p.Snapshot().Current }

// Phase returns the current phase.
func (p *Indicator) Phase() Phase { return p.Snapshot().Phase }

// Percentage returns round(current/total*100), or 0 when total is 0.
func (p *Indicator) Percentage() int { return p.Snapshot().Percentage }

func percentage(current, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(total) * 100))
}

// #endregion readers

// #region display

// Class projects the phase onto the progress bar style classes.
func (s Snapshot) Class() string {
	switch s.Phase {
	case PhaseRunning:
		return "progress-bar-striped progress-bar-animated"
	case PhaseComplete:
		return "bg-success"
	default:
		return "bg-danger"
	}
}

const barWidth = 20

// String renders a one-line progress bar, e.g. "[#####---------------]  25% (1/4) running".
func (s Snapshot) String() string {
	filled := s.Percentage * barWidth / 100
	return fmt.Sprintf("[%s%s] %3d%% (%d/%d) %s",
		strings.Repeat("#", filled), strings.Repeat("-", barWidth-filled),
		s.Percentage, s.Current, s.Total, s.Phase)
}

// #endregion display
