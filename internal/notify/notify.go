package notify

import (
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// #region sink

// Sink receives user-facing notifications. Calls are fire-and-forget.
type Sink interface {
	ShowLoading(label string)
	HideLoading()
	ShowError(err error, title, message string)
}

// #endregion sink

// #region log-sink

// LogSink writes notifications to a logger and times loading phases.
type LogSink struct {
	log logr.Logger
	now func() time.Time

	mu      sync.Mutex
	label   string
	started time.Time
	active  bool
}

// NewLogSink returns a sink logging through log.
func NewLogSink(log logr.Logger) *LogSink {
	return &LogSink{log: log, now: time.Now}
}

// ShowLoading starts the stopwatch unless one is already running.
func (s *LogSink) ShowLoading(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.label = label
	s.started = s.now()
	s.log.Info("loading", "label", label)
}

// HideLoading stops the stopwatch and logs the elapsed time.
func (s *LogSink) HideLoading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	s.log.Info("loaded", "label", s.label, "elapsed", s.now().Sub(s.started).String())
}

// ShowError logs err with its title and message.
func (s *LogSink) ShowError(err error, title, message string) {
	s.log.Error(err, message, "title", title)
}

// #endregion log-sink

// #region recorder

// Kind names a recorded notification.
type Kind string

const (
	KindShowLoading Kind = "show_loading"
	KindHideLoading Kind = "hide_loading"
	KindShowError   Kind = "show_error"
)

// Event is one notification captured by a Recorder.
type Event struct {
	Kind    Kind
	Label   string
	Err     error
	Title   string
	Message string
}

// Recorder keeps every notification in order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) ShowLoading(label string) {
	r.append(Event{Kind: KindShowLoading, Label: label})
}

func (r *Recorder) HideLoading() {
	r.append(Event{Kind: KindHideLoading})
}

func (r *Recorder) ShowError(err error, title, message string) {
	r.append(Event{Kind: KindShowError, Err: err, Title: title, Message: message})
}

func (r *Recorder) append(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded notifications.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Errors returns only the ShowError notifications.
func (r *Recorder) Errors() []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == KindShowError {
			out = append(out, e)
		}
	}
	return out
}

// #endregion recorder

// #region discard

// Discard drops every notification.
type Discard struct{}

func (Discard) ShowLoading(string) {}
func (Discard) HideLoading() {}
func (Discard) ShowError(error, string, string) {}

// #endregion discard
