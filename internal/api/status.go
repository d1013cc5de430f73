package api

import (
	"sync"
	"time"

	"github.com/starford/ansuz/internal/pipeline"
)

// Status is the state of the ingester as reported by GET /api/status.
type Status struct {
	Running  bool             `json:"running"`
	Runs     int              `json:"runs"`
	LastRun  *pipeline.Report `json:"last_run,omitempty"`
	LastErr  string           `json:"last_error,omitempty"`
	Finished time.Time        `json:"finished_at"`
	Debounce string           `json:"debounce,omitempty"`
}

// Tracker records run outcomes. It is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	status Status
}

// NewTracker creates a Tracker; debounce is reported as is.
func NewTracker(debounce time.Duration) *Tracker {
	t := &Tracker{}
	if debounce > 0 {
		t.status.Debounce = debounce.String()
	}
	return t
}

// Start marks a run as in progress.
func (t *Tracker) Start() {
	t.mu.Lock()
	t.status.Running = true
	t.mu.Unlock()
}

// Finish records the outcome of a run.
func (t *Tracker) Finish(rep pipeline.Report, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Running = false
	t.status.Runs++
	t.status.LastRun = &rep
	t.status.LastErr = ""
	if err != nil {
		t.status.LastErr = err.Error()
	}
	t.status.Finished = time.Now()
}

// Status returns a snapshot.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status
	if s.LastRun != nil {
		rep := *s.LastRun
		s.LastRun = &rep
	}
	return s
}

// Ready reports whether at least one run has finished.
func (t *Tracker) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status.Runs > 0
}
