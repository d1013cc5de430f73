// Package sse streams ingest runs to Server-Sent Events clients.
//
// Every event carries a sequence id. The broker keeps the most recent
// events so a client reconnecting with Last-Event-ID resumes where it left
// off instead of missing the end of a run.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/pipeline"
)

// Event names.
const (
	EventRunStarted    = "run.started"
	EventRunProgress   = "run.progress"
	EventRunFinished   = "run.finished"
	EventEntityWritten = "entity.written"
	EventTaskFailed    = "task.failed"
)

// Run outcomes reported in RunData.
const (
	OutcomeOK          = "ok"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

const (
	historySize  = 128
	clientBuffer = 64
)

// EntityData is the payload of entity.written.
type EntityData struct {
	Kind string `json:"kind"`
	Slug string `json:"slug"`
	ID   int64  `json:"id"`
}

// FailureData is the payload of task.failed.
type FailureData struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// RunData is the payload of run.started and run.finished.
type RunData struct {
	Run     int64            `json:"run"`
	Outcome string           `json:"outcome,omitempty"`
	Error   string           `json:"error,omitempty"`
	Report  *pipeline.Report `json:"report,omitempty"`
}

type message struct {
	id   uint64
	name string
	data []byte
}

func (m message) encode() []byte {
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", m.id, m.name, m.data)
}

// hub is the state owned by the broker loop.
type hub struct {
	clients map[chan []byte]struct{}
	seq     uint64
	history []message
	runs    int64

	every    time.Duration
	lastSent time.Time
	held     *pipeline.Report
}

func (h *hub) emit(name string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	h.seq++
	m := message{id: h.seq, name: name, data: payload}
	h.history = append(h.history, m)
	if len(h.history) > historySize {
		h.history = h.history[len(h.history)-historySize:]
	}
	raw := m.encode()
	for ch := range h.clients {
		select {
		case ch <- raw:
		default:
			// Slow client; it can catch up through Last-Event-ID.
		}
	}
}

// progress emits r unless one was sent within the interval, in which case
// r is held until the next tick.
func (h *hub) progress(r pipeline.Report, now time.Time) {
	if now.Sub(h.lastSent) < h.every {
		h.held = &r
		return
	}
	h.lastSent = now
	h.held = nil
	h.emit(EventRunProgress, r)
}

func (h *hub) flush(now time.Time) {
	if h.held == nil {
		return
	}
	r := *h.held
	h.held = nil
	h.lastSent = now
	h.emit(EventRunProgress, r)
}

// Broker fans run events out to subscribers. One goroutine owns the hub;
// every public method hands it a closure.
type Broker struct {
	every   time.Duration
	ops     chan func(*hub)
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ pipeline.Observer = (*Broker)(nil)

// NewBroker creates a broker that sends run.progress at most once per
// interval.
func NewBroker(interval time.Duration) *Broker {
	if interval <= 0 {
		interval = time.Second
	}
	b := &Broker{
		every:   interval,
		ops:     make(chan func(*hub)),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	h := &hub{clients: make(map[chan []byte]struct{}), every: b.every}
	tick := time.NewTicker(b.every)
	defer tick.Stop()

	for {
		select {
		case <-b.stopCh:
			for ch := range h.clients {
				close(ch)
			}
			return
		case op := <-b.ops:
			op(h)
		case now := <-tick.C:
			h.flush(now)
		}
	}
}

// exec runs op on the loop goroutine. It reports false once the broker is
// closed.
func (b *Broker) exec(op func(*hub)) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.ops <- op:
		return true
	case <-b.stopped:
		return false
	}
}

// Close stops the loop and closes every subscriber channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. Retained events with an id above after are
// queued on the channel first; pass 0 for live events only.
func (b *Broker) Subscribe(after uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	ok := b.exec(func(h *hub) {
		if after > 0 {
			for _, m := range h.history {
				if m.id <= after {
					continue
				}
				select {
				case ch <- m.encode():
				default:
				}
			}
		}
		h.clients[ch] = struct{}{}
	})
	if !ok {
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.exec(func(h *hub) {
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
		}
	})
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	n := make(chan int, 1)
	if !b.exec(func(h *hub) { n <- len(h.clients) }) {
		return 0
	}
	return <-n
}

// RunStarted announces a new ingest run.
func (b *Broker) RunStarted() {
	b.exec(func(h *hub) {
		h.runs++
		h.held = nil
		h.lastSent = time.Time{}
		h.emit(EventRunStarted, RunData{Run: h.runs})
	})
}

// RunFinished announces the end of the current run with its report.
func (b *Broker) RunFinished(rep pipeline.Report, err error) {
	data := RunData{Outcome: OutcomeOK, Report: &rep}
	switch {
	case err != nil:
		data.Outcome = OutcomeFailed
		data.Error = err.Error()
	case rep.Interrupted:
		data.Outcome = OutcomeInterrupted
	}
	b.exec(func(h *hub) {
		h.held = nil
		data.Run = h.runs
		h.emit(EventRunFinished, data)
	})
}

// EntityWritten publishes a stored entity.
func (b *Broker) EntityWritten(e models.Entity) {
	data := EntityData{Kind: e.Kind.String(), Slug: e.Slug, ID: e.ID}
	b.exec(func(h *hub) { h.emit(EventEntityWritten, data) })
}

// TaskFailed publishes a task failure with its failure kind.
func (b *Broker) TaskFailed(path, kind string, err error) {
	data := FailureData{Path: path, Kind: kind, Error: err.Error()}
	b.exec(func(h *hub) { h.emit(EventTaskFailed, data) })
}

// Progress publishes a counter snapshot, throttled to the broker interval.
func (b *Broker) Progress(r pipeline.Report) {
	now := time.Now()
	b.exec(func(h *hub) { h.progress(r, now) })
}

// ServeHTTP streams events to the client (GET /api/events). A
// Last-Event-ID header replays retained events after that id.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var after uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid Last-Event-ID", http.StatusBadRequest)
			return
		}
		after = id
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(after)
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
