package sse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/pipeline"
)

type event struct {
	id   uint64
	name string
	data string
}

func parse(t *testing.T, raw []byte) event {
	t.Helper()
	var ev event
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		k, v, _ := strings.Cut(line, ": ")
		switch k {
		case "id":
			id, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				t.Fatalf("bad id in %q", raw)
			}
			ev.id = id
		case "event":
			ev.name = v
		case "data":
			ev.data = v
		}
	}
	return ev
}

func next(t *testing.T, ch chan []byte) event {
	t.Helper()
	select {
	case raw, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return parse(t, raw)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return event{}
}

func decode[T any](t *testing.T, ev event) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(ev.data), &v); err != nil {
		t.Fatalf("decode %s payload %q: %v", ev.name, ev.data, err)
	}
	return v
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	ch := b.Subscribe(0)
	if n := b.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}
	b.Unsubscribe(ch)
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients = %d after unsubscribe, want 0", n)
	}
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
}

func TestRunLifecycle(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe(0)

	b.RunStarted()
	b.EntityWritten(models.Entity{Kind: models.KindTag, Slug: "go", ID: 3})
	b.TaskFailed("posts/bad.md", pipeline.FailureParse, errors.New("missing opening delimiter"))
	b.RunFinished(pipeline.Report{Submitted: 2, Completed: 1, Failed: 1}, nil)

	started := next(t, ch)
	if started.name != EventRunStarted || decode[RunData](t, started).Run != 1 {
		t.Errorf("first event = %+v, want run.started for run 1", started)
	}

	written := next(t, ch)
	if diff := cmp.Diff(EntityData{Kind: "tag", Slug: "go", ID: 3}, decode[EntityData](t, written)); written.name != EventEntityWritten || diff != "" {
		t.Errorf("entity event %s mismatch (-want +got):\n%s", written.name, diff)
	}

	failed := next(t, ch)
	wantFailure := FailureData{Path: "posts/bad.md", Kind: "parse", Error: "missing opening delimiter"}
	if diff := cmp.Diff(wantFailure, decode[FailureData](t, failed)); failed.name != EventTaskFailed || diff != "" {
		t.Errorf("failure event %s mismatch (-want +got):\n%s", failed.name, diff)
	}

	finished := next(t, ch)
	run := decode[RunData](t, finished)
	if finished.name != EventRunFinished || run.Run != 1 || run.Outcome != OutcomeOK {
		t.Errorf("last event = %s %+v, want run.finished ok for run 1", finished.name, run)
	}
	if run.Report == nil || run.Report.Failed != 1 {
		t.Errorf("finished report = %+v", run.Report)
	}

	if !(started.id < written.id && written.id < failed.id && failed.id < finished.id) {
		t.Errorf("ids not increasing: %d %d %d %d", started.id, written.id, failed.id, finished.id)
	}
}

func TestRunFinished_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		rep     pipeline.Report
		err     error
		outcome string
		errText string
	}{
		{"ok", pipeline.Report{Completed: 1}, nil, OutcomeOK, ""},
		{"interrupted", pipeline.Report{Interrupted: true}, nil, OutcomeInterrupted, ""},
		{"failed", pipeline.Report{}, pipeline.ErrTimeout, OutcomeFailed, "pipeline: timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBroker(time.Hour)
			defer b.Close()
			ch := b.Subscribe(0)

			b.RunFinished(tt.rep, tt.err)
			got := decode[RunData](t, next(t, ch))
			if got.Outcome != tt.outcome || got.Error != tt.errText {
				t.Errorf("outcome = %q, error = %q; want %q, %q", got.Outcome, got.Error, tt.outcome, tt.errText)
			}
		})
	}
}

func TestProgress_Throttled(t *testing.T) {
	b := NewBroker(50 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe(0)

	b.Progress(pipeline.Report{Completed: 1})
	b.Progress(pipeline.Report{Completed: 2})
	b.Progress(pipeline.Report{Completed: 3})

	first := next(t, ch)
	if first.name != EventRunProgress || decode[pipeline.Report](t, first).Completed != 1 {
		t.Fatalf("first progress = %+v, want completed 1", first)
	}
	// The held snapshot is the latest one and goes out on the next tick.
	held := next(t, ch)
	if held.name != EventRunProgress || decode[pipeline.Report](t, held).Completed != 3 {
		t.Fatalf("held progress = %+v, want completed 3", held)
	}
	select {
	case raw := <-ch:
		t.Errorf("unexpected extra event %q", raw)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestProgress_DroppedAtRunEnd(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe(0)

	b.Progress(pipeline.Report{Completed: 1})
	b.Progress(pipeline.Report{Completed: 2}) // held
	b.RunFinished(pipeline.Report{Completed: 2}, nil)

	if ev := next(t, ch); ev.name != EventRunProgress {
		t.Fatalf("first event = %s, want run.progress", ev.name)
	}
	if ev := next(t, ch); ev.name != EventRunFinished {
		t.Fatalf("second event = %s, want run.finished", ev.name)
	}
}

func TestSubscribe_ReplaysAfterID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	b.RunStarted()
	b.EntityWritten(models.Entity{Kind: models.KindPost, Slug: "a", ID: 1})
	b.EntityWritten(models.Entity{Kind: models.KindPost, Slug: "b", ID: 2})

	ch := b.Subscribe(1)
	var slugs []string
	for i := 0; i < 2; i++ {
		slugs = append(slugs, decode[EntityData](t, next(t, ch)).Slug)
	}
	if diff := cmp.Diff([]string{"a", "b"}, slugs); diff != "" {
		t.Errorf("replayed slugs mismatch (-want +got):\n%s", diff)
	}

	live := b.Subscribe(0)
	b.RunFinished(pipeline.Report{}, nil)
	if ev := next(t, live); ev.name != EventRunFinished || ev.id != 4 {
		t.Errorf("live subscriber got %+v, want run.finished with id 4", ev)
	}
}

func TestSubscribe_HistoryBounded(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	for i := 0; i < historySize+10; i++ {
		b.EntityWritten(models.Entity{Slug: "x"})
	}
	ch := b.Subscribe(1)
	first := next(t, ch)
	if first.id != 11 {
		t.Errorf("oldest retained id = %d, want 11", first.id)
	}
}

// syncRecorder guards the recorder body, which the handler writes while the
// test reads it.
type syncRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *syncRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func TestServeHTTP_ResumesFromLastEventID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	b.RunStarted()
	b.TaskFailed("assets/a.png", pipeline.FailureUpload, errors.New("bucket unavailable"))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.EntityWritten(models.Entity{Kind: models.KindProject, Slug: "ansuz", ID: 7})
	for !strings.Contains(w.body(), "ansuz") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	body := w.body()
	if strings.Contains(body, "event: "+EventRunStarted) {
		t.Errorf("event 1 replayed despite Last-Event-ID: %q", body)
	}
	for _, want := range []string{"id: 2\nevent: task.failed", `"kind":"upload"`, "id: 3\nevent: entity.written", `"slug":"ansuz"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q: %q", want, body)
		}
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}
	if n := b.ClientCount(); n != 0 {
		t.Errorf("clients = %d after disconnect, want 0", n)
	}
}

func TestServeHTTP_BadLastEventID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Last-Event-ID", "abc")
	w := httptest.NewRecorder()
	b.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestClose(t *testing.T) {
	b := NewBroker(time.Hour)
	ch := b.Subscribe(0)
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("subscriber channel still open")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if n := b.ClientCount(); n != 0 {
		t.Errorf("clients = %d after close", n)
	}

	// No-ops once closed.
	b.RunStarted()
	b.Progress(pipeline.Report{})
	if _, ok := <-b.Subscribe(0); ok {
		t.Error("subscribe after close returned an open channel")
	}
	b.Close()
}
