package pipeline

import (
	"log/slog"
	"time"
)

// Report summarizes one run. Skipped tasks are counted as completed.
type Report struct {
	Submitted   int64         `json:"submitted"`
	Completed   int64         `json:"completed"`
	Failed      int64         `json:"failed"`
	Skipped     int64         `json:"skipped"`
	Uploaded    int64         `json:"uploaded"`
	Written     int64         `json:"written"`
	Linked      int64         `json:"linked"`
	Dropped     int64         `json:"dropped"`
	Reconciled  int64         `json:"reconciled"`
	Pruned      int64         `json:"pruned"`
	Duration    time.Duration `json:"duration"`
	Interrupted bool          `json:"interrupted"`
}

// LogValue implements slog.LogValuer.
func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("submitted", r.Submitted),
		slog.Int64("completed", r.Completed),
		slog.Int64("failed", r.Failed),
		slog.Int64("skipped", r.Skipped),
		slog.Int64("uploaded", r.Uploaded),
		slog.Int64("written", r.Written),
		slog.Int64("linked", r.Linked),
		slog.Int64("dropped", r.Dropped),
		slog.Int64("reconciled", r.Reconciled),
		slog.Int64("pruned", r.Pruned),
		slog.Duration("duration", r.Duration),
		slog.Bool("interrupted", r.Interrupted),
	)
}
