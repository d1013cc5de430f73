package pipeline

import (
	"context"
	"log/slog"

	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/vault"
)

// Scan walks the vault, pushes one task per document or media file and
// closes q when enumeration ends, whatever the outcome. Unreadable entries
// are logged and skipped; only a failure of the walk itself is returned.
func Scan(ctx context.Context, fs storage.Provider, q *Queue, logger *slog.Logger) error {
	defer q.Close()
	if logger == nil {
		logger = slog.Default()
	}
	return fs.Walk(ctx, func(rel string, err error) error {
		if err != nil {
			logger.Warn("scan: skip entry", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}
		class := vault.Classify(rel)
		if class == vault.ClassIgnored {
			return nil
		}
		q.Push(Task{Class: class, Path: rel})
		return nil
	})
}
