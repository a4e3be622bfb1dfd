package progress

import (
	"context"
	"log/slog"
)

// Log writes every event to a structured logger. Failed events are logged
// at warn level, everything else at info.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a logging notifier. Nil uses slog.Default().
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger.With("component", "progress")}
}

// Notify logs the event. It never fails.
func (l *Log) Notify(ctx context.Context, documentID string, event Event) error {
	level := slog.LevelInfo
	if event.Type == EventFailed {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "ingestion progress",
		"document", documentID,
		"event", event.Type,
		"status", event.Status,
		"chunk", event.Chunk,
		"chunks", event.ChunkCount,
		"message", event.Message)
	return nil
}

var _ Notifier = (*Log)(nil)
