package progress

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Tracker renders chunk progress of a single run on a terminal.
type Tracker struct {
	writer    io.Writer
	total     int
	current   int
	startTime time.Time
	started   bool
	finished  bool
	mu        sync.Mutex
}

// NewTracker creates a tracker writing to writer (typically os.Stderr).
func NewTracker(writer io.Writer) *Tracker {
	return &Tracker{writer: writer}
}

// Notify updates the display from a pipeline event.
func (p *Tracker) Notify(_ context.Context, _ string, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch event.Type {
	case EventStarted:
		p.startTime = time.Now()
		p.started = true
		p.finished = false
		p.current = 0
		p.total = 0
		fmt.Fprintf(p.writer, "Ingesting %s\n", event.Filename)

	case EventSplitComplete:
		if !p.started {
			return nil
		}
		p.total = event.ChunkCount
		p.report()

	case EventChunkComplete:
		if !p.started {
			return nil
		}
		p.current = min(event.Chunk+1, p.total)
		p.report()

	case EventCompleted:
		if !p.started || p.finished {
			return nil
		}
		p.current = p.total
		p.report()
		fmt.Fprintln(p.writer)
		p.finished = true

	case EventFailed:
		if !p.started || p.finished {
			return nil
		}
		fmt.Fprintf(p.writer, "\nFailed: %s\n", event.Message)
		p.finished = true
	}
	return nil
}

// Elapsed returns the time since the run started.
func (p *Tracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

// report prints the current progress. Must be called with lock held.
func (p *Tracker) report() {
	elapsed := time.Since(p.startTime)
	rate := float64(p.current) / elapsed.Seconds()

	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100.0
	}

	fmt.Fprintf(p.writer, "\rProgress: %d/%d chunks (%.1f%%) - %.2f chunks/s",
		p.current, p.total, percentage, rate)
}

var _ Notifier = (*Tracker)(nil)
