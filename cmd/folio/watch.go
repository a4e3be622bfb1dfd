package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poiesic/folio/core"
	"github.com/poiesic/folio/ingestion"
	"github.com/urfave/cli/v2"
)

// pdfEvent returns the path of a PDF file created or written by event.
// Hidden files, directories and other operations are skipped.
func pdfEvent(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || !strings.EqualFold(filepath.Ext(base), ".pdf") {
		return "", false
	}
	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		return "", false
	}
	return event.Name, true
}

// debouncer calls fire for a path once no event for it has arrived for
// the quiet period. fsnotify has no portable close-write event, so a file
// still being copied keeps resetting its timer.
type debouncer struct {
	quiet time.Duration
	fire  func(path string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newDebouncer(quiet time.Duration, fire func(path string)) *debouncer {
	return &debouncer{quiet: quiet, fire: fire, timers: make(map[string]*time.Timer)}
}

// touch starts or restarts the quiet period for path.
func (d *debouncer) touch(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[path]; ok && t.Stop() {
		t.Reset(d.quiet)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d.quiet, func() {
		d.mu.Lock()
		if d.timers[path] != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, path)
		d.mu.Unlock()
		d.fire(path)
	})
	d.timers[path] = t
}

// pending returns the number of paths waiting out their quiet period.
func (d *debouncer) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// stop drops every pending path without firing.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for path, t := range d.timers {
		t.Stop()
		delete(d.timers, path)
	}
}

// submitter submits each path once. A path whose run fails because the
// file could not be read is forgotten, so a later write submits it again.
type submitter struct {
	pipeline *ingestion.Pipeline
	client   string
	logger   *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

func newSubmitter(pipeline *ingestion.Pipeline, client string, logger *slog.Logger) *submitter {
	return &submitter{
		pipeline: pipeline,
		client:   client,
		logger:   logger,
		seen:     make(map[string]struct{}),
	}
}

func (s *submitter) submit(ctx context.Context, path string) (*ingestion.Handle, error) {
	s.mu.Lock()
	if _, ok := s.seen[path]; ok {
		s.mu.Unlock()
		return nil, nil
	}
	s.seen[path] = struct{}{}
	s.mu.Unlock()

	h, err := s.pipeline.Submit(ctx, ingestion.Upload{ClientId: s.client, SourcePath: path})
	if err != nil {
		s.forget(path)
		return nil, err
	}
	s.logger.Info("queued document", "path", path, "document", h.DocumentID())

	go func() {
		if _, err := h.Wait(context.Background()); errors.Is(err, core.ErrInvalidDocument) {
			s.logger.Warn("document unreadable, waiting for the next write", "path", path, "document", h.DocumentID())
			s.forget(path)
		}
	}()
	return h, nil
}

func (s *submitter) forget(path string) {
	s.mu.Lock()
	delete(s.seen, path)
	s.mu.Unlock()
}

func watchCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one directory is required")
	}
	dir, err := filepath.Abs(c.Args().First())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	f, err := openFolio(c)
	if err != nil {
		return err
	}
	defer f.Close()

	pipeline, err := f.NewPipeline()
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	logger := slog.Default().With("component", "watch")
	s := newSubmitter(pipeline, c.String("client"), logger)
	d := newDebouncer(c.Duration("quiet"), func(path string) {
		if _, err := s.submit(ctx, path); err != nil {
			logger.Error("error submitting document", "path", path, "err", err)
		}
	})
	defer d.stop()

	// Files already in the directory
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if _, ok := pdfEvent(fsnotify.Event{Name: path, Op: fsnotify.Create}); !ok {
			continue
		}
		if _, err := s.submit(ctx, path); err != nil {
			logger.Error("error submitting document", "path", path, "err", err)
		}
	}

	logger.Info("watching directory", "dir", dir, "quiet", c.Duration("quiet"))
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if path, ok := pdfEvent(event); ok {
				d.touch(path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "err", err)
		}
	}
}
