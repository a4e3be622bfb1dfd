package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/folio/storage"
)

const defaultSequenceBandwidth = 100

// Backend is the metadata store: one BadgerDB holding document records,
// the per-client index and graph snapshots.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

// BackendOption configures OpenBackend.
type BackendOption func(*backendOptions)

type backendOptions struct {
	logger     *slog.Logger
	syncWrites bool
}

// WithLogger sets the logger badger's own messages are routed to.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) BackendOption {
	return func(o *backendOptions) {
		o.logger = logger
	}
}

// WithSyncWrites fsyncs every commit. Ignored in memory.
func WithSyncWrites(sync bool) BackendOption {
	return func(o *backendOptions) {
		o.syncWrites = sync
	}
}

// badgerLogger routes badger's printf-style logging to slog. Badger reports
// routine compaction and replay at Info, which is demoted to Debug.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(format(msg, items))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(format(msg, items))
}

func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug(format(msg, items))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Debug(format(msg, items))
}

// format drops the trailing newline badger puts on its messages.
func format(msg string, items []any) string {
	return strings.TrimRight(fmt.Sprintf(msg, items...), "\n")
}

// OpenBackend opens the metadata store in dir, creating the directory if
// needed. With inMemory set, dir is ignored and nothing touches disk.
func OpenBackend(dir string, inMemory bool, opts ...BackendOption) (*Backend, error) {
	o := &backendOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger.With("component", "badger")

	var bopts badger.Options
	if inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating metadata directory: %w", err)
		}
		bopts = badger.DefaultOptions(dir).WithSyncWrites(o.syncWrites)
	}
	bopts.Logger = &badgerLogger{logger: logger}
	bopts.Compression = options.None

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	logger.Debug("opened metadata store", "dir", dir, "in_memory", inMemory)

	return &Backend{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed reports whether Close has been called.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// View runs fn in a read-only transaction.
func (b *Backend) View(fn func(tx *badger.Txn) error) error {
	return b.db.View(fn)
}

// Update runs fn in a read-write transaction and commits it if fn returns
// nil. A commit that loses to a concurrent writer is reported as
// storage.ErrTransactionFailed.
func (b *Backend) Update(fn func(tx *badger.Txn) error) error {
	err := b.db.Update(fn)
	if errors.Is(err, badger.ErrConflict) {
		b.logger.Warn("transaction conflict", "err", err)
		return fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	return err
}

// GetSequence returns a leased sequence for insertion ordering.
func (b *Backend) GetSequence(name string) (*badger.Sequence, error) {
	return b.db.GetSequence([]byte(name), defaultSequenceBandwidth)
}
