package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/poiesic/folio/storage"
)

// RelationalStore implements storage.RelationalStore with one SQLite file
// per database, all kept under a single directory.
type RelationalStore struct {
	dir    string
	logger *slog.Logger

	mu     sync.Mutex
	dbs    map[string]*sql.DB
	closed bool
}

var _ storage.RelationalStore = (*RelationalStore)(nil)

// OpenRelationalStore creates a store rooted at dir.
func OpenRelationalStore(dir string, logger *slog.Logger) (*RelationalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating relational store directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RelationalStore{
		dir:    dir,
		logger: logger.With("component", "sqlite-relational"),
		dbs:    make(map[string]*sql.DB),
	}, nil
}

// EnsureDatabase creates the database file if it does not exist.
func (s *RelationalStore) EnsureDatabase(ctx context.Context, database string) error {
	_, err := s.database(ctx, database)
	return err
}

// CreateTable creates the table if needed and adds any columns an existing
// table is missing, so a table continued across chunks keeps accepting rows.
func (s *RelationalStore) CreateTable(ctx context.Context, database, table string, columns []string) error {
	if err := storage.CheckIdentifiers(append([]string{table}, columns...)...); err != nil {
		return err
	}
	db, err := s.database(ctx, database)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, createTableSQL(table, columns)); err != nil {
		return fmt.Errorf("creating table %s.%s: %w", database, table, err)
	}

	existing, err := tableColumns(ctx, db, table)
	if err != nil {
		return err
	}
	for _, col := range columns {
		if _, ok := existing[strings.ToLower(col)]; ok {
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s TEXT`, quote(table), quote(col))); err != nil {
			return fmt.Errorf("adding column %s to %s.%s: %w", col, database, table, err)
		}
		s.logger.Debug("added column", "database", database, "table", table, "column", col)
	}
	return nil
}

// InsertRows appends rows in a single transaction. Either every row is
// committed or none is.
func (s *RelationalStore) InsertRows(ctx context.Context, database, table string, columns []string, rows [][]any) (int, error) {
	if err := storage.CheckIdentifiers(append([]string{table}, columns...)...); err != nil {
		return 0, err
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("%w: row %d has %d values for %d columns", storage.ErrInvalidQuery, i, len(row), len(columns))
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}
	db, err := s.database(ctx, database)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL(table, columns))
	if err != nil {
		return 0, fmt.Errorf("preparing insert into %s.%s: %w", database, table, err)
	}
	defer stmt.Close()

	args := make([]any, len(columns))
	for i, row := range rows {
		for j, v := range row {
			args[j] = storage.CellValue(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("inserting row %d into %s.%s: %w", i, database, table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	return len(rows), nil
}

// Rows returns every row of a table in insertion order, without the row id.
// NULL cells are returned as empty strings.
func (s *RelationalStore) Rows(ctx context.Context, database, table string) ([]string, [][]string, error) {
	if err := storage.CheckIdentifier(table); err != nil {
		return nil, nil, err
	}
	db, err := s.database(ctx, database)
	if err != nil {
		return nil, nil, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s ORDER BY %s`, quote(table), quote(storage.RowIDColumn)))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]string
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make([]string, 0, len(cols)-1)
		for i, v := range values {
			if cols[i] == storage.RowIDColumn {
				continue
			}
			row = append(row, v.String)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	names := make([]string, 0, len(cols)-1)
	for _, c := range cols {
		if c != storage.RowIDColumn {
			names = append(names, c)
		}
	}
	return names, out, nil
}

// DropDatabase closes the database and removes its file along with the
// WAL and shared-memory files. A missing database is not an error.
func (s *RelationalStore) DropDatabase(ctx context.Context, database string) error {
	if err := storage.CheckIdentifier(database); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.ErrStorageClosed
	}
	if db, ok := s.dbs[database]; ok {
		delete(s.dbs, database)
		if err := db.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", database, err)
		}
	}

	path := filepath.Join(s.dir, database+".db")
	for _, file := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", file, err)
		}
	}
	s.logger.Debug("dropped database", "database", database)
	return nil
}

// Close closes every open database.
func (s *RelationalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for name, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	s.dbs = nil
	return errors.Join(errs...)
}

func (s *RelationalStore) database(ctx context.Context, name string) (*sql.DB, error) {
	if err := storage.CheckIdentifier(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrStorageClosed
	}
	if db, ok := s.dbs[name]; ok {
		return db, nil
	}

	db, err := open(filepath.Join(s.dir, name+".db"))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		db.Close()
		return nil, err
	}
	s.dbs[name] = db
	s.logger.Debug("opened database", "database", name)
	return db, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quote(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]struct{})
	for rows.Next() {
		var (
			cid       int
			name      string
			typ       string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = struct{}{}
	}
	return cols, rows.Err()
}

func createTableSQL(table string, columns []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (%s INTEGER PRIMARY KEY AUTOINCREMENT", quote(table), quote(storage.RowIDColumn))
	for _, col := range columns {
		fmt.Fprintf(&b, ", %s TEXT", quote(col))
	}
	b.WriteString(")")
	return b.String()
}

func insertSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quote(col)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(table), strings.Join(quoted, ", "), placeholders)
}

// quote assumes name already passed storage.CheckIdentifier.
func quote(name string) string {
	return `"` + name + `"`
}
