// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package mysql provides a MySQL implementation of storage.RelationalStore.
// Each document database is a MySQL schema on a shared server connection.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/poiesic/folio/storage"
)

// Config holds the server connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Timeout  time.Duration
}

// DSN renders the connection string. No default schema is selected since
// every statement names its database explicitly.
func (c Config) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	port := c.Port
	if port == 0 {
		port = 3306
	}
	cfg.Addr = fmt.Sprintf("%s:%d", c.Host, port)
	cfg.ParseTime = true
	cfg.Timeout = c.Timeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// RelationalStore implements storage.RelationalStore for MySQL.
type RelationalStore struct {
	db     *sql.DB
	logger *slog.Logger
	closed atomic.Bool
}

var _ storage.RelationalStore = (*RelationalStore)(nil)

// Open connects to the server described by cfg.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*RelationalStore, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RelationalStore{db: db, logger: logger.With("component", "mysql-relational")}, nil
}

// EnsureDatabase creates the schema if it does not exist.
func (s *RelationalStore) EnsureDatabase(ctx context.Context, database string) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	if err := storage.CheckIdentifier(database); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, createDatabaseSQL(database))
	return err
}

// CreateTable creates the table if needed and adds any columns an existing
// table is missing.
func (s *RelationalStore) CreateTable(ctx context.Context, database, table string, columns []string) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	if err := storage.CheckIdentifiers(append([]string{database, table}, columns...)...); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, createTableSQL(database, table, columns)); err != nil {
		return fmt.Errorf("creating table %s.%s: %w", database, table, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT LOWER(COLUMN_NAME) FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`,
		database, table)
	if err != nil {
		return err
	}
	existing := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		existing[name] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range columns {
		if _, ok := existing[strings.ToLower(col)]; ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", qualified(database, table), quote(col))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("adding column %s to %s.%s: %w", col, database, table, err)
		}
		s.logger.Debug("added column", "database", database, "table", table, "column", col)
	}
	return nil
}

// InsertRows appends rows in a single transaction.
func (s *RelationalStore) InsertRows(ctx context.Context, database, table string, columns []string, rows [][]any) (int, error) {
	if s.closed.Load() {
		return 0, storage.ErrStorageClosed
	}
	if err := storage.CheckIdentifiers(append([]string{database, table}, columns...)...); err != nil {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", storage.ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL(database, table, columns))
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

// DropDatabase removes the schema and every table in it.
func (s *RelationalStore) DropDatabase(ctx context.Context, database string) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	if err := storage.CheckIdentifier(database); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, dropDatabaseSQL(database)); err != nil {
		return fmt.Errorf("dropping database %s: %w", database, err)
	}
	s.logger.Info("dropped database", "database", database)
	return nil
}

// Close closes the server connection pool.
func (s *RelationalStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func createDatabaseSQL(database string) string {
	return fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s CHARACTER SET utf8mb4", quote(database))
}

func dropDatabaseSQL(database string) string {
	return fmt.Sprintf("DROP DATABASE IF EXISTS %s", quote(database))
}

func createTableSQL(database, table string, columns []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (%s BIGINT AUTO_INCREMENT PRIMARY KEY",
		qualified(database, table), quote(storage.RowIDColumn))
	for _, col := range columns {
		fmt.Fprintf(&b, ", %s TEXT", quote(col))
	}
	b.WriteString(")")
	return b.String()
}

func insertSQL(database, table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quote(col)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", qualified(database, table), strings.Join(quoted, ", "), placeholders)
}

func qualified(database, table string) string {
	return quote(database) + "." + quote(table)
}

// quote assumes name already passed storage.CheckIdentifier.
func quote(name string) string {
	return "`" + name + "`"
}
