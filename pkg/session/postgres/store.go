// Package postgres provides PostgreSQL storage for sessions.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/sqlsession/pkg/session"
)

const (
	// DefaultTable is the table created by the bundled migrations.
	DefaultTable = "rack_sessions"

	sessionIDColumn = "session_id"
	dataColumn      = "data"
)

// tableNamePattern accepts plain and schema-qualified identifiers.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Store implements session.Dataset on a PostgreSQL table with session_id and
// data columns. The table name is configurable; the column names are not.
type Store struct {
	db    *sql.DB
	table string
	psq   sq.StatementBuilderType
}

// Config configures the PostgreSQL session dataset.
type Config struct {
	// Table is the session table. Defaults to DefaultTable.
	Table string
}

// ValidTableName reports whether name can be used as a table name.
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

// New creates a new PostgreSQL session dataset.
func New(db *sql.DB, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !ValidTableName(cfg.Table) {
		return nil, fmt.Errorf("invalid session table name %q", cfg.Table)
	}
	return &Store{
		db:    db,
		table: cfg.Table,
		psq:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(db),
	}, nil
}

// Table returns the configured table name.
func (s *Store) Table() string {
	return s.table
}

// Lookup returns the payload stored for sid.
func (s *Store) Lookup(ctx context.Context, sid string) (*string, bool, error) {
	var data sql.NullString
	err := s.psq.Select(dataColumn).
		From(s.table).
		Where(sq.Eq{sessionIDColumn: sid}).
		Limit(1).
		QueryRowContext(ctx).
		Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("selecting session: %w", err)
	}
	if !data.Valid {
		return nil, true, nil
	}
	return &data.String, true, nil
}

// Insert adds a record for sid.
func (s *Store) Insert(ctx context.Context, sid, payload string) error {
	_, err := s.psq.Insert(s.table).
		Columns(sessionIDColumn, dataColumn).
		Values(sid, payload).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Update replaces the payload of the record for sid.
func (s *Store) Update(ctx context.Context, sid, payload string) error {
	_, err := s.psq.Update(s.table).
		Set(dataColumn, payload).
		Where(sq.Eq{sessionIDColumn: sid}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// Delete removes the record for sid.
func (s *Store) Delete(ctx context.Context, sid string) error {
	_, err := s.psq.Delete(s.table).
		Where(sq.Eq{sessionIDColumn: sid}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.psq.Select("COUNT(*)").
		From(s.table).
		QueryRowContext(ctx).
		Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

// Verify interface compliance.
var _ session.Dataset = (*Store)(nil)
