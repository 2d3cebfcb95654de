package mediawiki

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const (
	mysqlTimestampFormat  = "20060102150405"
	sqliteTimestampFormat = "2006-01-02 15:04:05"
)

// Project is an open MediaWiki project database
type Project struct {
	Name    string
	Dialect Dialect
	db      *sql.DB
}

// NewProject wraps an existing handle. Used by tests and tools that manage their own DB.
func NewProject(name string, dialect Dialect, db *sql.DB) *Project {
	return &Project{Name: name, Dialect: dialect, db: db}
}

// DB returns the underlying database handle
func (p *Project) DB() *sql.DB {
	return p.db
}

// Builder returns a statement builder for the project's dialect
func (p *Project) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(p.db)
}

// FormatTimestamp renders t the way rev_timestamp is stored
func (p *Project) FormatTimestamp(t time.Time) string {
	if p.Dialect == DialectMySQL {
		return t.UTC().Format(mysqlTimestampFormat)
	}
	return t.UTC().Format(sqliteTimestampFormat)
}

// sqliteSchema is the subset of the MediaWiki schema the metrics read
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS user (
		user_id INTEGER PRIMARY KEY,
		user_name TEXT NOT NULL UNIQUE,
		user_registration TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS page (
		page_id INTEGER PRIMARY KEY,
		page_namespace INTEGER NOT NULL,
		page_title TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS revision (
		rev_id INTEGER PRIMARY KEY,
		rev_page INTEGER NOT NULL,
		rev_user INTEGER NOT NULL,
		rev_timestamp TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_revision_user_timestamp ON revision(rev_user, rev_timestamp)`,
}

// InitSchema creates the tables the metrics read on a sqlite project.
// MySQL replicas already carry the full MediaWiki schema.
func (p *Project) InitSchema(ctx context.Context) error {
	if p.Dialect != DialectSQLite {
		return fmt.Errorf("schema init is only supported for sqlite projects")
	}
	for _, stmt := range sqliteSchema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init schema on %s: %w", p.Name, err)
		}
	}
	return nil
}
