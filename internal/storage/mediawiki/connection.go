package mediawiki

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/common"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL details that differ between MediaWiki backends
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// ErrInvalidProject is returned for project names that cannot be a database name
var ErrInvalidProject = errors.New("invalid project name")

var projectNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidProjectName reports whether name can be substituted into the DSN template
func ValidProjectName(name string) bool {
	return projectNamePattern.MatchString(name)
}

// Connections opens one database handle per MediaWiki project on first use.
// Handles are shared by every metric leaf running against the same project.
type Connections struct {
	config      common.MediaWikiConfig
	logger      arbor.ILogger
	registerer  prometheus.Registerer
	pingTimeout time.Duration

	mu         sync.Mutex
	projects   map[string]*Project
	collectors map[string]prometheus.Collector
}

// NewConnections validates the configuration. No database is opened yet.
// reg may be nil, in which case no DB stats collectors are registered.
func NewConnections(logger arbor.ILogger, config *common.MediaWikiConfig, reg prometheus.Registerer) (*Connections, error) {
	switch Dialect(config.Driver) {
	case DialectMySQL, DialectSQLite:
	default:
		return nil, fmt.Errorf("unsupported mediawiki driver: %s", config.Driver)
	}
	if !strings.Contains(config.DSNTemplate, "{project}") {
		return nil, fmt.Errorf("mediawiki dsn_template must contain {project}")
	}

	return &Connections{
		config:      *config,
		logger:      logger,
		registerer:  reg,
		pingTimeout: 30 * time.Second,
		projects:    make(map[string]*Project),
		collectors:  make(map[string]prometheus.Collector),
	}, nil
}

// Project returns the handle for name, opening it when needed
func (c *Connections) Project(ctx context.Context, name string) (*Project, error) {
	if !ValidProjectName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProject, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.projects[name]; ok {
		return p, nil
	}

	p, err := c.open(ctx, name)
	if err != nil {
		return nil, err
	}
	c.projects[name] = p

	if c.registerer != nil {
		collector := collectors.NewDBStatsCollector(p.db, name)
		if err := c.registerer.Register(collector); err != nil {
			c.logger.Warn().Err(err).Str("project", name).Msg("Failed to register DB stats collector")
		} else {
			c.collectors[name] = collector
		}
	}

	return p, nil
}

func (c *Connections) open(ctx context.Context, name string) (*Project, error) {
	dialect := Dialect(c.config.Driver)
	dsn := strings.ReplaceAll(c.config.DSNTemplate, "{project}", name)

	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectMySQL:
		db, err = openMySQL(dsn)
	case DialectSQLite:
		db, err = openSQLite(dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open project %s: %w", name, err)
	}

	if c.config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.config.MaxOpenConns)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.pingTimeout
	attempt := 1
	err = backoff.Retry(func() error {
		if err := db.PingContext(ctx); err != nil {
			c.logger.Info().Str("project", name).Int("attempt", attempt).Msg("Waiting for project database")
			attempt++
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to project %s: %w", name, err)
	}

	c.logger.Info().Str("project", name).Str("driver", string(dialect)).Msg("Project database connected")
	return &Project{Name: name, Dialect: dialect, db: db}, nil
}

func openMySQL(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	// MediaWiki stores timestamps as binary(14) strings, keep them as strings
	cfg.ParseTime = false
	return sql.Open("mysql", cfg.FormatDSN())
}

func openSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite uses "sqlite" driver name (not "sqlite3")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return db, nil
}

// Projects returns the names of the open projects
func (c *Connections) Projects() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.projects))
	for name := range c.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every open project handle
func (c *Connections) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, p := range c.projects {
		if collector, ok := c.collectors[name]; ok && c.registerer != nil {
			c.registerer.Unregister(collector)
		}
		if err := p.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", name, err))
		}
	}
	c.projects = make(map[string]*Project)
	c.collectors = make(map[string]prometheus.Collector)

	return errors.Join(errs...)
}
