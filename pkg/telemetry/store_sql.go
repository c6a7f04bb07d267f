// Copyright 2025 Kadir Pekel
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

package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStoreConfig configures the SQL-backed telemetry store.
type SQLStoreConfig struct {
	// Driver is one of postgres, mysql, sqlite.
	Driver string `yaml:"driver,omitempty"`

	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`

	// Path is the database file for the sqlite driver.
	Path string `yaml:"path,omitempty"`

	MaxConns int `yaml:"max_conns,omitempty"`
	MaxIdle  int `yaml:"max_idle,omitempty"`
}

// SetDefaults applies default values.
func (c *SQLStoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.Driver == "sqlite" && c.Path == "" {
		c.Path = "agentos-telemetry.db"
	}
	if c.Port == 0 {
		switch c.Driver {
		case "postgres":
			c.Port = 5432
		case "mysql":
			c.Port = 3306
		}
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 2
	}
}

// Validate checks the configuration.
func (c *SQLStoreConfig) Validate() error {
	switch c.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported driver: %s (supported: postgres, mysql, sqlite)", c.Driver)
	}
	if c.Driver != "sqlite" && c.Database == "" {
		return fmt.Errorf("database name is required for %s", c.Driver)
	}
	return nil
}

// ConnectionString builds the driver DSN.
func (c *SQLStoreConfig) ConnectionString() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.Username, c.Password, c.Host, c.Port, c.Database)
	default:
		return c.Path
	}
}

// SQLStore persists outcome windows in a relational database.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

const createOutcomeTableSQL = `
CREATE TABLE IF NOT EXISTS outcome_windows (
    scope_key VARCHAR(255) NOT NULL,
    seq INTEGER NOT NULL,
    status VARCHAR(16) NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    recorded_at TIMESTAMP NOT NULL,
    PRIMARY KEY (scope_key, seq)
)`

const createOutcomeTableMySQL = `
CREATE TABLE IF NOT EXISTS outcome_windows (
    scope_key VARCHAR(255) NOT NULL,
    seq INTEGER NOT NULL,
    status VARCHAR(16) NOT NULL,
    score DOUBLE NOT NULL,
    recorded_at TIMESTAMP NOT NULL,
    PRIMARY KEY (scope_key, seq)
)`

// NewSQLStore creates a store over an existing database handle.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry schema: %w", err)
	}
	return s, nil
}

// NewSQLStoreFromConfig opens a connection and creates the store.
func NewSQLStoreFromConfig(cfg *SQLStoreConfig) (*SQLStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("SQL configuration is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	driverName := cfg.Driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s telemetry store: %w", cfg.Driver, err)
	}

	return NewSQLStore(db, cfg.Driver)
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := createOutcomeTableSQL
	if s.dialect == "mysql" {
		schema = createOutcomeTableMySQL
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// rebind converts ? placeholders to the dialect's positional form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LoadWindows returns all persisted windows keyed by scope, ordered by
// sequence within each scope.
func (s *SQLStore) LoadWindows(ctx context.Context) (map[string][]OutcomeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope_key, status, score, recorded_at FROM outcome_windows ORDER BY scope_key, seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcome windows: %w", err)
	}
	defer rows.Close()

	windows := make(map[string][]OutcomeEntry)
	for rows.Next() {
		var scopeKey, status string
		var score float64
		var recordedAt time.Time
		if err := rows.Scan(&scopeKey, &status, &score, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}
		parsed, ok := ParseStatus(status)
		if !ok {
			continue // unknown rows from newer versions are skipped
		}
		windows[scopeKey] = append(windows[scopeKey], OutcomeEntry{
			Status:    parsed,
			Score:     score,
			Timestamp: recordedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return windows, nil
}

// SaveWindow overwrites one scope's window in a single transaction.
func (s *SQLStore) SaveWindow(ctx context.Context, scopeKey string, entries []OutcomeEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM outcome_windows WHERE scope_key = ?`), scopeKey); err != nil {
		return fmt.Errorf("failed to clear outcome window: %w", err)
	}

	insert := s.rebind(`INSERT INTO outcome_windows (scope_key, seq, status, score, recorded_at) VALUES (?, ?, ?, ?, ?)`)
	for i, e := range entries {
		if _, err := tx.ExecContext(ctx, insert, scopeKey, i, string(e.Status), e.Score, e.Timestamp.UTC()); err != nil {
			return fmt.Errorf("failed to insert outcome entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outcome window: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
