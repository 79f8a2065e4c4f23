// Package store is the persistent-store collaborator: it inserts decoded
// records and reads the price table.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"fleetrelay/internal/codec"
)

const (
	defaultRecordsTable = "customer_data"
	defaultPricesTable  = "prices"
)

// Dialect picks placeholder style and DDL.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite":
		return SQLite, nil
	case "pgx", "postgres":
		return Postgres, nil
	}
	return SQLite, fmt.Errorf("store: unsupported driver %q", driver)
}

// Price is one row of the price table.
type Price struct {
	Location string
	Price    float64
}

// Store persists telemetry records. Inserts are not deduplicated.
type Store struct {
	db      *sql.DB
	dialect Dialect
	records string
	prices  string
}

// Option configures the store.
type Option func(*Store)

// WithRecordsTable overrides the default records table name.
func WithRecordsTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.records = table
		}
	}
}

// WithPricesTable overrides the default price table name.
func WithPricesTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.prices = table
		}
	}
}

// WithDialect selects SQL flavour; SQLite is the default.
func WithDialect(d Dialect) Option {
	return func(s *Store) { s.dialect = d }
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// New wraps an open database.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("store: nil db")
	}
	s := &Store{db: db, records: defaultRecordsTable, prices: defaultPricesTable}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range []string{s.records, s.prices} {
		if !identRe.MatchString(name) {
			return nil, fmt.Errorf("store: invalid table name %q", name)
		}
	}
	return s, nil
}

// Open connects with the named driver ("sqlite" or "pgx") and pings.
// For SQLite the parent directory of the database file is created.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		if err := ensureDBDir(dsn); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if dialect == SQLite {
		// a single writer avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}
	s, err := New(db, append([]Option{WithDialect(dialect)}, opts...)...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func ensureDBDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	return nil
}

// EnsureSchema creates the records and price tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: schema: %w", err)
		}
	}
	return nil
}

func (s *Store) schema() []string {
	if s.dialect == Postgres {
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	mac_address TEXT NOT NULL,
	status TEXT NOT NULL,
	x DOUBLE PRECISION NOT NULL,
	y DOUBLE PRECISION NOT NULL,
	z DOUBLE PRECISION NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s.records),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	location TEXT NOT NULL,
	price DOUBLE PRECISION NOT NULL
)`, s.prices),
		}
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY,
	mac_address TEXT NOT NULL,
	status TEXT NOT NULL,
	x REAL NOT NULL,
	y REAL NOT NULL,
	z REAL NOT NULL,
	received_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, s.records),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY,
	location TEXT NOT NULL,
	price REAL NOT NULL
)`, s.prices),
	}
}

// InsertRecord stores one record as a new row.
func (s *Store) InsertRecord(ctx context.Context, r codec.Record) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (mac_address, status, x, y, z) VALUES (%s)",
		s.records, s.placeholders(5))
	if _, err := s.db.ExecContext(ctx, query,
		r.SourceID, string(r.Status), r.X.Float64(), r.Y.Float64(), r.Z.Float64(),
	); err != nil {
		return fmt.Errorf("store: insert %s: %w", r.SourceID, err)
	}
	return nil
}

// ListPrices returns every location and its current price.
func (s *Store) ListPrices(ctx context.Context) ([]Price, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT location, price FROM %s ORDER BY id", s.prices))
	if err != nil {
		return nil, fmt.Errorf("store: list prices: %w", err)
	}
	defer rows.Close()

	var out []Price
	for rows.Next() {
		var p Price
		if err := rows.Scan(&p.Location, &p.Price); err != nil {
			return nil, fmt.Errorf("store: scan price: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		if s.dialect == Postgres {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return strings.Join(ph, ", ")
}
