package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	appLog "coachcal/internal/log"
)

// Dialect holds the statements that differ between SQL servers.
type Dialect struct {
	Name   string
	Schema string
	Load   string
	Upsert string
	Delete string
}

var (
	PostgresDialect = Dialect{
		Name: "postgres",
		Schema: `CREATE TABLE IF NOT EXISTS coachcal_collections (
	name TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
		Load: `SELECT payload FROM coachcal_collections WHERE name = $1`,
		Upsert: `INSERT INTO coachcal_collections (name, payload, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		Delete: `DELETE FROM coachcal_collections WHERE name = $1`,
	}

	MySQLDialect = Dialect{
		Name: "mysql",
		Schema: `CREATE TABLE IF NOT EXISTS coachcal_collections (
	name VARCHAR(64) NOT NULL PRIMARY KEY,
	payload LONGTEXT NOT NULL,
	updated_at DATETIME(6) NOT NULL
) CHARACTER SET utf8mb4`,
		Load: `SELECT payload FROM coachcal_collections WHERE name = ?`,
		Upsert: `INSERT INTO coachcal_collections (name, payload, updated_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`,
		Delete: `DELETE FROM coachcal_collections WHERE name = ?`,
	}
)

// SQL stores each collection as one row holding a JSON array.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewSQL wraps an already opened database handle.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect, now: time.Now}
}

// OpenPostgres connects through the pgx stdlib driver and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres storage: %w", err)
	}
	return prepareSQL(ctx, db, PostgresDialect)
}

// OpenMySQL connects with parseTime forced on and creates the schema.
func OpenMySQL(ctx context.Context, dsn string) (*SQL, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql storage: invalid dsn: %w", err)
	}
	cfg.ParseTime = true
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("mysql storage: %w", err)
	}
	return prepareSQL(ctx, db, MySQLDialect)
}

func prepareSQL(ctx context.Context, db *sql.DB, dialect Dialect) (*SQL, error) {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s storage: ping: %w", dialect.Name, err)
	}

	s := NewSQL(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	appLog.Info("sql storage ready", "dialect", dialect.Name)
	return s, nil
}

// Migrate creates the collections table if it does not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.Schema); err != nil {
		return fmt.Errorf("%s storage: migrate: %w", s.dialect.Name, err)
	}
	return nil
}

func (s *SQL) LoadCollection(ctx context.Context, name string) ([]Record, error) {
	if name == "" {
		return nil, ErrInvalidCollection
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx, s.dialect.Load, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s storage: load %s: %w", s.dialect.Name, name, err)
	}
	recs, err := unmarshalCollection(payload)
	if err != nil {
		return nil, fmt.Errorf("%s storage: decode %s: %w", s.dialect.Name, name, err)
	}
	return recs, nil
}

func (s *SQL) SaveCollection(ctx context.Context, name string, records []Record) error {
	if name == "" {
		return ErrInvalidCollection
	}
	payload, err := marshalCollection(records)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.Upsert, name, string(payload), s.now().UTC()); err != nil {
		return fmt.Errorf("%s storage: save %s: %w", s.dialect.Name, name, err)
	}
	return nil
}

func (s *SQL) DeleteCollections(ctx context.Context, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s storage: begin: %w", s.dialect.Name, err)
	}
	for _, n := range names {
		if _, err := tx.ExecContext(ctx, s.dialect.Delete, n); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s storage: delete %s: %w", s.dialect.Name, n, err)
		}
	}
	return tx.Commit()
}

func (s *SQL) Close() error {
	return s.db.Close()
}
