package licensestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTableName sets the table name. Default: "licensekey_registrations".
func WithTableName(name string) PostgresOption {
	return func(s *PostgresStore) {
		s.tableName = name
	}
}

// PostgresStore implements Store on a PostgreSQL table.
type PostgresStore struct {
	pool      *pgxpool.Pool
	tableName string
	ownsPool  bool
}

// NewPostgresStore wraps pool and creates the table if needed. The caller keeps
// ownership of pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{
		pool:      pool,
		tableName: defaultName,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := checkIdentifier("table", s.tableName); err != nil {
		return nil, err
	}
	if err := s.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return s, nil
}

// OpenPostgresStore connects to dsn. Close releases the connection pool.
func OpenPostgresStore(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewPostgresStore(ctx, pool, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.ownsPool = true
	return s, nil
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			unique_id         TEXT PRIMARY KEY,
			license_key       TEXT NOT NULL,
			key_digest        TEXT NOT NULL DEFAULT '',
			product           TEXT NOT NULL DEFAULT '',
			license_type      TEXT NOT NULL DEFAULT '',
			fingerprint       TEXT NOT NULL DEFAULT '',
			registered_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_validated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_%s_last_validated
			ON %s (last_validated_at);
	`, s.tableName, s.tableName, s.tableName)
	_, err := s.pool.Exec(ctx, query)
	return err
}

const entryColumns = `unique_id, license_key, key_digest, product, license_type, fingerprint, registered_at, last_validated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.UniqueID, &e.LicenseKey, &e.KeyDigest, &e.Product, &e.LicenseType,
		&e.Fingerprint, &e.RegisteredAt, &e.LastValidatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) Put(ctx context.Context, e Entry) (*Entry, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if e.RegisteredAt.IsZero() {
		e.RegisteredAt = now
	}
	if e.LastValidatedAt.IsZero() {
		e.LastValidatedAt = now
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (unique_id) DO UPDATE SET
			license_key = EXCLUDED.license_key,
			key_digest = EXCLUDED.key_digest,
			product = EXCLUDED.product,
			license_type = EXCLUDED.license_type,
			fingerprint = EXCLUDED.fingerprint,
			last_validated_at = EXCLUDED.last_validated_at
		RETURNING %s
	`, s.tableName, entryColumns, entryColumns)

	out, err := scanEntry(s.pool.QueryRow(ctx, query,
		e.UniqueID, e.LicenseKey, e.KeyDigest, e.Product, e.LicenseType, e.Fingerprint,
		e.RegisteredAt, e.LastValidatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("put registration: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, uniqueID string) (*Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE unique_id = $1`, entryColumns, s.tableName)
	e, err := scanEntry(s.pool.QueryRow(ctx, query, uniqueID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Delete(ctx context.Context, uniqueID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE unique_id = $1`, s.tableName)
	if _, err := s.pool.Exec(ctx, query, uniqueID); err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY registered_at, unique_id`, entryColumns, s.tableName)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Touch(ctx context.Context, uniqueID string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET last_validated_at = $2 WHERE unique_id = $1`, s.tableName)
	tag, err := s.pool.Exec(ctx, query, uniqueID, at.UTC())
	if err != nil {
		return fmt.Errorf("touch registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	query := fmt.Sprintf(`DELETE FROM %s WHERE last_validated_at < $1`, s.tableName)
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune registrations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Close(_ context.Context) error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}
