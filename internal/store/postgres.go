package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresBackend keeps records as rows of the dlm_records table.
type PostgresBackend struct {
	db *sql.DB
}

var _ Backend = (*PostgresBackend)(nil)

// OpenPostgres connects to the database at dsn and checks the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres database: %w", err)
	}
	return NewPostgresBackend(db), nil
}

// NewPostgresBackend wraps an open database handle.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// EnsureSchema creates the records table if it does not exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := b.db.ExecContext(
		ctx,
		"CREATE TABLE IF NOT EXISTS dlm_records ("+
			"namespace TEXT NOT NULL, "+
			"name TEXT NOT NULL, "+
			"data BYTEA NOT NULL, "+
			"updated_at TIMESTAMPTZ NOT NULL DEFAULT now(), "+
			"PRIMARY KEY (namespace, name))",
	); err != nil {
		return fmt.Errorf("creating `dlm_records` postgres table: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Read(ctx context.Context, namespace, name string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(
		ctx,
		"SELECT data FROM dlm_records WHERE namespace = $1 AND name = $2",
		namespace,
		name,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading record `%s/%s`: %w", namespace, name, err)
	}
	return data, nil
}

func (b *PostgresBackend) Write(ctx context.Context, namespace, name string, data []byte) error {
	if _, err := b.db.ExecContext(
		ctx,
		"INSERT INTO dlm_records (namespace, name, data, updated_at) "+
			"VALUES ($1, $2, $3, now()) "+
			"ON CONFLICT (namespace, name) DO UPDATE "+
			"SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at",
		namespace,
		name,
		data,
	); err != nil {
		return fmt.Errorf("writing record `%s/%s`: %w", namespace, name, err)
	}
	return nil
}

func (b *PostgresBackend) Delete(ctx context.Context, namespace, name string) error {
	if _, err := b.db.ExecContext(
		ctx,
		"DELETE FROM dlm_records WHERE namespace = $1 AND name = $2",
		namespace,
		name,
	); err != nil {
		return fmt.Errorf("deleting record `%s/%s`: %w", namespace, name, err)
	}
	return nil
}

// Close closes the database handle.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}
