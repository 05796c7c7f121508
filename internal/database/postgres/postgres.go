// Package postgres stores the library in PostgreSQL with pgvector embeddings.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/database/sqldb"
)

//go:embed schema.sql
var schemaSQL string

// Dialect is the PostgreSQL flavour of the shared SQL store.
var Dialect = sqldb.Dialect{
	Name:   "postgres",
	Schema: schemaSQL,
	TableExistsQuery: `SELECT COUNT(1) FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = 'schema_version'`,
	Numbered:  true,
	Returning: true,
	EncodeVector: func(v []float32) any {
		return pgvector.NewVector(v)
	},
	NewVectorScanner: func() sqldb.VectorScanner {
		return &pgvector.Vector{}
	},
}

func init() {
	database.RegisterBackend("postgres", func(ctx context.Context, dsn string, opts database.Options) (database.Store, error) {
		return Open(ctx, dsn, opts)
	})
}

// NewPool opens and verifies a PostgreSQL connection pool.
func NewPool(ctx context.Context, url string, opts database.Options) (*sql.DB, error) {
	if url == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool.
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	// Verify connection.
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Open connects to PostgreSQL and prepares the library schema.
func Open(ctx context.Context, url string, opts database.Options) (*sqldb.Store, error) {
	db, err := NewPool(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	store, err := sqldb.New(ctx, db, Dialect, opts.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}
