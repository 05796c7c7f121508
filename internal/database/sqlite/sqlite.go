// Package sqlite is the default, file-backed library store.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/kozaktomas/media-annotator/internal/database"
	"github.com/kozaktomas/media-annotator/internal/database/sqldb"
)

//go:embed schema.sql
var schemaSQL string

// Dialect is the sqlite flavour of the shared SQL store.
var Dialect = sqldb.Dialect{
	Name:             "sqlite",
	Schema:           schemaSQL,
	TableExistsQuery: "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	EncodeVector:     sqldb.EncodeBlob,
	NewVectorScanner: sqldb.NewBlobVector,
}

func init() {
	database.RegisterBackend("sqlite", func(ctx context.Context, dsn string, opts database.Options) (database.Store, error) {
		return Open(ctx, dsn, opts)
	})
}

// Open creates or opens the library database at path.
func Open(ctx context.Context, path string, opts database.Options) (*sqldb.Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; also keeps :memory: databases on a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	store, err := sqldb.New(ctx, db, Dialect, opts.Logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
