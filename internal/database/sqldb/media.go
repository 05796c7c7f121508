package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/media-annotator/internal/database"
)

const mediaColumns = `id, path, hash, kind, exif_json, meta_json, status, error_message, last_processed_at, pipeline_version`

func scanMedia(row interface{ Scan(...any) error }) (*database.MediaItem, error) {
	var (
		item      database.MediaItem
		processed sql.NullInt64
	)
	if err := row.Scan(&item.ID, &item.Path, &item.Hash, &item.Kind, &item.ExifJSON, &item.MetaJSON,
		&item.Status, &item.ErrorMessage, &processed, &item.PipelineVersion); err != nil {
		return nil, err
	}
	if processed.Valid {
		t := fromMillis(processed.Int64)
		item.LastProcessedAt = &t
	}
	return &item, nil
}

// GetMedia retrieves an item by absolute path.
func (s *Store) GetMedia(ctx context.Context, path string) (*database.MediaItem, error) {
	item, err := scanMedia(s.queryRow(ctx, s.db, "SELECT "+mediaColumns+" FROM media_items WHERE path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media %s: %w", path, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get media %s: %w", path, err)
	}
	return item, nil
}

// ListMedia returns items whose path starts with prefix, ordered by path.
func (s *Store) ListMedia(ctx context.Context, prefix string) ([]database.MediaItem, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if prefix == "" {
		rows, err = s.query(ctx, s.db, "SELECT "+mediaColumns+" FROM media_items ORDER BY path")
	} else {
		rows, err = s.query(ctx, s.db,
			"SELECT "+mediaColumns+" FROM media_items WHERE SUBSTR(path, 1, ?) = ? ORDER BY path",
			len(prefix), prefix)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []database.MediaItem
	for rows.Next() {
		item, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media row: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media rows: %w", err)
	}
	return items, nil
}

// UpsertMedia inserts a discovered item or refreshes an existing one. A changed
// content hash sends the item back to discovered so every stage reruns.
func (s *Store) UpsertMedia(ctx context.Context, item *database.MediaItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanMedia(s.queryRow(ctx, tx, "SELECT "+mediaColumns+" FROM media_items WHERE path = ?", item.Path))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		item.Status = database.StatusDiscovered
		id, err := s.insert(ctx, tx, `INSERT INTO media_items
			(path, hash, kind, exif_json, meta_json, status, error_message, last_processed_at, pipeline_version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.Path, item.Hash, item.Kind, item.ExifJSON, item.MetaJSON, item.Status, "", sql.NullInt64{}, item.PipelineVersion)
		if err != nil {
			return fmt.Errorf("insert media %s: %w", item.Path, err)
		}
		item.ID = id
	case err != nil:
		return fmt.Errorf("get media %s: %w", item.Path, err)
	default:
		status := existing.Status
		if existing.Hash != item.Hash {
			status = database.StatusDiscovered
		}
		if _, err := s.exec(ctx, tx, "UPDATE media_items SET hash = ?, kind = ?, status = ? WHERE id = ?",
			item.Hash, item.Kind, status, existing.ID); err != nil {
			return fmt.Errorf("update media %s: %w", item.Path, err)
		}
		existing.Hash = item.Hash
		existing.Kind = item.Kind
		existing.Status = status
		*item = *existing
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// MarkStatus records a stage outcome on an item.
func (s *Store) MarkStatus(ctx context.Context, id int64, status, pipelineVersion, errMsg string) error {
	res, err := s.exec(ctx, s.db,
		"UPDATE media_items SET status = ?, pipeline_version = ?, error_message = ?, last_processed_at = ? WHERE id = ?",
		status, pipelineVersion, errMsg, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("mark media %d %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("media %d: %w", id, database.ErrNotFound)
	}
	return nil
}

// SetMeta stores raw metadata and the description document of an item.
func (s *Store) SetMeta(ctx context.Context, id int64, exifJSON, metaJSON string) error {
	if _, err := s.exec(ctx, s.db, "UPDATE media_items SET exif_json = ?, meta_json = ? WHERE id = ?",
		exifJSON, metaJSON, id); err != nil {
		return fmt.Errorf("set meta for media %d: %w", id, err)
	}
	return nil
}
