package sqldb

import (
	"context"
	"fmt"

	"github.com/kozaktomas/media-annotator/internal/database"
)

// ListHistory returns the newest records first.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]database.RenameHistoryRecord, error) {
	query := `SELECT id, media_hash, old_path, new_path, sidecars_old, sidecars_new, mode, applied_at
		FROM rename_history ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.RenameHistoryRecord
	for rows.Next() {
		var (
			rec                      database.RenameHistoryRecord
			sidecarsOld, sidecarsNew string
			applied                  int64
		)
		if err := rows.Scan(&rec.ID, &rec.MediaHash, &rec.OldPath, &rec.NewPath,
			&sidecarsOld, &sidecarsNew, &rec.Mode, &applied); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if rec.SidecarsOld, err = decodeStrings(sidecarsOld); err != nil {
			return nil, err
		}
		if rec.SidecarsNew, err = decodeStrings(sidecarsNew); err != nil {
			return nil, err
		}
		rec.AppliedAt = fromMillis(applied)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return out, nil
}
