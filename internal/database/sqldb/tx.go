package sqldb

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/media-annotator/internal/database"
)

// txStore implements database.Tx on an open transaction.
type txStore struct {
	s *Store
	q queryer
}

func (t *txStore) CreateUnknownPerson(ctx context.Context) (*database.Person, error) {
	if _, err := t.s.exec(ctx, t.q, "UPDATE counters SET seq = seq + 1 WHERE name = ?", unknownCounter); err != nil {
		return nil, fmt.Errorf("advance %s counter: %w", unknownCounter, err)
	}
	var seq int64
	if err := t.s.queryRow(ctx, t.q, "SELECT seq FROM counters WHERE name = ?", unknownCounter).Scan(&seq); err != nil {
		return nil, fmt.Errorf("read %s counter: %w", unknownCounter, err)
	}

	now := t.s.now()
	p := &database.Person{
		DisplayName: database.UnknownLabel(seq),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := t.s.insert(ctx, t.q, `INSERT INTO persons (display_name, is_known, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`, p.DisplayName, false, "", toMillis(now), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("insert person %s: %w", p.DisplayName, err)
	}
	p.ID = id
	return p, nil
}

func (t *txStore) InsertObservation(ctx context.Context, obs *database.FaceObservation) error {
	bbox, err := encodeJSON(obs.BBox)
	if err != nil {
		return err
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = t.s.now()
	}
	id, err := t.s.insert(ctx, t.q, `INSERT INTO face_observations
		(person_id, media_path, media_hash, frame_time_ms, bbox, embedding, quality, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.PersonID, obs.MediaPath, obs.MediaHash, nullInt(obs.FrameTimeMS), bbox,
		t.s.d.EncodeVector(obs.Embedding), obs.Quality, toMillis(obs.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert observation for person %d: %w", obs.PersonID, err)
	}
	obs.ID = id
	return nil
}

func (t *txStore) UpsertMediaFace(ctx context.Context, mediaID, personID int64, frameMS *int64) error {
	mf, err := t.s.getMediaFace(ctx, t.q, mediaID, personID)
	if errors.Is(err, database.ErrNotFound) {
		if _, err := t.s.exec(ctx, t.q, `INSERT INTO media_faces
			(media_id, person_id, occurrences, first_frame_ms, last_frame_ms) VALUES (?, ?, ?, ?, ?)`,
			mediaID, personID, 1, nullInt(frameMS), nullInt(frameMS)); err != nil {
			return fmt.Errorf("insert media face %d/%d: %w", mediaID, personID, err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	first, last := mf.FirstFrameMS, mf.LastFrameMS
	if frameMS != nil {
		if first == nil || *frameMS < *first {
			first = frameMS
		}
		if last == nil || *frameMS > *last {
			last = frameMS
		}
	}
	if _, err := t.s.exec(ctx, t.q, `UPDATE media_faces
		SET occurrences = occurrences + 1, first_frame_ms = ?, last_frame_ms = ?
		WHERE media_id = ? AND person_id = ?`,
		nullInt(first), nullInt(last), mediaID, personID); err != nil {
		return fmt.Errorf("update media face %d/%d: %w", mediaID, personID, err)
	}
	return nil
}

func (t *txStore) InsertHistory(ctx context.Context, rec *database.RenameHistoryRecord) error {
	sidecarsOld, err := encodeJSON(nonNil(rec.SidecarsOld))
	if err != nil {
		return err
	}
	sidecarsNew, err := encodeJSON(nonNil(rec.SidecarsNew))
	if err != nil {
		return err
	}
	if rec.AppliedAt.IsZero() {
		rec.AppliedAt = t.s.now()
	}
	id, err := t.s.insert(ctx, t.q, `INSERT INTO rename_history
		(media_hash, old_path, new_path, sidecars_old, sidecars_new, mode, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.MediaHash, rec.OldPath, rec.NewPath, sidecarsOld, sidecarsNew, rec.Mode, toMillis(rec.AppliedAt))
	if err != nil {
		return fmt.Errorf("insert history %s -> %s: %w", rec.OldPath, rec.NewPath, err)
	}
	rec.ID = id
	return nil
}

func (t *txStore) RelocateMedia(ctx context.Context, oldPath, newPath string) error {
	if _, err := t.s.exec(ctx, t.q, "UPDATE media_items SET path = ? WHERE path = ?", newPath, oldPath); err != nil {
		return fmt.Errorf("relocate media %s -> %s: %w", oldPath, newPath, err)
	}
	return nil
}

func (t *txStore) SetStatusByPath(ctx context.Context, path, status string) error {
	if _, err := t.s.exec(ctx, t.q, "UPDATE media_items SET status = ?, last_processed_at = ? WHERE path = ?",
		status, toMillis(t.s.now()), path); err != nil {
		return fmt.Errorf("set status of %s: %w", path, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
