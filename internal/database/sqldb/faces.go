package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/media-annotator/internal/database"
)

// ListObservationVectors returns every embedding with its owner, oldest first.
func (s *Store) ListObservationVectors(ctx context.Context) ([]database.ObservationVector, error) {
	rows, err := s.query(ctx, s.db, `SELECT o.id, o.person_id, p.is_known, o.embedding
		FROM face_observations o
		JOIN persons p ON p.id = o.person_id
		ORDER BY o.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.ObservationVector
	for rows.Next() {
		var ov database.ObservationVector
		vec := s.d.NewVectorScanner()
		if err := rows.Scan(&ov.ObservationID, &ov.PersonID, &ov.IsKnown, vec); err != nil {
			return nil, fmt.Errorf("scan observation vector: %w", err)
		}
		ov.Embedding = vec.Slice()
		out = append(out, ov)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observation vectors: %w", err)
	}
	return out, nil
}

// ListMediaPersons returns the persons seen in an item, highest count first.
func (s *Store) ListMediaPersons(ctx context.Context, mediaID int64) ([]database.MediaPerson, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+personColumns+`, mf.occurrences
		FROM media_faces mf
		JOIN persons p ON p.id = mf.person_id
		WHERE mf.media_id = ?
		ORDER BY mf.occurrences DESC, p.id`, mediaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.MediaPerson
	for rows.Next() {
		var (
			mp               database.MediaPerson
			created, updated int64
		)
		dest := scanPerson(nil, &mp.Person, &created, &updated)
		if err := rows.Scan(append(dest, &mp.Count)...); err != nil {
			return nil, fmt.Errorf("scan media person: %w", err)
		}
		mp.Person.CreatedAt, mp.Person.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, mp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media persons: %w", err)
	}
	return out, nil
}

// GetMediaFace returns the summary for one (media, person) pair.
func (s *Store) GetMediaFace(ctx context.Context, mediaID, personID int64) (*database.MediaFace, error) {
	return s.getMediaFace(ctx, s.db, mediaID, personID)
}

func (s *Store) getMediaFace(ctx context.Context, q queryer, mediaID, personID int64) (*database.MediaFace, error) {
	var (
		mf          = database.MediaFace{MediaID: mediaID, PersonID: personID}
		first, last sql.NullInt64
	)
	err := s.queryRow(ctx, q, `SELECT occurrences, first_frame_ms, last_frame_ms
		FROM media_faces WHERE media_id = ? AND person_id = ?`, mediaID, personID).
		Scan(&mf.Count, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("media face %d/%d: %w", mediaID, personID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get media face %d/%d: %w", mediaID, personID, err)
	}
	mf.FirstFrameMS, mf.LastFrameMS = ptrInt(first), ptrInt(last)
	return &mf, nil
}

// CountObservations returns the number of stored observations.
func (s *Store) CountObservations(ctx context.Context) (int, error) {
	var n int
	if err := s.queryRow(ctx, s.db, "SELECT COUNT(*) FROM face_observations").Scan(&n); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}
