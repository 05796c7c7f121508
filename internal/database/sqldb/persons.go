package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/media-annotator/internal/database"
)

const personColumns = `p.id, p.display_name, p.is_known, p.notes, p.created_at, p.updated_at`

func scanPerson(dest []any, p *database.Person, created, updated *int64) []any {
	return append(dest, &p.ID, &p.DisplayName, &p.IsKnown, &p.Notes, created, updated)
}

// ListPersons returns all persons ordered by id.
func (s *Store) ListPersons(ctx context.Context) ([]database.Person, error) {
	rows, err := s.query(ctx, s.db, "SELECT "+personColumns+" FROM persons p ORDER BY p.id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var persons []database.Person
	for rows.Next() {
		var (
			p                database.Person
			created, updated int64
		)
		if err := rows.Scan(scanPerson(nil, &p, &created, &updated)...); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		p.CreatedAt, p.UpdatedAt = fromMillis(created), fromMillis(updated)
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return persons, nil
}

// GetPerson retrieves a person by id.
func (s *Store) GetPerson(ctx context.Context, id int64) (*database.Person, error) {
	var (
		p                database.Person
		created, updated int64
	)
	err := s.queryRow(ctx, s.db, "SELECT "+personColumns+" FROM persons p WHERE p.id = ?", id).
		Scan(scanPerson(nil, &p, &created, &updated)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("person %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get person %d: %w", id, err)
	}
	p.CreatedAt, p.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &p, nil
}

// ListUnknownWithCounts returns anonymous persons with their total occurrences.
func (s *Store) ListUnknownWithCounts(ctx context.Context) ([]database.PersonCount, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+personColumns+`, COALESCE(SUM(mf.occurrences), 0)
		FROM persons p
		LEFT JOIN media_faces mf ON mf.person_id = p.id
		WHERE p.is_known = ?
		GROUP BY p.id, p.display_name, p.is_known, p.notes, p.created_at, p.updated_at
		ORDER BY p.id`, false)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.PersonCount
	for rows.Next() {
		var (
			pc               database.PersonCount
			created, updated int64
		)
		dest := scanPerson(nil, &pc.Person, &created, &updated)
		if err := rows.Scan(append(dest, &pc.Occurrences)...); err != nil {
			return nil, fmt.Errorf("scan unknown person: %w", err)
		}
		pc.Person.CreatedAt, pc.Person.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unknown persons: %w", err)
	}
	return out, nil
}

// ExamplePaths returns up to limit distinct media paths a person appears in.
func (s *Store) ExamplePaths(ctx context.Context, personID int64, limit int) ([]string, error) {
	rows, err := s.query(ctx, s.db, `SELECT media_path FROM face_observations
		WHERE person_id = ?
		GROUP BY media_path
		ORDER BY MIN(id)
		LIMIT ?`, personID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan example path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate example paths: %w", err)
	}
	return paths, nil
}

// PromotePerson names a person and marks it known.
func (s *Store) PromotePerson(ctx context.Context, id int64, name string) error {
	res, err := s.exec(ctx, s.db, "UPDATE persons SET display_name = ?, is_known = ?, updated_at = ? WHERE id = ?",
		name, true, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("promote person %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("person %d: %w", id, database.ErrNotFound)
	}
	return nil
}

// SetNotes replaces the notes of a person.
func (s *Store) SetNotes(ctx context.Context, id int64, notes string) error {
	res, err := s.exec(ctx, s.db, "UPDATE persons SET notes = ?, updated_at = ? WHERE id = ?",
		notes, toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("set notes on person %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("person %d: %w", id, database.ErrNotFound)
	}
	return nil
}
