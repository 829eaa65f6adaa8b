package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Course is the persisted catalog row. The CUE catalog is the source of
// truth; rows exist so the leads foreign key and ad hoc queries have
// something relational to lean on.
type Course struct {
	Slug            string `json:"slug"`
	Title           string `json:"title"`
	PriceCents      int64  `json:"price_cents"`
	MaxInstallments int    `json:"max_installments"`
}

// SeedCourse upserts one catalog entry. Called at startup for every
// course the compiled catalog carries; re-running with a changed price
// updates the row in place.
func (s *Store) SeedCourse(ctx context.Context, c Course) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (slug, title, price_cents, max_installments)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			title = excluded.title,
			price_cents = excluded.price_cents,
			max_installments = excluded.max_installments
	`, c.Slug, c.Title, c.PriceCents, c.MaxInstallments)
	if err != nil {
		return fmt.Errorf("seed course %s: %w", c.Slug, err)
	}
	return nil
}

// GetCourse fetches one course by slug. Returns ErrNotFound when the
// slug is unknown.
func (s *Store) GetCourse(ctx context.Context, slug string) (*Course, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT slug, title, price_cents, max_installments
		FROM courses WHERE slug = ?
	`, slug)

	var c Course
	err := row.Scan(&c.Slug, &c.Title, &c.PriceCents, &c.MaxInstallments)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return &c, nil
}

// ListCourses returns all courses ordered by slug.
func (s *Store) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, title, price_cents, max_installments
		FROM courses ORDER BY slug
	`)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer rows.Close()

	var out []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.Slug, &c.Title, &c.PriceCents, &c.MaxInstallments); err != nil {
			return nil, fmt.Errorf("list courses: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
