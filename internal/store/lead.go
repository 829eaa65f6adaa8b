package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/enrollkit/chargeonce/internal/payment"
)

// CreateLead inserts a new lead inside a transaction.
//
// The checkout path deliberately avoids transactions (row-level
// uniqueness does its mutual exclusion), but lead creation touches the
// courses foreign key and should either fully exist or not at all.
func (s *Store) CreateLead(ctx context.Context, lead payment.Lead) error {
	if lead.ID == "" {
		return fmt.Errorf("create lead: id is required")
	}

	createdAt := lead.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create lead: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var exists int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM courses WHERE slug = ?", lead.CourseSlug).Scan(&exists)
	if err != nil {
		return fmt.Errorf("create lead: check course: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("create lead: %w: course %q", ErrNotFound, lead.CourseSlug)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO leads (id, name, email, course_slug, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, lead.ID, lead.Name, lead.Email, lead.CourseSlug, createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create lead: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create lead: commit: %w", err)
	}
	return nil
}

// GetLead fetches a lead and its enrollment payment projection.
// Returns ErrNotFound when the lead does not exist.
func (s *Store) GetLead(ctx context.Context, id string) (*payment.Lead, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, course_slug,
		       payment_status, payment_reference, payment_tid,
		       payment_return_code, payment_return_message, paid_at,
		       created_at
		FROM leads WHERE id = ?
	`, id)

	var (
		lead            payment.Lead
		status, ref     sql.NullString
		tid, code, msg  sql.NullString
		paidAtMillis    sql.NullInt64
		createdAtMillis int64
	)
	err := row.Scan(&lead.ID, &lead.Name, &lead.Email, &lead.CourseSlug,
		&status, &ref, &tid, &code, &msg, &paidAtMillis, &createdAtMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}

	lead.Payment = payment.EnrollmentPayment{
		Status:        payment.Status(status.String),
		Reference:     ref.String,
		GatewayTID:    tid.String,
		ReturnCode:    code.String,
		ReturnMessage: msg.String,
	}
	if paidAtMillis.Valid {
		t := time.UnixMilli(paidAtMillis.Int64)
		lead.Payment.PaidAt = &t
	}
	lead.CreatedAt = time.UnixMilli(createdAtMillis)

	return &lead, nil
}

// UpdateLeadPayment mirrors a checkout outcome onto the lead's payment
// projection. paid_at is written through COALESCE so the first approval
// wins and later writes can never overwrite it.
func (s *Store) UpdateLeadPayment(ctx context.Context, leadID string, p payment.EnrollmentPayment) error {
	var paidAt any
	if p.PaidAt != nil {
		paidAt = p.PaidAt.UnixMilli()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE leads
		SET payment_status = ?, payment_reference = ?, payment_tid = ?,
		    payment_return_code = ?, payment_return_message = ?,
		    paid_at = COALESCE(paid_at, ?)
		WHERE id = ?
	`,
		nullIfEmpty(string(p.Status)),
		nullIfEmpty(p.Reference),
		nullIfEmpty(p.GatewayTID),
		nullIfEmpty(p.ReturnCode),
		nullIfEmpty(p.ReturnMessage),
		paidAt,
		leadID,
	)
	if err != nil {
		return fmt.Errorf("update lead payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update lead payment: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update lead payment: %w: lead %s", ErrNotFound, leadID)
	}
	return nil
}
