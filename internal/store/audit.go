package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/enrollkit/chargeonce/internal/payment"
)

// AppendCheckoutEvent records one status transition in the append-only
// audit trail. Callers treat failures here as non-fatal: losing an
// audit row must never fail a checkout.
func (s *Store) AppendCheckoutEvent(ctx context.Context, ev payment.CheckoutEvent) error {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkout_events
		(checkout_id, from_status, to_status, return_code, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		ev.CheckoutID,
		string(ev.FromStatus),
		string(ev.ToStatus),
		nullIfEmpty(ev.ReturnCode),
		nullIfEmpty(ev.Detail),
		createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append checkout event: %w", err)
	}
	return nil
}

// ListCheckoutEvents returns a checkout's transitions in append order.
func (s *Store) ListCheckoutEvents(ctx context.Context, checkoutID string) ([]payment.CheckoutEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, checkout_id, from_status, to_status, return_code, detail, created_at
		FROM checkout_events
		WHERE checkout_id = ?
		ORDER BY id
	`, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("list checkout events: %w", err)
	}
	defer rows.Close()

	var out []payment.CheckoutEvent
	for rows.Next() {
		var (
			ev              payment.CheckoutEvent
			from, to        string
			code, detail    sql.NullString
			createdAtMillis int64
		)
		if err := rows.Scan(&ev.ID, &ev.CheckoutID, &from, &to, &code, &detail, &createdAtMillis); err != nil {
			return nil, fmt.Errorf("list checkout events: %w", err)
		}
		ev.FromStatus = payment.Status(from)
		ev.ToStatus = payment.Status(to)
		ev.ReturnCode = code.String
		ev.Detail = detail.String
		ev.CreatedAt = time.UnixMilli(createdAtMillis)
		out = append(out, ev)
	}
	return out, rows.Err()
}
