package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/enrollkit/chargeonce/internal/payment"
)

// InsertProcessing writes a fresh checkout record in processing state.
//
// Returns the stored record, inserted=false when a concurrent request
// already holds the idempotency key (the caller gets the winner's row,
// not a conflict), and keyPersisted=false when the record had to be
// written without the idempotency_key column.
//
// The insert walks the colset ladder: the current column set first,
// then progressively narrower sets for older schema generations. A
// missing-column failure moves to the next rung (after giving the
// self-repair one shot); any other failure aborts. Exhausting the
// ladder means no safe write path exists - ErrSchemaIncompatible.
func (s *Store) InsertProcessing(ctx context.Context, rec payment.CheckoutRecord) (stored *payment.CheckoutRecord, inserted, keyPersisted bool, err error) {
	if rec.ID == "" {
		return nil, false, false, fmt.Errorf("insert processing: record id is required")
	}
	if rec.Reference == "" {
		return nil, false, false, fmt.Errorf("insert processing: reference is required")
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	createdAtMillis := createdAt.UnixMilli()

	start := 0
	if !s.caps.keyLookupUsable(s.now()) {
		// Column known missing: give the once-per-cooldown repair its
		// shot, otherwise skip the doomed first attempt.
		if !s.noteKeyColumnMissing(ctx) {
			start = 1
		}
	}

	for i := start; i < len(insertColsets); i++ {
		cs := insertColsets[i]

		res, execErr := s.db.ExecContext(ctx, cs.insertSQL(), cs.params(rec, createdAtMillis)...)
		if execErr != nil {
			switch {
			case cs.has(colIdempotencyKey) && isMissingColumn(execErr, colIdempotencyKey):
				if s.noteKeyColumnMissing(ctx) {
					// Repair closed the gap; retry the same rung once.
					i--
					continue
				}
				continue
			case cs.has(colLeadID) && isMissingColumn(execErr, colLeadID):
				continue
			default:
				return nil, false, false, fmt.Errorf("insert processing (%s): %w", cs.name, execErr)
			}
		}

		affected, raErr := res.RowsAffected()
		if raErr != nil {
			return nil, false, false, fmt.Errorf("insert processing (%s): rows affected: %w", cs.name, raErr)
		}

		if affected == 0 {
			// Unique-index collision: a concurrent request with the same
			// key won the insert race. Hand back its row.
			existing, findErr := s.findCheckoutWhere(ctx, "idempotency_key = ?", rec.IdempotencyKey)
			if findErr != nil {
				return nil, false, false, fmt.Errorf("insert processing: fetch race winner: %w", findErr)
			}
			return existing, false, true, nil
		}

		persisted := rec
		persisted.CreatedAt = time.UnixMilli(createdAtMillis)
		if !cs.has(colIdempotencyKey) {
			persisted.IdempotencyKey = ""
		}
		if !cs.has(colLeadID) {
			persisted.LeadID = ""
		}
		return &persisted, true, cs.has(colIdempotencyKey), nil
	}

	return nil, false, false, ErrSchemaIncompatible
}

// FindCheckoutByKey looks up the record holding an idempotency key.
//
// Returns ErrNotFound when no record holds the key, and
// ErrKeyLookupUnavailable when the column is absent (callers fall back
// to FindCheckoutByReference). A missing-column discovery triggers the
// capability cache and, when permitted, one self-repair attempt.
func (s *Store) FindCheckoutByKey(ctx context.Context, key string) (*payment.CheckoutRecord, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	if !s.caps.keyLookupUsable(s.now()) {
		return nil, ErrKeyLookupUnavailable
	}

	rec, err := s.findCheckoutWhere(ctx, "idempotency_key = ?", key)
	if err != nil {
		if isMissingColumn(err, colIdempotencyKey) {
			if s.noteKeyColumnMissing(ctx) {
				return s.findCheckoutWhere(ctx, "idempotency_key = ?", key)
			}
			return nil, fmt.Errorf("%w: %s", ErrKeyLookupUnavailable, colIdempotencyKey)
		}
		return nil, err
	}
	s.caps.markKeyColumnPresent()
	return rec, nil
}

// FindCheckoutByReference looks up the most recent record for a
// deterministic reference, scoped to a lead. This is the degraded-mode
// twin of FindCheckoutByKey: the reference is derived from the key, so
// matching on it recognizes retries even when the key column is gone.
//
// leadID may be empty (record written by the no_lead fallback).
func (s *Store) FindCheckoutByReference(ctx context.Context, reference, leadID string) (*payment.CheckoutRecord, error) {
	if reference == "" {
		return nil, ErrNotFound
	}
	if leadID == "" {
		return s.findCheckoutWhere(ctx,
			"reference = ? ORDER BY created_at DESC LIMIT 1", reference)
	}
	return s.findCheckoutWhere(ctx,
		"reference = ? AND (lead_id = ? OR lead_id IS NULL) ORDER BY created_at DESC LIMIT 1",
		reference, leadID)
}

// FindCheckoutByID fetches one record by its store-generated id.
func (s *Store) FindCheckoutByID(ctx context.Context, id string) (*payment.CheckoutRecord, error) {
	return s.findCheckoutWhere(ctx, "id = ?", id)
}

// ListCheckoutsByLead returns a lead's checkout attempts, newest first.
func (s *Store) ListCheckoutsByLead(ctx context.Context, leadID string) ([]payment.CheckoutRecord, error) {
	return s.listCheckoutsWhere(ctx, "lead_id = ? ORDER BY created_at DESC", leadID)
}

// ResultUpdate carries the sanitized gateway outcome into a settle
// transition.
type ResultUpdate struct {
	Status            payment.Status
	GatewayTID        string
	ReturnCode        string
	ReturnMessage     string
	AuthorizationCode string
	ThreeDSURL        string
}

// UpdateCheckoutResult transitions a processing record to res.Status.
//
// The WHERE status = 'processing' guard makes the transition
// exactly-once: a second settle attempt (crash replay, duplicate
// worker) affects zero rows and simply returns the already-settled
// record. Single-row update; the unique index, not a transaction, is
// the source of mutual exclusion.
func (s *Store) UpdateCheckoutResult(ctx context.Context, id string, res ResultUpdate) (*payment.CheckoutRecord, error) {
	if !res.Status.Terminal() && res.Status != payment.StatusPendingAuthentication {
		return nil, fmt.Errorf("update checkout result: status %q is not a settle target", res.Status)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE checkouts
		SET status = ?, gateway_tid = ?, return_code = ?, return_message = ?,
		    authorization_code = ?, three_ds_url = ?
		WHERE id = ? AND status = ?
	`,
		string(res.Status),
		nullIfEmpty(res.GatewayTID),
		nullIfEmpty(res.ReturnCode),
		nullIfEmpty(res.ReturnMessage),
		nullIfEmpty(res.AuthorizationCode),
		nullIfEmpty(res.ThreeDSURL),
		id,
		string(payment.StatusProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("update checkout result: %w", err)
	}

	return s.FindCheckoutByID(ctx, id)
}

// findCheckoutWhere runs a single-row checkout select, degrading the
// column list through the schema generations on missing-column errors.
func (s *Store) findCheckoutWhere(ctx context.Context, where string, args ...any) (*payment.CheckoutRecord, error) {
	var lastErr error
	for _, cs := range selectGenerations {
		row := s.db.QueryRowContext(ctx, cs.selectSQL(where), args...)
		rec, err := scanCheckout(cs, row.Scan)
		switch {
		case err == nil:
			return rec, nil
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrNotFound
		case isMissingColumn(err, colIdempotencyKey) && cs.has(colIdempotencyKey),
			isMissingColumn(err, colLeadID) && cs.has(colLeadID):
			lastErr = err
			continue
		default:
			return nil, fmt.Errorf("find checkout: %w", err)
		}
	}
	return nil, fmt.Errorf("find checkout: %w", lastErr)
}

// listCheckoutsWhere is the multi-row variant of findCheckoutWhere.
func (s *Store) listCheckoutsWhere(ctx context.Context, where string, args ...any) ([]payment.CheckoutRecord, error) {
	var lastErr error
	for _, cs := range selectGenerations {
		rows, err := s.db.QueryContext(ctx, cs.selectSQL(where), args...)
		if err != nil {
			if (isMissingColumn(err, colIdempotencyKey) && cs.has(colIdempotencyKey)) ||
				(isMissingColumn(err, colLeadID) && cs.has(colLeadID)) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("list checkouts: %w", err)
		}

		var out []payment.CheckoutRecord
		for rows.Next() {
			rec, scanErr := scanCheckout(cs, rows.Scan)
			if scanErr != nil {
				rows.Close()
				return nil, fmt.Errorf("list checkouts: %w", scanErr)
			}
			out = append(out, *rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list checkouts: %w", err)
		}
		rows.Close()
		return out, nil
	}
	return nil, fmt.Errorf("list checkouts: %w", lastErr)
}

// scanCheckout maps one row of a generation's column list onto a
// record. Columns absent from the generation stay zero-valued.
func scanCheckout(cs colset, scan func(dest ...any) error) (*payment.CheckoutRecord, error) {
	var (
		id, reference, status            string
		leadID, idempotencyKey           sql.NullString
		cardBrand, cardLast4             sql.NullString
		gatewayTID, returnCode           sql.NullString
		returnMessage, authorizationCode sql.NullString
		threeDSURL                       sql.NullString
		amountCents, createdAtMillis     int64
		installments                     int
	)

	dest := make([]any, 0, len(cs.columns))
	for _, col := range cs.columns {
		switch col {
		case "id":
			dest = append(dest, &id)
		case colLeadID:
			dest = append(dest, &leadID)
		case "reference":
			dest = append(dest, &reference)
		case colIdempotencyKey:
			dest = append(dest, &idempotencyKey)
		case "status":
			dest = append(dest, &status)
		case "amount_cents":
			dest = append(dest, &amountCents)
		case "installments":
			dest = append(dest, &installments)
		case "card_brand":
			dest = append(dest, &cardBrand)
		case "card_last4":
			dest = append(dest, &cardLast4)
		case "gateway_tid":
			dest = append(dest, &gatewayTID)
		case "return_code":
			dest = append(dest, &returnCode)
		case "return_message":
			dest = append(dest, &returnMessage)
		case "authorization_code":
			dest = append(dest, &authorizationCode)
		case "three_ds_url":
			dest = append(dest, &threeDSURL)
		case "created_at":
			dest = append(dest, &createdAtMillis)
		}
	}

	if err := scan(dest...); err != nil {
		return nil, err
	}

	return &payment.CheckoutRecord{
		ID:                id,
		LeadID:            leadID.String,
		Reference:         reference,
		IdempotencyKey:    idempotencyKey.String,
		Status:            payment.Status(status),
		AmountCents:       amountCents,
		Installments:      installments,
		CardBrand:         cardBrand.String,
		CardLast4:         cardLast4.String,
		GatewayTID:        gatewayTID.String,
		ReturnCode:        returnCode.String,
		ReturnMessage:     returnMessage.String,
		AuthorizationCode: authorizationCode.String,
		ThreeDSURL:        threeDSURL.String,
		CreatedAt:         time.UnixMilli(createdAtMillis),
	}, nil
}
