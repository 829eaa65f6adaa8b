package store

import (
	"strings"

	"github.com/enrollkit/chargeonce/internal/payment"
)

// Column names of the checkouts table that vary across schema
// generations.
const (
	colIdempotencyKey = "idempotency_key"
	colLeadID         = "lead_id"
)

// colset is one insert attempt against the checkouts table, expressed
// as pure data: the columns it writes and how to produce their values.
// Attempts are tried in declaration order; each successive set targets
// an older schema generation. No colset knows anything about driver
// error formats - classification lives in errors.go.
type colset struct {
	// name labels the attempt in wrapped errors and audit details.
	name string

	// columns written by this attempt, in parameter order.
	columns []string

	// conflict is the ON CONFLICT clause, empty when the attempt's
	// column set cannot collide on the idempotency index.
	conflict string
}

// insertColsets is the ordered fallback ladder for insertProcessing:
// current generation first, then without the idempotency key, then -
// last resort - without the lead linkage either.
var insertColsets = []colset{
	{
		name: "current",
		columns: []string{
			"id", colLeadID, "reference", colIdempotencyKey, "status",
			"amount_cents", "installments", "card_brand", "card_last4",
			"created_at",
		},
		conflict: "ON CONFLICT(idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING",
	},
	{
		name: "no_idempotency_key",
		columns: []string{
			"id", colLeadID, "reference", "status",
			"amount_cents", "installments", "card_brand", "card_last4",
			"created_at",
		},
	},
	{
		name: "no_lead",
		columns: []string{
			"id", "reference", "status",
			"amount_cents", "installments", "card_brand", "card_last4",
			"created_at",
		},
	},
}

// has reports whether the colset writes the named column.
func (c colset) has(column string) bool {
	for _, col := range c.columns {
		if col == column {
			return true
		}
	}
	return false
}

// insertSQL renders the INSERT statement for this column set.
func (c colset) insertSQL() string {
	var b strings.Builder
	b.WriteString("INSERT INTO checkouts (")
	b.WriteString(strings.Join(c.columns, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(c.columns)), ", "))
	b.WriteString(")")
	if c.conflict != "" {
		b.WriteString(" ")
		b.WriteString(c.conflict)
	}
	return b.String()
}

// params produces the values for this column set from a record.
func (c colset) params(rec payment.CheckoutRecord, createdAtMillis int64) []any {
	out := make([]any, 0, len(c.columns))
	for _, col := range c.columns {
		switch col {
		case "id":
			out = append(out, rec.ID)
		case colLeadID:
			out = append(out, nullIfEmpty(rec.LeadID))
		case "reference":
			out = append(out, rec.Reference)
		case colIdempotencyKey:
			out = append(out, nullIfEmpty(rec.IdempotencyKey))
		case "status":
			out = append(out, string(rec.Status))
		case "amount_cents":
			out = append(out, rec.AmountCents)
		case "installments":
			out = append(out, rec.Installments)
		case "card_brand":
			out = append(out, nullIfEmpty(rec.CardBrand))
		case "card_last4":
			out = append(out, nullIfEmpty(rec.CardLast4))
		case "created_at":
			out = append(out, createdAtMillis)
		}
	}
	return out
}

// selectGenerations is the matching fallback ladder for reads: the
// column list shrinks with the schema generation, and rowToCheckout
// fills only what was selected.
var selectGenerations = []colset{
	{
		name: "current",
		columns: []string{
			"id", colLeadID, "reference", colIdempotencyKey, "status",
			"amount_cents", "installments", "card_brand", "card_last4",
			"gateway_tid", "return_code", "return_message",
			"authorization_code", "three_ds_url", "created_at",
		},
	},
	{
		name: "no_idempotency_key",
		columns: []string{
			"id", colLeadID, "reference", "status",
			"amount_cents", "installments", "card_brand", "card_last4",
			"gateway_tid", "return_code", "return_message",
			"authorization_code", "three_ds_url", "created_at",
		},
	},
	{
		name: "no_lead",
		columns: []string{
			"id", "reference", "status",
			"amount_cents", "installments", "card_brand", "card_last4",
			"gateway_tid", "return_code", "return_message",
			"authorization_code", "three_ds_url", "created_at",
		},
	},
}

func (c colset) selectSQL(where string) string {
	return "SELECT " + strings.Join(c.columns, ", ") + " FROM checkouts WHERE " + where
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
