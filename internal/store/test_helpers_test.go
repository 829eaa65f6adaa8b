package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/enrollkit/chargeonce/internal/payment"
)

// createTestStore creates a file-backed store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// legacyGeneration selects which old checkouts shape to create.
type legacyGeneration int

const (
	legacyNoKey  legacyGeneration = iota // missing idempotency_key
	legacyNoLead                         // missing idempotency_key and lead_id
)

// createLegacyDB creates a database whose checkouts table predates the
// idempotency migration, then returns its path. Open() must tolerate it.
func createLegacyDB(t *testing.T, gen legacyGeneration) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()

	leadCol := "lead_id TEXT,"
	if gen == legacyNoLead {
		leadCol = ""
	}

	stmt := fmt.Sprintf(`
		CREATE TABLE checkouts (
			id                 TEXT PRIMARY KEY,
			%s
			reference          TEXT NOT NULL,
			status             TEXT NOT NULL,
			amount_cents       INTEGER NOT NULL,
			installments       INTEGER NOT NULL DEFAULT 1,
			card_brand         TEXT,
			card_last4         TEXT,
			gateway_tid        TEXT,
			return_code        TEXT,
			return_message     TEXT,
			authorization_code TEXT,
			three_ds_url       TEXT,
			created_at         INTEGER NOT NULL
		)
	`, leadCol)
	if _, err := db.Exec(stmt); err != nil {
		t.Fatalf("create legacy checkouts: %v", err)
	}
	return path
}

// makeCheckout builds a processing record with distinct field values.
func makeCheckout(id, key string) payment.CheckoutRecord {
	return payment.CheckoutRecord{
		ID:             id,
		LeadID:         "lead-1",
		Reference:      payment.DeriveReference(key),
		IdempotencyKey: key,
		Status:         payment.StatusProcessing,
		AmountCents:    49900,
		Installments:   2,
		CardBrand:      "visa",
		CardLast4:      "4242",
	}
}

// seedLead creates the course and lead rows most checkout tests need.
func seedLead(t *testing.T, s *Store, leadID string) {
	t.Helper()
	ctx := context.Background()
	course := Course{Slug: "go-101", Title: "Go Fundamentals", PriceCents: 49900, MaxInstallments: 6}
	if err := s.SeedCourse(ctx, course); err != nil {
		t.Fatalf("SeedCourse() failed: %v", err)
	}
	lead := payment.Lead{
		ID:         leadID,
		Name:       "Ada Example",
		Email:      "ada@example.com",
		CourseSlug: "go-101",
		CreatedAt:  time.UnixMilli(1700000000000),
	}
	if err := s.CreateLead(ctx, lead); err != nil {
		t.Fatalf("CreateLead() failed: %v", err)
	}
}
