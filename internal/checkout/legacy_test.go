package checkout

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// createLegacyCheckoutDB seeds path with a checkouts table predating the
// idempotency_key migration, so store.Open falls back to the narrower
// column set.
func createLegacyCheckoutDB(t *testing.T, path string) {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE checkouts (
			id                 TEXT PRIMARY KEY,
			lead_id            TEXT,
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
	`)
	if err != nil {
		t.Fatalf("create legacy checkouts: %v", err)
	}
}
