// Package store is the SQLite persistence layer for checkouts, leads,
// courses, audit events, and rate counters.
//
// The checkout log is append-and-update: records are inserted in
// processing state and transition exactly once. Mutual exclusion between
// concurrent duplicate submissions comes from the partial unique index
// on checkouts.idempotency_key, not from application locks; the loser of
// an insert race is handed the winner's row.
//
// The store runs against three schema generations of the checkouts
// table: the current one, one without the idempotency_key column, and
// one additionally without lead_id. Reads and writes degrade through an
// ordered list of column sets (see colset.go), a capability cache tracks
// whether key-based lookup is currently usable, and the missing column
// and its index are self-applied opportunistically at most once per
// cooldown window.
package store
