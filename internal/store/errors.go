package store

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by lookups that match no row.
// Compare with errors.Is.
var ErrNotFound = errors.New("store: not found")

// ErrKeyLookupUnavailable is returned when the idempotency_key column is
// absent and the capability cooldown has not elapsed. Callers fall back
// to the by-reference lookup.
var ErrKeyLookupUnavailable = errors.New("store: idempotency key lookup unavailable")

// ErrSchemaIncompatible is returned when every column-set fallback
// failed: no safe write path exists against this database. Fatal for
// the request; operator-actionable.
var ErrSchemaIncompatible = errors.New("store: checkout schema incompatible across all fallbacks")

// missingColumnPatterns are the driver messages that signal a column
// absent from the live schema. Matched as substrings so the detection
// survives driver message-format drift; anything else is treated as a
// real failure, never as a schema generation gap.
var missingColumnPatterns = []string{
	"has no column named ",
	"no such column: ",
}

// isMissingColumn reports whether err is a missing-column failure for
// the named column.
func isMissingColumn(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pat := range missingColumnPatterns {
		if idx := strings.Index(msg, pat); idx >= 0 {
			rest := msg[idx+len(pat):]
			if rest == column || strings.HasPrefix(rest, column) && !isWordChar(rest[len(column):]) {
				return true
			}
			// Some messages qualify the column as table.column.
			if strings.HasSuffix(rest, "."+column) {
				return true
			}
		}
	}
	return false
}

func isWordChar(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// isDuplicateColumn reports whether err means the column already exists.
// A concurrent instance winning the repair race surfaces as this; it is
// a success, not a failure.
func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}
