// Package payment defines the checkout domain model: payment intents,
// checkout records, the status lifecycle, card validation and masking,
// and the idempotency key scheme.
//
// Types here are plain data with no I/O. The orchestrator, store, and
// gateway packages all speak in terms of these types, which keeps the
// charge pipeline testable without a database or network.
//
// Key scheme: every checkout attempt resolves to exactly one idempotency
// key. Client-supplied keys are normalized (see NormalizeKey); absent a
// client key, a deterministic key is derived from the intent and a
// 10-minute time bucket (see DeriveAutoKey). The key also determines the
// human-decodable correlation reference (see DeriveReference), so two
// retries of the same logical purchase always converge on the same
// (key, reference) pair.
package payment
