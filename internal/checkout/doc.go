// Package checkout implements the payment orchestrator: the state
// machine that turns a validated payment intent into at most one
// provider charge and exactly one stored outcome.
//
// The pipeline is NEW -> LOOKUP -> (REUSE | CREATE) -> CHARGE -> SETTLE
// -> DONE. Retries of the same idempotency key exit at LOOKUP with the
// stored result and never touch the gateway; concurrent duplicates are
// collapsed by the store's unique index, not by any lock here. Settle
// writes run detached from request cancellation: once the provider has
// answered, the outcome is recorded even if the client hung up.
package checkout
