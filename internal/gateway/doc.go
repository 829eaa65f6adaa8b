// Package gateway abstracts the card-charging provider behind a single
// Charge contract with two implementations: a live HTTP provider driven
// by resty, and a deterministic mock that decides purely from the card
// number.
//
// Both implementations return the same normalized response shape, so the
// orchestrator never branches on which provider is configured. Raw card
// numbers and CVVs enter this package and stop here: nothing is logged,
// nothing leaves except masked digits and provider identifiers.
package gateway
