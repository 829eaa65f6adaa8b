package payment

// ServiceVersion identifies the chargeonce release.
// Reported by the health endpoint and CLI diagnostics; bump on release.
const ServiceVersion = "0.1.0"
