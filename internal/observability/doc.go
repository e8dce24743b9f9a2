// Package observability provides structured logging and metrics for authface.
//
// This package implements:
//   - zap logger construction from the configured level and format
//   - Prometheus collectors for logins, token issuance and verification,
//     the session registry, and snapshot persistence
//
// Metrics live on a private registry exposed through Handler, so tests can
// build as many instances as they like.
package observability
