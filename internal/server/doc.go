// Package server provides the read-only HTTP mirror of a tracker's progress.
//
// This package is internal to jobprogress and handles all HTTP concerns:
//
//   - REST API: JSON endpoint at "/api/progress" for the latest snapshot
//   - Server-Sent Events: Real-time updates at "/api/sse"
//   - Metrics: Prometheus exposition at "/metrics"
//   - Liveness: "/healthz"
//
// Routing uses chi. The server supports graceful shutdown via context
// cancellation, with a 5-second timeout for in-flight requests.
package server
