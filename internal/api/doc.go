// Package api implements the HTTP REST API and WebSocket server for brewlogic.
//
// This package provides:
//   - Brew endpoints to start and abort recipes and read the run state
//   - Recipe endpoints backed by the recipe registry (list, get, save,
//     delete, reload)
//   - Statistics and run history endpoints
//   - WebSocket hub broadcasting "brew.state_changed" on every transition
//   - Prometheus metrics at /metrics
//   - JWT bearer authentication with ticket-based WebSocket auth
//
// # Architecture
//
// The API server sits between user interfaces and the recipe executor. The
// executor owns all run state; the server only forwards commands and relays
// executor events to WebSocket clients and metrics.
//
// # Security
//
// When security.jwt.secret is set every route except /health and /metrics
// requires a bearer token signed with it (see "brewlogic token"). WebSocket
// connections use single-use tickets to keep tokens out of URLs. An empty
// secret disables authentication for local development.
package api
