// Package api implements the HTTP REST API and WebSocket server for the ESD core.
//
// This package provides:
//   - read-only catalog endpoints (levels, sequences, compiled plans, interlocks)
//   - execution control: initiate, approve, reject, continue, abort
//   - execution queries and the ordered execution log
//   - a WebSocket hub relaying engine events to subscribed clients
//
// # Security
//
// Operators log in with their configured credentials and receive a bearer
// JWT. The token's subject is recorded as the actor on every action. Approve
// and reject require the supervisor role. WebSocket connections authenticate
// with single-use tickets so the JWT never appears in a URL.
//
// # Errors
//
// Every error response uses the envelope {status, code, message}. Engine
// errors map to 400 (validation), 404 (unknown execution or sequence),
// 409 (invalid state or approval required) and 403 (role).
package api
