// Package router decodes realtime payloads into a closed set of message kinds
// and dispatches them to a typed handler.
//
// Payloads are classified at the transport boundary:
//   - KindPage: a page envelope ({content: [...], number, ...})
//   - KindAuditEvent: a single audit event ({id, timestamp, ...})
//   - KindUnknown: anything else that is valid JSON
//
// Invalid JSON is rejected with ErrMalformed before any handler runs.
package router
