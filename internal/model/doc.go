// Package model defines shared data types used across the audit stream client.
//
// Types mirror the backend's JSON shapes for the audit-log endpoints.
//
// Conventions:
//   - Timestamps: time.Time in UTC; the backend may send RFC 3339, a zone-less local
//     date-time, or epoch milliseconds.
//   - Pages: 0-indexed, Spring Data page envelope.
//   - IDs: opaque strings from the backend, uuid strings for client-issued request IDs.
package model
