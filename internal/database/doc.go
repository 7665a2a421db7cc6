// Package database provides connection pool management for the PostgreSQL
// archive of audit events.
package database
