// Package archive persists live audit events to PostgreSQL.
//
// The Writer takes events from a bounded queue and writes them in batches
// (by size or on a flush interval). Enqueue never blocks: when the queue is
// full the event is dropped and counted, so archiving can never stall the
// live feed. Inserts are idempotent on the event id.
package archive
