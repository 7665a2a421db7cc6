// Package monitor wires the live audit topic to the feed buffer.
//
// The Monitor subscribes the live topic through the Connection Manager,
// decodes deliveries with the router and prepends each audit event to a
// bounded newest-first feed. Events are optionally handed to an archive
// sink and counted by an observer.
//
// Merge accepts events fetched over REST (see package poller). Unlike live
// pushes, merged events are skipped when their id is already in the feed.
package monitor
