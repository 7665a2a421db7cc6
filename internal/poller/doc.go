// Package poller implements the REST feed refresher.
//
// While the realtime session is down the live feed stops receiving pushes.
// The Poller:
//   - Fetches the newest audit pages over REST on a fixed interval
//   - Skips the cycle whenever the realtime session is active
//   - Fetches pages concurrently with a bounded limit
//   - Merges unseen events into the feed, oldest first
package poller
