// Package feed implements the Live Feed Buffer.
//
// The buffer holds the most recent N live events, newest first. It is a
// display cache: there is no lookup, filtering or de-duplication by ID.
package feed
