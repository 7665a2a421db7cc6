// Package pager implements the paged request/response correlator.
//
// A page request is published on the realtime channel and answered on a
// response topic. Only the most recent request is pending at any time:
// issuing a new one supersedes the previous request, stops its timer and
// cancels any REST call it started. A response is accepted only when its
// page number matches the pending request; everything else is dropped.
//
// If no response arrives within Timeout, exactly one REST fallback is made
// for the same page and size. A loading watchdog bounds how long any
// request may keep loading set, realtime wait and fallback included.
package pager
