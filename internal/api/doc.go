// Package api is the REST client for the audit-log endpoints.
//
// It is the fallback path for paged audit-log requests when the realtime
// channel is down or slow:
//
//	GET {rest_url}/api/audit-logs?page=N&size=M
//
// Pages are 0-indexed. Requests carry the bearer token; 5xx and 429
// responses are retried with jittered exponential backoff.
package api
