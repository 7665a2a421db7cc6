// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Realtime connection state and reconnect attempts
//   - Live event rate and feed size
//   - Page fetches by source, REST fallbacks and failures
//   - Archive rows written and dropped
//
// Collectors are registered on a caller-supplied registry. A nil *Metrics
// is valid and records nothing.
package metrics
