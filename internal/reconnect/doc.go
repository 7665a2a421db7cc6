// Package reconnect implements the bounded reconnection policy and the
// supervisor that applies it to a connection.
//
// Policy is a plain state machine:
//
//	Idle -> Attempting          on connection loss
//	Attempting -> Attempting    on a failed retry (attempts+1)
//	Attempting -> Succeeded     on a successful retry (attempts reset)
//	Attempting -> Exhausted     once attempts >= max
//	any -> Idle                 on Reset, the only way out of Exhausted
//
// The delay before attempt n+1 is base * (n+1).
package reconnect
