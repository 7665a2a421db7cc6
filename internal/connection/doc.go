// Package connection implements the Connection Manager and its transport.
//
// The Connection Manager:
//   - Owns one STOMP 1.2 session over a raw WebSocket or a SockJS websocket transport
//   - Exposes idempotent Connect / Disconnect and the current ConnectionState
//   - Keeps a Topic Subscription Registry that outlives sessions and replays it,
//     in registration order, before Connect returns
//   - Delivers MESSAGE frames to the registered callbacks from a single goroutine,
//     in arrival order
//
// Retries are not done here; see package reconnect.
package connection
