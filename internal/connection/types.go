package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected   = errors.New("not connected")
	ErrAlreadyClosed  = errors.New("already closed")
	ErrTimeout        = errors.New("operation timeout")
	ErrAuthMissing    = errors.New("auth token missing")
	ErrTransport      = errors.New("transport error")
	ErrProtocol       = errors.New("protocol error")
	ErrConnectAborted = errors.New("connect aborted by disconnect")
)

// ErrorKind classifies connection errors.
type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindAuthMissing
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthMissing:
		return "auth-missing"
	case KindProtocol:
		return "protocol-error"
	default:
		return "transport-error"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindAuthMissing:
		return ErrAuthMissing
	case KindProtocol:
		return ErrProtocol
	default:
		return ErrTransport
	}
}

// ConnError is a typed connection failure. errors.Is matches both the kind's
// sentinel (ErrTransport, ErrAuthMissing, ErrProtocol) and the wrapped cause.
type ConnError struct {
	Kind ErrorKind
	Err  error
}

func (e *ConnError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ConnError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

func transportError(err error) error { return &ConnError{Kind: KindTransport, Err: err} }
func protocolError(err error) error  { return &ConnError{Kind: KindProtocol, Err: err} }

// ConnectionState is the lifecycle state of the realtime connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateErrored
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	default:
		return "disconnected"
	}
}

// StateChange records a connection state transition.
type StateChange struct {
	From ConnectionState
	To   ConnectionState
	Err  error // cause for StateErrored, nil otherwise
	At   time.Time
}

// Transport selects how the STOMP session is carried.
type Transport string

const (
	TransportWebSocket Transport = "websocket" // STOMP frames as raw WebSocket text messages
	TransportSockJS    Transport = "sockjs"    // SockJS websocket transport framing
)

// ParseTransport validates a transport name.
func ParseTransport(s string) (Transport, error) {
	switch Transport(s) {
	case TransportWebSocket, TransportSockJS:
		return Transport(s), nil
	}
	return "", fmt.Errorf("unknown transport %q", s)
}

// Delivery is a MESSAGE frame received on a subscription.
type Delivery struct {
	Subscription string    // STOMP subscription id
	Destination  string    // Topic the message was published to
	MessageID    string    // Broker-assigned message id
	ContentType  string    // content-type header, if any
	Body         []byte    // Frame body
	ReceivedAt   time.Time // Local timestamp when the frame was read
}

// Callback receives deliveries for a subscribed topic.
type Callback func(Delivery)

// ClientConfig configures a single STOMP session.
type ClientConfig struct {
	URL            string        // Endpoint base (http(s):// or ws(s)://), e.g. https://pm.example.com/ws
	Transport      Transport     // websocket or sockjs
	Token          string        // Bearer token
	TokenInQuery   bool          // Send token as ?access_token= instead of a STOMP Authorization header
	Host           string        // STOMP host header (defaults to URL host)
	ConnectTimeout time.Duration // Dial + CONNECT/CONNECTED handshake bound
	WriteTimeout   time.Duration // Write deadline for sends
	Heartbeat      time.Duration // Outgoing heart-beat interval (0 = none)
	BufferSize     int           // Delivery channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Transport:      TransportSockJS,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		Heartbeat:      10 * time.Second,
		BufferSize:     1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Client          ClientConfig
	StateBufferSize int // Buffer for StateChanges()
	ErrorBufferSize int // Buffer for Errors()
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:          DefaultClientConfig(),
		StateBufferSize: 64,
		ErrorBufferSize: 16,
	}
}
