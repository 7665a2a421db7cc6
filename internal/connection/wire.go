package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/auditstream/internal/auth"
)

// wire carries STOMP payloads over a WebSocket, raw or SockJS-framed.
type wire interface {
	// ReadPayloads blocks for the next WebSocket message and returns the STOMP
	// payloads it carries (zero for SockJS open/heartbeat frames).
	ReadPayloads() ([][]byte, error)

	// WritePayload sends one STOMP payload.
	WritePayload(data []byte, deadline time.Time) error

	SetReadDeadline(t time.Time) error

	// CloseGracefully sends a close frame and closes the socket.
	CloseGracefully() error
}

var (
	// errSockJSClosed reports a SockJS close frame.
	errSockJSClosed = errors.New("sockjs session closed")

	// errMalformedFrame marks a transport frame that could not be parsed.
	// The session survives it.
	errMalformedFrame = errors.New("malformed frame")
)

// dialWire opens the WebSocket for cfg and, for SockJS, waits for the open frame.
func dialWire(ctx context.Context, cfg ClientConfig) (wire, error) {
	endpoint, err := endpointURL(cfg)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	if cfg.Transport != TransportSockJS {
		return &wsWire{conn: conn}, nil
	}

	w := &sockjsWire{conn: conn}
	if err := w.awaitOpen(time.Now().Add(cfg.ConnectTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	return w, nil
}

// endpointURL derives the WebSocket URL for cfg.
//
// For SockJS the websocket transport lives at <base>/<server-id>/<session-id>/websocket.
func endpointURL(cfg ClientConfig) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	if cfg.Transport == TransportSockJS {
		u.Path = fmt.Sprintf("%s/%03d/%s/websocket",
			strings.TrimSuffix(u.Path, "/"),
			rand.IntN(1000),
			strings.ReplaceAll(uuid.NewString(), "-", ""),
		)
	}

	raw := u.String()
	if cfg.TokenInQuery && cfg.Token != "" {
		return auth.WithQueryToken(raw, cfg.Token)
	}
	return raw, nil
}

// wsWire carries one STOMP payload per text message.
type wsWire struct {
	conn *websocket.Conn
}

func (w *wsWire) ReadPayloads() ([][]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return [][]byte{data}, nil
}

func (w *wsWire) WritePayload(data []byte, deadline time.Time) error {
	w.conn.SetWriteDeadline(deadline)
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsWire) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *wsWire) CloseGracefully() error {
	return closeSocket(w.conn)
}

// sockjsWire speaks the SockJS websocket transport framing:
//
//	o          open
//	h          heartbeat
//	a["..."]   array of messages
//	m"..."     single message (legacy)
//	c[code,""] close
type sockjsWire struct {
	conn *websocket.Conn
}

func (w *sockjsWire) awaitOpen(deadline time.Time) error {
	w.conn.SetReadDeadline(deadline)
	defer w.conn.SetReadDeadline(time.Time{})

	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("await sockjs open: %w", err)
	}
	if len(data) == 0 || data[0] != 'o' {
		return fmt.Errorf("await sockjs open: unexpected frame %q", truncate(data, 32))
	}
	return nil
}

func (w *sockjsWire) ReadPayloads() ([][]byte, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return parseSockJS(data)
}

func (w *sockjsWire) WritePayload(data []byte, deadline time.Time) error {
	framed, err := json.Marshal([]string{string(data)})
	if err != nil {
		return err
	}
	w.conn.SetWriteDeadline(deadline)
	return w.conn.WriteMessage(websocket.TextMessage, framed)
}

func (w *sockjsWire) SetReadDeadline(t time.Time) error {
	return w.conn.SetReadDeadline(t)
}

func (w *sockjsWire) CloseGracefully() error {
	return closeSocket(w.conn)
}

// parseSockJS extracts message payloads from one SockJS frame.
func parseSockJS(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	switch data[0] {
	case 'o', 'h':
		return nil, nil

	case 'a':
		var msgs []string
		if err := json.Unmarshal(data[1:], &msgs); err != nil {
			return nil, fmt.Errorf("%w: sockjs message array: %v", errMalformedFrame, err)
		}
		out := make([][]byte, len(msgs))
		for i, m := range msgs {
			out[i] = []byte(m)
		}
		return out, nil

	case 'm':
		var msg string
		if err := json.Unmarshal(data[1:], &msg); err != nil {
			return nil, fmt.Errorf("%w: sockjs message: %v", errMalformedFrame, err)
		}
		return [][]byte{[]byte(msg)}, nil

	case 'c':
		var reason []any
		if err := json.Unmarshal(data[1:], &reason); err != nil || len(reason) == 0 {
			return nil, errSockJSClosed
		}
		return nil, fmt.Errorf("%w: %v", errSockJSClosed, reason)
	}

	return nil, fmt.Errorf("%w: sockjs frame type %q", errMalformedFrame, data[0])
}

func closeSocket(conn *websocket.Conn) error {
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
