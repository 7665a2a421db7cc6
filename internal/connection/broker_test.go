package connection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

// mockBroker is a minimal STOMP 1.2 broker over plain WebSocket or SockJS.
type mockBroker struct {
	t         *testing.T
	server    *httptest.Server
	sockjs    bool
	wantToken string

	mu       sync.Mutex
	conns    []*brokerConn
	connects int
	msgID    int

	frames chan *frame.Frame
}

type brokerConn struct {
	conn   *websocket.Conn
	sockjs bool

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]string // id -> destination
}

func newMockBroker(t *testing.T, sockjs bool) *mockBroker {
	t.Helper()

	b := &mockBroker{
		t:      t,
		sockjs: sockjs,
		frames: make(chan *frame.Frame, 256),
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sockjs && !strings.HasSuffix(r.URL.Path, "/websocket") {
			http.NotFound(w, r)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		bc := &brokerConn{conn: conn, sockjs: sockjs, subs: make(map[string]string)}
		b.mu.Lock()
		b.conns = append(b.conns, bc)
		b.mu.Unlock()

		if sockjs {
			bc.writeRaw([]byte("o"))
		}

		b.serve(bc)
	}))
	t.Cleanup(b.Close)

	return b
}

func (b *mockBroker) URL() string {
	return b.server.URL
}

func (b *mockBroker) Close() {
	b.DropAll()
	b.server.Close()
}

func (b *mockBroker) serve(bc *brokerConn) {
	defer b.remove(bc)

	for {
		_, data, err := bc.conn.ReadMessage()
		if err != nil {
			return
		}

		var payloads []string
		if bc.sockjs {
			if err := json.Unmarshal(data, &payloads); err != nil {
				continue
			}
		} else {
			payloads = []string{string(data)}
		}

		for _, p := range payloads {
			frames, _ := decodeFrames([]byte(p))
			for _, f := range frames {
				if !b.handle(bc, f) {
					return
				}
			}
		}
	}
}

func (b *mockBroker) handle(bc *brokerConn, f *frame.Frame) bool {
	select {
	case b.frames <- f:
	default:
	}

	switch f.Command {
	case frame.CONNECT:
		b.mu.Lock()
		b.connects++
		b.mu.Unlock()

		if b.wantToken != "" && f.Header.Get("Authorization") != "Bearer "+b.wantToken {
			bc.writeFrame(frame.New(frame.ERROR, frame.Message, "unauthorized"))
			bc.conn.Close()
			return false
		}
		bc.writeFrame(frame.New(frame.CONNECTED, frame.Version, "1.2"))

	case frame.SUBSCRIBE:
		bc.mu.Lock()
		bc.subs[f.Header.Get(frame.Id)] = f.Header.Get(frame.Destination)
		bc.mu.Unlock()

	case frame.UNSUBSCRIBE:
		bc.mu.Lock()
		delete(bc.subs, f.Header.Get(frame.Id))
		bc.mu.Unlock()
	}
	return true
}

func (b *mockBroker) remove(bc *brokerConn) {
	b.mu.Lock()
	for i, c := range b.conns {
		if c == bc {
			b.conns = append(b.conns[:i], b.conns[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	bc.conn.Close()
}

// Publish delivers body to every subscription on destination and returns
// the number of MESSAGE frames written.
func (b *mockBroker) Publish(destination string, body []byte) int {
	b.mu.Lock()
	conns := append([]*brokerConn(nil), b.conns...)
	b.mu.Unlock()

	n := 0
	for _, bc := range conns {
		bc.mu.Lock()
		var ids []string
		for id, dest := range bc.subs {
			if dest == destination {
				ids = append(ids, id)
			}
		}
		bc.mu.Unlock()

		for _, id := range ids {
			b.mu.Lock()
			b.msgID++
			mid := strconv.Itoa(b.msgID)
			b.mu.Unlock()

			f := frame.New(frame.MESSAGE,
				frame.Destination, destination,
				frame.Subscription, id,
				frame.MessageId, mid,
				frame.ContentType, "application/json",
			)
			f.Body = body
			if bc.writeFrame(f) == nil {
				n++
			}
		}
	}
	return n
}

// SendError writes an ERROR frame on every connection.
func (b *mockBroker) SendError(msg string) {
	b.mu.Lock()
	conns := append([]*brokerConn(nil), b.conns...)
	b.mu.Unlock()

	for _, bc := range conns {
		bc.writeFrame(frame.New(frame.ERROR, frame.Message, msg))
	}
}

// DropAll closes every connection without a close handshake.
func (b *mockBroker) DropAll() {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()

	for _, bc := range conns {
		bc.conn.Close()
	}
}

// SubscriptionCount returns active subscriptions for destination.
func (b *mockBroker) SubscriptionCount(destination string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, bc := range b.conns {
		bc.mu.Lock()
		for _, dest := range bc.subs {
			if dest == destination {
				n++
			}
		}
		bc.mu.Unlock()
	}
	return n
}

// Connects returns how many CONNECT frames were received.
func (b *mockBroker) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

// waitFrame returns the next client frame with the given command.
func (b *mockBroker) waitFrame(t *testing.T, command string) *frame.Frame {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-b.frames:
			if f.Command == command {
				return f
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s frame", command)
			return nil
		}
	}
}

// waitFor polls cond until it holds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func (bc *brokerConn) writeFrame(f *frame.Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	if bc.sockjs {
		framed, err := json.Marshal([]string{string(data)})
		if err != nil {
			return err
		}
		data = append([]byte("a"), framed...)
	}
	return bc.writeRaw(data)
}

func (bc *brokerConn) writeRaw(data []byte) error {
	bc.writeMu.Lock()
	defer bc.writeMu.Unlock()
	return bc.conn.WriteMessage(websocket.TextMessage, data)
}

func testClientConfig(url string, transport Transport) ClientConfig {
	return ClientConfig{
		URL:            url,
		Transport:      transport,
		Token:          "test-token",
		ConnectTimeout: 2 * time.Second,
		WriteTimeout:   time.Second,
		BufferSize:     16,
	}
}
