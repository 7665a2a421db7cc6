package connection

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/rickgao/auditstream/internal/auth"
)

// stompVersion is the only protocol version this client negotiates.
const stompVersion = "1.2"

// heartbeatPayload is a STOMP heart-beat (a bare EOL).
var heartbeatPayload = []byte("\n")

// encodeFrame serializes a STOMP frame, including its NUL terminator.
func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// decodeFrames parses every STOMP frame in data. Heart-beats are skipped.
// Frames decoded before a malformed frame are returned with the error.
func decodeFrames(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))

	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("%w: %v", errMalformedFrame, err)
		}
		if f == nil {
			continue // heart-beat
		}
		frames = append(frames, f)
	}
}

// connectFrame builds the CONNECT frame for cfg.
func connectFrame(cfg ClientConfig, host string) *frame.Frame {
	f := frame.New(frame.CONNECT,
		frame.AcceptVersion, stompVersion,
		frame.Host, host,
		frame.HeartBeat, formatHeartbeat(cfg.Heartbeat),
	)
	if !cfg.TokenInQuery && cfg.Token != "" {
		f.Header.Add("Authorization", auth.Bearer(cfg.Token))
	}
	return f
}

func subscribeFrame(id, destination string) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, destination,
		frame.Ack, "auto",
	)
}

func unsubscribeFrame(id string) *frame.Frame {
	return frame.New(frame.UNSUBSCRIBE, frame.Id, id)
}

func sendFrame(destination string, body []byte) *frame.Frame {
	f := frame.New(frame.SEND,
		frame.Destination, destination,
		frame.ContentType, "application/json",
		frame.ContentLength, strconv.Itoa(len(body)),
	)
	f.Body = body
	return f
}

func disconnectFrame() *frame.Frame {
	return frame.New(frame.DISCONNECT)
}

// formatHeartbeat renders the heart-beat header: we send every d and ask the
// broker for the same.
func formatHeartbeat(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%d,%d", ms, ms)
}

// brokerError renders an ERROR frame as an error.
func brokerError(f *frame.Frame) error {
	msg := f.Header.Get(frame.Message)
	if msg == "" {
		msg = string(bytes.TrimRight(f.Body, "\x00\n"))
	}
	if msg == "" {
		msg = "unspecified"
	}
	return fmt.Errorf("broker error: %s", msg)
}

// toDelivery converts a MESSAGE frame.
func toDelivery(f *frame.Frame, receivedAt time.Time) Delivery {
	return Delivery{
		Subscription: f.Header.Get(frame.Subscription),
		Destination:  f.Header.Get(frame.Destination),
		MessageID:    f.Header.Get(frame.MessageId),
		ContentType:  f.Header.Get(frame.ContentType),
		Body:         f.Body,
		ReceivedAt:   receivedAt,
	}
}
