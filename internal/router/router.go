package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rickgao/auditstream/internal/connection"
)

// Decode classifies and parses a payload delivered on destination.
func Decode(destination string, body []byte) (Message, error) {
	msg := Message{
		Destination: destination,
		Raw:         body,
	}

	if !gjson.ValidBytes(body) {
		return msg, ErrMalformed
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return msg, nil
	}

	switch {
	case root.Get("content").IsArray() && root.Get("number").Exists():
		if err := json.Unmarshal(body, &msg.Page); err != nil {
			return msg, fmt.Errorf("%w: page: %v", ErrMalformed, err)
		}
		msg.Kind = KindPage

	case root.Get("id").Exists():
		if err := json.Unmarshal(body, &msg.Event); err != nil {
			return msg, fmt.Errorf("%w: audit event: %v", ErrMalformed, err)
		}
		msg.Kind = KindAuditEvent
	}

	return msg, nil
}

// Dispatch hands msg to the handler method matching its kind.
func Dispatch(msg Message, h Handler) {
	switch msg.Kind {
	case KindAuditEvent:
		h.HandleAuditEvent(msg)
	case KindPage:
		h.HandlePage(msg)
	default:
		h.HandleUnmatched(msg)
	}
}

// Router decodes deliveries from the Connection Manager and dispatches them.
// Route has the connection.Callback signature so it can be registered directly.
type Router struct {
	handler Handler
	logger  *slog.Logger

	received    atomic.Int64
	routed      atomic.Int64
	parseErrors atomic.Int64
	unmatched   atomic.Int64
}

// New creates a Router dispatching to handler.
func New(handler Handler, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handler: handler,
		logger:  logger,
	}
}

// Route decodes d and dispatches it. Malformed payloads are logged and dropped.
func (r *Router) Route(d connection.Delivery) {
	r.received.Add(1)

	msg, err := Decode(d.Destination, d.Body)
	if err != nil {
		r.parseErrors.Add(1)
		r.logger.Warn("dropping malformed payload",
			"destination", d.Destination,
			"error", err,
			"bytes", len(d.Body),
		)
		return
	}

	msg.ReceivedAt = d.ReceivedAt
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	if msg.Kind == KindUnknown {
		r.unmatched.Add(1)
		r.logger.Debug("unmatched payload", "destination", d.Destination)
	}

	Dispatch(msg, r.handler)
	r.routed.Add(1)
}

// Stats returns routing statistics.
func (r *Router) Stats() Stats {
	return Stats{
		Received:    r.received.Load(),
		Routed:      r.routed.Load(),
		ParseErrors: r.parseErrors.Load(),
		Unmatched:   r.unmatched.Load(),
	}
}
