package router

import (
	"errors"
	"time"

	"github.com/rickgao/auditstream/internal/model"
)

// Errors
var (
	ErrMalformed = errors.New("malformed payload")
)

// Kind identifies the decoded message variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuditEvent
	KindPage
)

func (k Kind) String() string {
	switch k {
	case KindAuditEvent:
		return "audit_event"
	case KindPage:
		return "page"
	default:
		return "unknown"
	}
}

// Message is a decoded realtime payload. Exactly one of Event or Page is
// meaningful, selected by Kind.
type Message struct {
	Kind        Kind
	Destination string
	ReceivedAt  time.Time

	Event model.AuditEvent // KindAuditEvent
	Page  model.AuditPage  // KindPage
	Raw   []byte
}

// Handler receives decoded messages. Dispatch calls exactly one method per message.
type Handler interface {
	HandleAuditEvent(msg Message)
	HandlePage(msg Message)
	HandleUnmatched(msg Message)
}

// HandlerFuncs adapts optional functions to Handler. Nil functions ignore the message.
type HandlerFuncs struct {
	AuditEvent func(Message)
	Page       func(Message)
	Unmatched  func(Message)
}

func (h HandlerFuncs) HandleAuditEvent(msg Message) {
	if h.AuditEvent != nil {
		h.AuditEvent(msg)
	}
}

func (h HandlerFuncs) HandlePage(msg Message) {
	if h.Page != nil {
		h.Page(msg)
	}
}

func (h HandlerFuncs) HandleUnmatched(msg Message) {
	if h.Unmatched != nil {
		h.Unmatched(msg)
	}
}

// Stats contains routing statistics.
type Stats struct {
	Received    int64
	Routed      int64
	ParseErrors int64
	Unmatched   int64
}
