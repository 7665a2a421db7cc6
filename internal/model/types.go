package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Audit Events
// -----------------------------------------------------------------------------

// AuditEvent is a single audit-log entry pushed by the backend.
//
// Only ID and Timestamp are relied upon; the remaining fields are carried for
// display and archiving. Raw keeps the original JSON so that backend fields this
// client does not model are not lost.
type AuditEvent struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Action    string          `json:"action,omitempty"`
	Actor     string          `json:"username,omitempty"`
	Entity    string          `json:"entityType,omitempty"`
	EntityID  string          `json:"entityId,omitempty"`
	Details   string          `json:"details,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// auditEventWire is the permissive decoding shape for AuditEvent.
// IDs and entity IDs arrive as either JSON numbers or strings.
type auditEventWire struct {
	ID        json.RawMessage `json:"id"`
	Timestamp json.RawMessage `json:"timestamp"`
	Action    string          `json:"action"`
	Actor     string          `json:"username"`
	Entity    string          `json:"entityType"`
	EntityID  json.RawMessage `json:"entityId"`
	Details   string          `json:"details"`
}

// UnmarshalJSON decodes an audit event, normalizing IDs and timestamps.
func (e *AuditEvent) UnmarshalJSON(data []byte) error {
	var w auditEventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	id, err := scalarString(w.ID)
	if err != nil {
		return fmt.Errorf("audit event id: %w", err)
	}
	if id == "" {
		return fmt.Errorf("audit event id: missing")
	}

	ts, err := ParseTimestamp(w.Timestamp)
	if err != nil {
		return fmt.Errorf("audit event %s timestamp: %w", id, err)
	}

	entityID, err := scalarString(w.EntityID)
	if err != nil {
		return fmt.Errorf("audit event %s entityId: %w", id, err)
	}

	*e = AuditEvent{
		ID:        id,
		Timestamp: ts,
		Action:    w.Action,
		Actor:     w.Actor,
		Entity:    w.Entity,
		EntityID:  entityID,
		Details:   w.Details,
		Raw:       append(json.RawMessage(nil), data...),
	}
	return nil
}

// MarshalJSON returns Raw when present so re-encoding is lossless.
func (e AuditEvent) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	type plain AuditEvent
	return json.Marshal(plain(e))
}

// localLayouts are zone-less layouts the backend uses for LocalDateTime fields.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a JSON timestamp value: an RFC 3339 string, a zone-less
// local date-time string (interpreted as UTC), or a number of epoch milliseconds.
// A missing or null value yields the zero time.
func ParseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, nil
	}

	if s[0] != '"' {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid epoch millis %q", s)
		}
		return time.UnixMilli(ms).UTC(), nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, str); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, str, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", str)
}

// scalarString renders a JSON string or number as a Go string.
func scalarString(raw json.RawMessage) (string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return "", err
		}
		return str, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", s)
	}
	return n.String(), nil
}

// -----------------------------------------------------------------------------
// Paging
// -----------------------------------------------------------------------------

// Page is the backend's paginated response envelope.
type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalPages    int   `json:"totalPages"`
	TotalElements int64 `json:"totalElements"`
	Number        int   `json:"number"` // 0-indexed page number
	Size          int   `json:"size"`
	First         bool  `json:"first"`
	Last          bool  `json:"last"`
}

// AuditPage is a page of audit events.
type AuditPage = Page[AuditEvent]

// PageRequest is published to the request destination to ask for a page
// over the realtime channel.
type PageRequest struct {
	RequestID string `json:"requestId"`
	Page      int    `json:"page"`
	Size      int    `json:"size"`
}

// NewPageRequest builds a request with a fresh request ID.
func NewPageRequest(page, size int) PageRequest {
	return PageRequest{
		RequestID: uuid.NewString(),
		Page:      page,
		Size:      size,
	}
}
