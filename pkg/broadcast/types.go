// Package broadcast contains the public domain model and interfaces of the
// broadcast service: token records, trigger events, gateway messages and tickets.
package broadcast

import "errors"

// ErrMissingTitle is returned for events that carry no notification title.
var ErrMissingTitle = errors.New("event title is required")

// TokenStatus is the publication state of a token record.
type TokenStatus string

const (
	StatusDraft     TokenStatus = "draft"
	StatusPublished TokenStatus = "published"
	StatusArchived  TokenStatus = "archived"
)

// TokenRecord is a row of the notifications_tokens table.
type TokenRecord struct {
	PushToken string      `json:"expoPushToken"`
	Notified  bool        `json:"notified"`
	IsForTest bool        `json:"isForTest"`
	Status    TokenStatus `json:"status"`
}

// TokenQuery filters token records. All fields must match.
type TokenQuery struct {
	IsForTest bool        `json:"isForTest"`
	Status    TokenStatus `json:"status"`
}

// Event is the payload of a "notification item created" trigger.
type Event struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Type  string `json:"type"`
	Event string `json:"event"`
}

// Validate checks the event can produce a visible notification.
func (e Event) Validate() error {
	if e.Title == "" {
		return ErrMissingTitle
	}
	return nil
}

// MessageData is the custom data attached to every message.
type MessageData struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

// Message is a single push notification addressed to one token.
type Message struct {
	To    string      `json:"to"`
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Data  MessageData `json:"data"`
	Sound string      `json:"sound"`
}

const (
	TicketStatusOK    = "ok"
	TicketStatusError = "error"

	unknownError = "unknown error"
)

// TicketDetails carries the machine-readable error of a failed ticket.
type TicketDetails struct {
	Error string `json:"error,omitempty"`
}

// Ticket is the gateway's result for one message.
type Ticket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details *TicketDetails `json:"details,omitempty"`
}

// OK reports whether the gateway accepted the message.
func (t Ticket) OK() bool {
	return t.Status == TicketStatusOK
}

// Reason returns the best available failure description:
// details.error, then message, then a generic fallback.
func (t Ticket) Reason() string {
	if t.Details != nil && t.Details.Error != "" {
		return t.Details.Error
	}
	if t.Message != "" {
		return t.Message
	}
	return unknownError
}

// BatchResult partitions the dispatched tokens of one run.
// A token appears in at most one of the three sets.
type BatchResult struct {
	Sent    []string
	Invalid []string
	// Dropped holds tokens whose outcome is unknown (transport failure or missing ticket).
	// They are left untouched by reconciliation.
	Dropped []string
}

// Report summarises one broadcast run.
type Report struct {
	RunID    string `json:"run_id"`
	Selected int    `json:"selected"`
	Sent     int    `json:"sent"`
	Invalid  int    `json:"invalid"`
	Dropped  int    `json:"dropped"`
}
