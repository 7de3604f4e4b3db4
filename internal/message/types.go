// Package message persists normalized inbound and outbound messages and
// applies delivery/read receipts.
package message

import (
	"time"

	"github.com/ultranesh/edbase/internal/webhook"
)

// Direction distinguishes inbound contact messages from operator sends.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// statusRank orders the forward-only delivery progression. Failed is a
// terminal branch reached only at send time, never from a receipt.
func statusRank(s Status) int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusFailed:
		return 4
	default:
		return 0
	}
}

// Advances reports whether moving from current to next is a legal
// forward-only transition.
func Advances(current, next Status) bool {
	if current == StatusFailed || next == StatusFailed {
		return false
	}
	return statusRank(next) > statusRank(current)
}

// Message is one unit of communication within a conversation.
type Message struct {
	ID              string              `json:"id"`
	ConversationID  string              `json:"conversation_id"`
	Platform        webhook.Platform    `json:"platform"`
	VendorMessageID string              `json:"vendor_message_id,omitempty"`
	Direction       Direction           `json:"direction"`
	Type            webhook.MessageType `json:"type"`
	Body            string              `json:"body,omitempty"`
	MediaID         string              `json:"media_id,omitempty"`
	MediaURL        string              `json:"media_url,omitempty"`
	MimeType        string              `json:"mime_type,omitempty"`
	Caption         string              `json:"caption,omitempty"`
	Filename        string              `json:"filename,omitempty"`
	Latitude        *float64            `json:"latitude,omitempty"`
	Longitude       *float64            `json:"longitude,omitempty"`
	Status          Status              `json:"status"`
	Read            bool                `json:"read"`
	SenderID        string              `json:"sender_id,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// OutgoingDraft describes an operator message about to be recorded after a
// successful vendor send.
type OutgoingDraft struct {
	Type     webhook.MessageType
	Body     string
	MediaID  string
	MediaURL string
	MimeType string
	Caption  string
	Filename string
	SenderID string
}

// Notifier receives realtime events for connected operator clients.
// Delivery is best-effort; persistence never depends on it.
type Notifier interface {
	Publish(topic string, payload any)
}
