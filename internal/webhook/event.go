// Package webhook validates and normalizes inbound vendor webhook payloads.
// Each vendor parser turns one top-level payload into a flat sequence of
// Events; platform-specific shapes never leak past this package.
package webhook

import (
	"strings"
	"time"
)

// Platform identifies the external messaging platform.
type Platform string

const (
	PlatformMessenger Platform = "messenger"
	PlatformInstagram Platform = "instagram"
	PlatformWhatsApp  Platform = "whatsapp"
)

// String returns the platform as a plain string.
func (p Platform) String() string {
	return string(p)
}

// EventKind distinguishes the normalized webhook event variants.
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventDelivery EventKind = "delivery"
	EventRead     EventKind = "read"
)

// MessageType classifies message content across platforms.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeSticker  MessageType = "sticker"
	TypeLocation MessageType = "location"
	TypeTemplate MessageType = "template"
)

// Media describes an attachment carried by a message event. WhatsApp
// attachments carry a vendor media id; Meta attachments carry a CDN URL.
type Media struct {
	ID       string
	URL      string
	Mime     string
	Caption  string
	Filename string
}

// Location carries coordinates for location messages.
type Location struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

// Event is the normalized shape produced by the vendor parsers. It exists
// only for the duration of processing one vendor notification.
type Event struct {
	Kind            EventKind
	Platform        Platform
	ExternalUserID  string
	VendorMessageID string
	Timestamp       time.Time
	Type            MessageType
	Text            string
	Media           *Media
	Location        *Location
	// Watermark is set on Meta delivery/read receipts, which reference a
	// point in time rather than a single message id.
	Watermark time.Time
	// ProfileName is a best-effort contact name carried inline by WhatsApp.
	ProfileName string
}

func mapAttachmentType(vendorType string) MessageType {
	switch strings.ToLower(strings.TrimSpace(vendorType)) {
	case "image":
		return TypeImage
	case "video":
		return TypeVideo
	case "audio", "voice":
		return TypeAudio
	case "sticker":
		return TypeSticker
	case "location":
		return TypeLocation
	case "file", "document":
		return TypeDocument
	default:
		return TypeDocument
	}
}
