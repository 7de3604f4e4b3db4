package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WhatsApp Cloud API webhook payload shapes.

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Field string  `json:"field"`
	Value waValue `json:"value"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Contacts         []waContact `json:"contacts"`
	Messages         []waMessage `json:"messages"`
	Statuses         []waStatus  `json:"statuses"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	From      string      `json:"from"`
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Text      *waText     `json:"text"`
	Image     *waMedia    `json:"image"`
	Video     *waMedia    `json:"video"`
	Audio     *waMedia    `json:"audio"`
	Sticker   *waMedia    `json:"sticker"`
	Document  *waDocument `json:"document"`
	Location  *waLocation `json:"location"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

type waDocument struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type waLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
}

type waStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// ParseWhatsApp normalizes a WhatsApp Cloud API webhook payload. Statuses
// become delivery/read receipt events addressed to a single vendor message
// id; "read" statuses reference exactly the id given (the conservative
// reading of WhatsApp's read-up-to semantics).
func ParseWhatsApp(body []byte) ([]Event, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse whatsapp payload: %w", err)
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			names := map[string]string{}
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				ev, ok := waMessageEvent(msg)
				if !ok {
					continue
				}
				ev.ProfileName = names[msg.From]
				events = append(events, ev)
			}
			for _, status := range change.Value.Statuses {
				ev, ok := waStatusEvent(status)
				if !ok {
					continue
				}
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

func waMessageEvent(msg waMessage) (Event, bool) {
	ev := Event{
		Kind:            EventMessage,
		Platform:        PlatformWhatsApp,
		ExternalUserID:  msg.From,
		VendorMessageID: msg.ID,
		Timestamp:       waTimestamp(msg.Timestamp),
	}
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return Event{}, false
		}
		ev.Type = TypeText
		ev.Text = msg.Text.Body
	case "image", "video", "audio", "sticker":
		media := msg.Image
		switch msg.Type {
		case "video":
			media = msg.Video
		case "audio":
			media = msg.Audio
		case "sticker":
			media = msg.Sticker
		}
		if media == nil {
			return Event{}, false
		}
		ev.Type = mapAttachmentType(msg.Type)
		ev.Text = media.Caption
		ev.Media = &Media{ID: media.ID, Mime: media.MimeType, Caption: media.Caption}
	case "document":
		if msg.Document == nil {
			return Event{}, false
		}
		ev.Type = TypeDocument
		ev.Text = msg.Document.Caption
		ev.Media = &Media{
			ID:       msg.Document.ID,
			Mime:     msg.Document.MimeType,
			Caption:  msg.Document.Caption,
			Filename: msg.Document.Filename,
		}
	case "location":
		if msg.Location == nil {
			return Event{}, false
		}
		ev.Type = TypeLocation
		ev.Location = &Location{
			Latitude:  msg.Location.Latitude,
			Longitude: msg.Location.Longitude,
			Name:      msg.Location.Name,
			Address:   msg.Location.Address,
		}
	default:
		// Reactions, interactive replies, system notices.
		return Event{}, false
	}
	return ev, true
}

func waStatusEvent(status waStatus) (Event, bool) {
	ev := Event{
		Platform:        PlatformWhatsApp,
		ExternalUserID:  status.RecipientID,
		VendorMessageID: status.ID,
		Timestamp:       waTimestamp(status.Timestamp),
	}
	switch strings.ToLower(status.Status) {
	case "delivered":
		ev.Kind = EventDelivery
	case "read":
		ev.Kind = EventRead
	default:
		// "sent" restates the initial message state; "failed" after vendor
		// acknowledgment is not a transition this model admits.
		return Event{}, false
	}
	return ev, true
}

func waTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
