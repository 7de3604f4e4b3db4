package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Meta webhook payload shapes shared by Messenger ("page") and Instagram
// ("instagram") event subscriptions.

type metaPayload struct {
	Object string      `json:"object"`
	Entry  []metaEntry `json:"entry"`
}

type metaEntry struct {
	ID        string          `json:"id"`
	Time      int64           `json:"time"`
	Messaging []metaMessaging `json:"messaging"`
}

type metaMessaging struct {
	Sender    metaParty     `json:"sender"`
	Recipient metaParty     `json:"recipient"`
	Timestamp int64         `json:"timestamp"`
	Message   *metaMessage  `json:"message"`
	Delivery  *metaDelivery `json:"delivery"`
	Read      *metaRead     `json:"read"`
}

type metaParty struct {
	ID string `json:"id"`
}

type metaMessage struct {
	MID         string           `json:"mid"`
	Text        string           `json:"text"`
	IsEcho      bool             `json:"is_echo"`
	Attachments []metaAttachment `json:"attachments"`
}

type metaAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL       string `json:"url"`
		Title     string `json:"title"`
		StickerID int64  `json:"sticker_id"`
		Coordinates *struct {
			Lat  float64 `json:"lat"`
			Long float64 `json:"long"`
		} `json:"coordinates"`
	} `json:"payload"`
}

type metaDelivery struct {
	MIDs      []string `json:"mids"`
	Watermark int64    `json:"watermark"`
}

type metaRead struct {
	Watermark int64 `json:"watermark"`
}

// MetaObjectPlatform maps the payload's top-level "object" discriminator to
// a platform, or "" when the object is not one this service ingests.
func MetaObjectPlatform(object string) Platform {
	switch strings.ToLower(strings.TrimSpace(object)) {
	case "page":
		return PlatformMessenger
	case "instagram":
		return PlatformInstagram
	default:
		return ""
	}
}

// ParseMeta normalizes a Messenger/Instagram webhook payload. One payload
// may batch several entries; each recognized messaging item yields one
// Event. Unrecognized items are skipped.
func ParseMeta(body []byte) ([]Event, error) {
	var payload metaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse meta payload: %w", err)
	}
	platform := MetaObjectPlatform(payload.Object)
	if platform == "" {
		return nil, fmt.Errorf("unsupported meta object %q", payload.Object)
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, item := range entry.Messaging {
			ts := time.UnixMilli(item.Timestamp)
			switch {
			case item.Message != nil:
				if item.Message.IsEcho {
					// Echoes of our own sends are already recorded at send time.
					continue
				}
				events = append(events, metaMessageEvents(platform, item, ts)...)
			case item.Delivery != nil:
				for _, mid := range item.Delivery.MIDs {
					events = append(events, Event{
						Kind:            EventDelivery,
						Platform:        platform,
						ExternalUserID:  item.Sender.ID,
						VendorMessageID: mid,
						Timestamp:       ts,
						Watermark:       time.UnixMilli(item.Delivery.Watermark),
					})
				}
				if len(item.Delivery.MIDs) == 0 && item.Delivery.Watermark > 0 {
					events = append(events, Event{
						Kind:           EventDelivery,
						Platform:       platform,
						ExternalUserID: item.Sender.ID,
						Timestamp:      ts,
						Watermark:      time.UnixMilli(item.Delivery.Watermark),
					})
				}
			case item.Read != nil:
				events = append(events, Event{
					Kind:           EventRead,
					Platform:       platform,
					ExternalUserID: item.Sender.ID,
					Timestamp:      ts,
					Watermark:      time.UnixMilli(item.Read.Watermark),
				})
			}
		}
	}
	return events, nil
}

func metaMessageEvents(platform Platform, item metaMessaging, ts time.Time) []Event {
	msg := item.Message
	base := Event{
		Kind:            EventMessage,
		Platform:        platform,
		ExternalUserID:  item.Sender.ID,
		VendorMessageID: msg.MID,
		Timestamp:       ts,
	}

	if len(msg.Attachments) == 0 {
		if strings.TrimSpace(msg.Text) == "" {
			return nil
		}
		base.Type = TypeText
		base.Text = msg.Text
		return []Event{base}
	}

	// Meta delivers one mid per message even with multiple attachments.
	// Folding the extras into a single event would lose them, so each
	// attachment past the first gets a synthetic suffix id.
	events := make([]Event, 0, len(msg.Attachments))
	for i, att := range msg.Attachments {
		ev := base
		if i > 0 {
			ev.VendorMessageID = fmt.Sprintf("%s#%d", msg.MID, i)
		}
		ev.Type = mapAttachmentType(att.Type)
		ev.Text = msg.Text
		if ev.Type == TypeLocation && att.Payload.Coordinates != nil {
			ev.Location = &Location{
				Latitude:  att.Payload.Coordinates.Lat,
				Longitude: att.Payload.Coordinates.Long,
				Name:      att.Payload.Title,
			}
		} else {
			ev.Media = &Media{
				URL:      att.Payload.URL,
				Filename: att.Payload.Title,
			}
		}
		events = append(events, ev)
	}
	return events
}
