package graph

import (
	"context"
	"io"

	"github.com/ultranesh/edbase/internal/webhook"
)

// MediaDraft describes outbound media content. Exactly one of VendorMediaID,
// Reader, or URL should be set; Reader triggers the WhatsApp pre-upload step.
type MediaDraft struct {
	Kind          webhook.MessageType
	URL           string
	VendorMediaID string
	Reader        io.Reader
	Mime          string
	Caption       string
	Filename      string
}

// SendText delivers a plain text message and returns the vendor message id.
func (c *Client) SendText(ctx context.Context, platform webhook.Platform, recipientID, text string) (string, error) {
	switch platform {
	case webhook.PlatformWhatsApp:
		return c.sendWhatsAppText(ctx, recipientID, text)
	case webhook.PlatformMessenger, webhook.PlatformInstagram:
		return c.sendMetaText(ctx, platform, recipientID, text)
	default:
		return "", &SendError{Platform: platform, Message: "unknown platform"}
	}
}

// SendMedia delivers a media message and returns the vendor message id.
func (c *Client) SendMedia(ctx context.Context, platform webhook.Platform, recipientID string, draft MediaDraft) (string, error) {
	switch platform {
	case webhook.PlatformWhatsApp:
		return c.sendWhatsAppMedia(ctx, recipientID, draft)
	case webhook.PlatformMessenger, webhook.PlatformInstagram:
		return c.sendMetaMedia(ctx, platform, recipientID, draft)
	default:
		return "", &SendError{Platform: platform, Message: "unknown platform"}
	}
}
