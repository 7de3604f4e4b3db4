package graph

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ultranesh/edbase/internal/webhook"
)

// Messenger / Instagram send API. Both go through the page-scoped
// /me/messages endpoint with the page access token.

type metaRecipient struct {
	ID string `json:"id"`
}

type metaSendMessage struct {
	Text       string              `json:"text,omitempty"`
	Attachment *metaSendAttachment `json:"attachment,omitempty"`
}

type metaSendAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL        string `json:"url"`
		IsReusable bool   `json:"is_reusable"`
	} `json:"payload"`
}

type metaSendRequest struct {
	Recipient     metaRecipient   `json:"recipient"`
	MessagingType string          `json:"messaging_type"`
	Message       metaSendMessage `json:"message"`
}

type metaSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

func (c *Client) sendMetaText(ctx context.Context, platform webhook.Platform, recipientID, text string) (string, error) {
	req := metaSendRequest{
		Recipient:     metaRecipient{ID: recipientID},
		MessagingType: "RESPONSE",
		Message:       metaSendMessage{Text: text},
	}
	var resp metaSendResponse
	if err := c.postJSON(ctx, platform, c.metaSendURL(), "", req, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

func (c *Client) sendMetaMedia(ctx context.Context, platform webhook.Platform, recipientID string, draft MediaDraft) (string, error) {
	if strings.TrimSpace(draft.URL) == "" {
		return "", &SendError{Platform: platform, Message: "meta media sends require a public url"}
	}
	attachment := &metaSendAttachment{Type: metaAttachmentType(draft.Kind)}
	attachment.Payload.URL = draft.URL
	attachment.Payload.IsReusable = true
	req := metaSendRequest{
		Recipient:     metaRecipient{ID: recipientID},
		MessagingType: "RESPONSE",
		Message:       metaSendMessage{Attachment: attachment},
	}
	var resp metaSendResponse
	if err := c.postJSON(ctx, platform, c.metaSendURL(), "", req, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

func (c *Client) metaSendURL() string {
	return c.endpoint("me", "messages") + "?access_token=" + url.QueryEscape(c.meta.PageToken)
}

func metaAttachmentType(kind webhook.MessageType) string {
	switch kind {
	case webhook.TypeImage, webhook.TypeSticker:
		return "image"
	case webhook.TypeVideo:
		return "video"
	case webhook.TypeAudio:
		return "audio"
	default:
		return "file"
	}
}

type messengerProfile struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	ProfilePic string `json:"profile_pic"`
}

type instagramProfile struct {
	Name           string `json:"name"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profile_picture_url"`
}

// FetchProfile looks up best-effort display name and avatar for an external
// user. WhatsApp has no profile endpoint; contact names arrive inline on
// webhooks instead.
func (c *Client) FetchProfile(ctx context.Context, platform webhook.Platform, externalUserID string) (Profile, error) {
	token := url.QueryEscape(c.meta.PageToken)
	switch platform {
	case webhook.PlatformMessenger:
		var p messengerProfile
		u := c.endpoint(externalUserID) + "?fields=first_name,last_name,profile_pic&access_token=" + token
		if err := c.getJSON(ctx, u, "", &p); err != nil {
			return Profile{}, err
		}
		return Profile{
			Name:      strings.TrimSpace(fmt.Sprintf("%s %s", p.FirstName, p.LastName)),
			AvatarURL: p.ProfilePic,
		}, nil
	case webhook.PlatformInstagram:
		var p instagramProfile
		u := c.endpoint(externalUserID) + "?fields=name,username,profile_picture_url&access_token=" + token
		if err := c.getJSON(ctx, u, "", &p); err != nil {
			return Profile{}, err
		}
		name := p.Name
		if name == "" {
			name = p.Username
		}
		return Profile{Name: name, AvatarURL: p.ProfilePicture}, nil
	default:
		return Profile{}, ErrProfileUnsupported
	}
}
