package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ultranesh/edbase/internal/webhook"
)

// WhatsApp Cloud API: sends go through /{phone_number_id}/messages with a
// bearer token; binary media must be pre-uploaded to obtain a media id.

type waSendRequest struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Text             *waSendText     `json:"text,omitempty"`
	Image            *waSendMedia    `json:"image,omitempty"`
	Video            *waSendMedia    `json:"video,omitempty"`
	Audio            *waSendMedia    `json:"audio,omitempty"`
	Document         *waSendDocument `json:"document,omitempty"`
	Sticker          *waSendMedia    `json:"sticker,omitempty"`
	Template         *waSendTemplate `json:"template,omitempty"`
}

type waSendText struct {
	Body string `json:"body"`
}

type waSendMedia struct {
	ID      string `json:"id,omitempty"`
	Link    string `json:"link,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type waSendDocument struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type waSendTemplate struct {
	Name       string                    `json:"name"`
	Language   waTemplateLanguage        `json:"language"`
	Components []waSendTemplateComponent `json:"components,omitempty"`
}

type waTemplateLanguage struct {
	Code string `json:"code"`
}

type waSendTemplateComponent struct {
	Type       string                    `json:"type"`
	Parameters []waSendTemplateParameter `json:"parameters,omitempty"`
}

type waSendTemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type waMediaUploadResponse struct {
	ID string `json:"id"`
}

type waMediaLookupResponse struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

func (c *Client) waMessagesURL() string {
	return c.endpoint(c.whatsapp.PhoneNumberID, "messages")
}

func (c *Client) sendWhatsApp(ctx context.Context, req waSendRequest) (string, error) {
	req.MessagingProduct = "whatsapp"
	var resp waSendResponse
	if err := c.postJSON(ctx, webhook.PlatformWhatsApp, c.waMessagesURL(), c.whatsapp.AccessToken, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 {
		return "", &SendError{Platform: webhook.PlatformWhatsApp, Message: "send response carried no message id"}
	}
	return resp.Messages[0].ID, nil
}

func (c *Client) sendWhatsAppText(ctx context.Context, to, text string) (string, error) {
	return c.sendWhatsApp(ctx, waSendRequest{
		To:   to,
		Type: "text",
		Text: &waSendText{Body: text},
	})
}

func (c *Client) sendWhatsAppMedia(ctx context.Context, to string, draft MediaDraft) (string, error) {
	mediaID := draft.VendorMediaID
	mime := draft.Mime

	// Audio referenced by URL cannot go out as a link: it would skip the
	// ogg/opus requirement. Pull it down and take the upload path instead.
	if draft.Kind == webhook.TypeAudio && mediaID == "" && draft.Reader == nil && draft.URL != "" {
		body, fetchedMime, err := c.fetchMedia(ctx, draft.URL)
		if err != nil {
			return "", &SendError{Platform: webhook.PlatformWhatsApp, Message: fmt.Sprintf("fetch audio: %v", err)}
		}
		defer func() {
			_ = body.Close()
		}()
		draft.Reader = body
		if mime == "" {
			mime = fetchedMime
		}
	}

	if mediaID == "" && draft.Reader != nil {
		reader := io.Reader(draft.Reader)
		// Voice notes must be ogg/opus; anything else is rejected by the
		// vendor, so transcode before the upload round trip.
		if draft.Kind == webhook.TypeAudio && !strings.Contains(mime, "ogg") {
			if c.transcoder == nil {
				return "", &SendError{Platform: webhook.PlatformWhatsApp, Message: "audio transcoder not configured"}
			}
			converted, convertedMime, err := c.transcoder.ToOpus(ctx, reader, mime)
			if err != nil {
				return "", &SendError{Platform: webhook.PlatformWhatsApp, Message: fmt.Sprintf("transcode audio: %v", err)}
			}
			defer func() {
				_ = converted.Close()
			}()
			reader = converted
			mime = convertedMime
		}
		uploaded, err := c.UploadMedia(ctx, reader, mime, draft.Filename)
		if err != nil {
			return "", err
		}
		mediaID = uploaded
	}

	req := waSendRequest{To: to, Type: string(draft.Kind)}
	media := &waSendMedia{ID: mediaID, Caption: draft.Caption}
	if mediaID == "" {
		media = &waSendMedia{Link: draft.URL, Caption: draft.Caption}
	}
	switch draft.Kind {
	case webhook.TypeImage:
		req.Image = media
	case webhook.TypeVideo:
		req.Video = media
	case webhook.TypeAudio:
		media.Caption = ""
		req.Audio = media
	case webhook.TypeSticker:
		media.Caption = ""
		req.Sticker = media
	case webhook.TypeDocument:
		req.Type = "document"
		req.Document = &waSendDocument{ID: media.ID, Link: media.Link, Caption: draft.Caption, Filename: draft.Filename}
	default:
		return "", &SendError{Platform: webhook.PlatformWhatsApp, Message: fmt.Sprintf("unsupported media kind %q", draft.Kind)}
	}
	return c.sendWhatsApp(ctx, req)
}

// SendTemplate sends a pre-approved WhatsApp template message.
func (c *Client) SendTemplate(ctx context.Context, to, name, languageCode string, bodyParams []string) (string, error) {
	tpl := &waSendTemplate{
		Name:     name,
		Language: waTemplateLanguage{Code: languageCode},
	}
	if len(bodyParams) > 0 {
		component := waSendTemplateComponent{Type: "body"}
		for _, param := range bodyParams {
			component.Parameters = append(component.Parameters, waSendTemplateParameter{Type: "text", Text: param})
		}
		tpl.Components = append(tpl.Components, component)
	}
	return c.sendWhatsApp(ctx, waSendRequest{To: to, Type: "template", Template: tpl})
}

// UploadMedia uploads binary content to WhatsApp and returns the vendor
// media id to reference in a subsequent send.
func (c *Client) UploadMedia(ctx context.Context, r io.Reader, mime, filename string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := writer.WriteField("type", mime); err != nil {
		return "", err
	}
	if filename == "" {
		filename = "upload"
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("buffer upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.whatsapp.PhoneNumberID, "media"), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.whatsapp.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SendError{Platform: webhook.PlatformWhatsApp, Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &SendError{Platform: webhook.PlatformWhatsApp, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", vendorError(webhook.PlatformWhatsApp, resp.StatusCode, raw)
	}
	var uploaded waMediaUploadResponse
	if err := json.Unmarshal(raw, &uploaded); err != nil {
		return "", err
	}
	if uploaded.ID == "" {
		return "", &SendError{Platform: webhook.PlatformWhatsApp, Message: "media upload returned no id"}
	}
	return uploaded.ID, nil
}

// ResolveMediaURL exchanges a stable media id for a fresh short-lived signed
// URL. The URL must not be cached; only the id is stable.
func (c *Client) ResolveMediaURL(ctx context.Context, mediaID string) (string, string, error) {
	var lookup waMediaLookupResponse
	if err := c.getJSON(ctx, c.endpoint(mediaID), c.whatsapp.AccessToken, &lookup); err != nil {
		return "", "", err
	}
	if lookup.URL == "" {
		return "", "", fmt.Errorf("media %s resolved to empty url", mediaID)
	}
	return lookup.URL, lookup.MimeType, nil
}

// WhatsAppAccessToken exposes the bearer token for authenticated CDN
// fetches by the media proxy.
func (c *Client) WhatsAppAccessToken() string {
	return c.whatsapp.AccessToken
}
