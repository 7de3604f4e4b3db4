// Package graph is the Meta Graph API client used for Messenger, Instagram,
// and WhatsApp Cloud API calls: profile lookups, message sends, media
// uploads, and short-lived media URL resolution.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ultranesh/edbase/internal/config"
	"github.com/ultranesh/edbase/internal/webhook"
)

const (
	requestTimeout = 30 * time.Second
	// Graph API message sends are allowed a small steady rate; bursts above
	// it queue at the limiter rather than tripping vendor-side throttling.
	sendRatePerSecond = 10
	sendBurst         = 20
)

// ErrProfileUnsupported is returned for platforms without a profile API.
var ErrProfileUnsupported = errors.New("profile lookup not supported for platform")

// SendError carries the vendor's error response for a failed API call.
type SendError struct {
	Platform webhook.Platform
	Code     int
	Subcode  int
	Message  string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send failed: %s (code %d)", e.Platform, e.Message, e.Code)
}

// Profile is the best-effort contact metadata fetched on first contact.
type Profile struct {
	Name      string
	AvatarURL string
}

// Transcoder converts audio content to the ogg/opus container WhatsApp
// requires for voice messages.
type Transcoder interface {
	ToOpus(ctx context.Context, r io.Reader, mime string) (io.ReadCloser, string, error)
}

// Client calls the Meta Graph API. One client serves all three platforms.
type Client struct {
	httpClient *http.Client
	baseURL    string
	version    string
	meta       config.MetaConfig
	whatsapp   config.WhatsAppConfig
	transcoder Transcoder
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a Graph API client from configuration.
func NewClient(log *slog.Logger, cfg config.Config) *Client {
	if log == nil {
		log = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.Media.GraphBaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultGraphBaseURL
	}
	version := cfg.Media.GraphVersion
	if version == "" {
		version = config.DefaultGraphVersion
	}
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		version:    version,
		meta:       cfg.Meta,
		whatsapp:   cfg.WhatsApp,
		limiter:    rate.NewLimiter(sendRatePerSecond, sendBurst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "graph-lookup",
			Timeout: 30 * time.Second,
		}),
		logger: log.With(slog.String("service", "graph")),
	}
}

// SetTranscoder configures audio transcoding for WhatsApp voice sends.
func (c *Client) SetTranscoder(t Transcoder) {
	c.transcoder = t
}

// SetHTTPClient overrides the HTTP client; tests point it at a fake vendor.
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.httpClient = hc
	}
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL + "/" + c.version + "/" + strings.Join(parts, "/")
}

// postJSON issues a JSON POST and decodes the response into out. Non-2xx
// responses are returned as *SendError with the vendor's error text.
func (c *Client) postJSON(ctx context.Context, platform webhook.Platform, url, bearer string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SendError{Platform: platform, Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &SendError{Platform: platform, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return vendorError(platform, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// fetchMedia downloads arbitrary media content, used when a send must be
// converted from a URL reference to an upload.
func (c *Client) fetchMedia(ctx context.Context, url string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("media fetch status %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// getJSON issues a GET behind the lookup circuit breaker.
func (c *Client) getJSON(ctx context.Context, url, bearer string, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("graph lookup status %d: %s", resp.StatusCode, truncate(raw, 256))
		}
		return nil, json.Unmarshal(raw, out)
	})
	return err
}

type graphErrorEnvelope struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}

func vendorError(platform webhook.Platform, status int, raw []byte) *SendError {
	var envelope graphErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return &SendError{
			Platform: platform,
			Code:     envelope.Error.Code,
			Subcode:  envelope.Error.ErrorSubcode,
			Message:  envelope.Error.Message,
		}
	}
	return &SendError{
		Platform: platform,
		Code:     status,
		Message:  fmt.Sprintf("http %d: %s", status, truncate(raw, 256)),
	}
}

func truncate(raw []byte, n int) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > n {
		return s[:n]
	}
	return s
}
