// Package mediaproxy streams vendor-hosted media to operator clients.
// Vendor CDN URLs are signed and expire, so records store stable media ids
// and the proxy resolves a fresh URL on every request; legacy records with
// a direct URL are served only from an allow-listed CDN host.
package mediaproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ultranesh/edbase/internal/webhook"
)

var (
	// ErrHostNotAllowed is returned when a direct URL points outside the
	// configured CDN allow-list.
	ErrHostNotAllowed = errors.New("media host not allowed")
	// ErrMediaNotFound is returned when the vendor no longer serves the
	// media id or URL.
	ErrMediaNotFound = errors.New("media not found")
)

// URLResolver turns a stable vendor media id into a short-lived signed URL.
type URLResolver interface {
	ResolveMediaURL(ctx context.Context, mediaID string) (signedURL, mime string, err error)
	WhatsAppAccessToken() string
}

// Stream is one proxied media response. Body must be closed by the caller.
type Stream struct {
	StatusCode    int
	ContentType   string
	ContentLength string
	ContentRange  string
	Body          io.ReadCloser
}

// Service fetches media from vendor CDNs with Range passthrough.
type Service struct {
	resolver     URLResolver
	httpClient   *http.Client
	allowedHosts []string
	logger       *slog.Logger
}

// NewService creates the proxy.
func NewService(log *slog.Logger, resolver URLResolver, allowedHosts []string) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		resolver:     resolver,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		allowedHosts: allowedHosts,
		logger:       log.With(slog.String("service", "mediaproxy")),
	}
}

// SetHTTPClient overrides the CDN client, for tests.
func (s *Service) SetHTTPClient(hc *http.Client) {
	s.httpClient = hc
}

// StreamByID resolves mediaID just in time and streams the media. The
// signed URL is used once and never stored; a second request resolves
// again.
func (s *Service) StreamByID(ctx context.Context, platform webhook.Platform, mediaID, rangeHeader string) (*Stream, error) {
	signedURL, mime, err := s.resolver.ResolveMediaURL(ctx, mediaID)
	if err != nil {
		return nil, fmt.Errorf("resolve media url: %w", err)
	}
	bearer := ""
	if platform == webhook.PlatformWhatsApp {
		// WhatsApp CDN requires the same bearer that resolved the URL.
		bearer = s.resolver.WhatsAppAccessToken()
	}
	stream, err := s.fetch(ctx, signedURL, rangeHeader, bearer)
	if err != nil {
		return nil, err
	}
	if stream.ContentType == "" {
		stream.ContentType = mime
	}
	return stream, nil
}

// StreamByURL serves a legacy record that stored a direct CDN URL. Only
// allow-listed hosts are fetched; everything else is refused before any
// network activity.
func (s *Service) StreamByURL(ctx context.Context, rawURL, rangeHeader string) (*Stream, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: malformed url", ErrHostNotAllowed)
	}
	if !s.hostAllowed(parsed.Hostname()) {
		s.logger.Warn("refused media host", slog.String("host", parsed.Hostname()))
		return nil, ErrHostNotAllowed
	}
	return s.fetch(ctx, rawURL, rangeHeader, "")
}

func (s *Service) fetch(ctx context.Context, target, rangeHeader, bearer string) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusNotFound, http.StatusGone, http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrMediaNotFound
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("media fetch returned %d", resp.StatusCode)
	}

	return &Stream{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.Header.Get("Content-Length"),
		ContentRange:  resp.Header.Get("Content-Range"),
		Body:          resp.Body,
	}, nil
}

// hostAllowed matches the host against the allow-list. An entry may use a
// single "*" label as a wildcard, e.g. "scontent.*.fbcdn.net".
func (s *Service) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, pattern := range s.allowedHosts {
		if hostMatches(host, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func hostMatches(host, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return host == pattern
	}
	hostLabels := strings.Split(host, ".")
	patternLabels := strings.Split(pattern, ".")
	if len(hostLabels) != len(patternLabels) {
		return false
	}
	for i, label := range patternLabels {
		if label == "*" {
			continue
		}
		if hostLabels[i] != label {
			return false
		}
	}
	return true
}
