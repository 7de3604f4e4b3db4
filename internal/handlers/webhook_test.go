package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultranesh/edbase/internal/config"
	"github.com/ultranesh/edbase/internal/conversation"
	"github.com/ultranesh/edbase/internal/message"
	"github.com/ultranesh/edbase/internal/webhook"
)

func webhookTestConfig() config.Config {
	cfg := config.Config{}
	cfg.Meta.AppSecret = "meta-secret"
	cfg.Meta.VerifyToken = "meta-verify"
	cfg.WhatsApp.AppSecret = "wa-secret"
	cfg.WhatsApp.VerifyToken = "wa-verify"
	return cfg
}

func signBody(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type stubResolver struct {
	conv  conversation.Conversation
	err   error
	calls int
}

func (s *stubResolver) Resolve(context.Context, webhook.Platform, string, string) (conversation.Conversation, error) {
	s.calls++
	return s.conv, s.err
}

func (s *stubResolver) Lookup(context.Context, webhook.Platform, string) (conversation.Conversation, error) {
	if s.err != nil {
		return conversation.Conversation{}, s.err
	}
	if s.conv.ID == "" {
		return conversation.Conversation{}, conversation.ErrNotFound
	}
	return s.conv, nil
}

// brokenDB fails every operation; the pipeline must absorb that.
type brokenDB struct{}

type brokenRow struct{}

func (brokenRow) Scan(...any) error { return errors.New("db down") }

func (brokenDB) QueryRow(context.Context, string, ...any) pgx.Row { return brokenRow{} }
func (brokenDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("db down")
}
func (brokenDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("db down")
}

func newWebhookTestHandler(resolver *stubResolver) *WebhookHandler {
	store := message.NewStore(nil, brokenDB{}, nil)
	pipeline := message.NewPipeline(nil, resolver, store)
	return NewWebhookHandler(nil, webhookTestConfig(), pipeline)
}

func doPost(h echo.HandlerFunc, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	_ = h(c)
	return rec
}

func TestWebhookVerifyChallenge(t *testing.T) {
	t.Parallel()

	h := newWebhookTestHandler(&stubResolver{})
	e := echo.New()
	h.Register(e)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/meta?hub.mode=subscribe&hub.verify_token=meta-verify&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestWebhookVerifyRejectsBadToken(t *testing.T) {
	t.Parallel()

	h := newWebhookTestHandler(&stubResolver{})
	e := echo.New()
	h.Register(e)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookGarbagePayloadStillOK(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{}
	h := newWebhookTestHandler(resolver)

	body := `{{{{ not json`
	rec := doPost(h.ReceiveMeta, "/webhooks/meta", body, map[string]string{
		signatureHeader: signBody(body, "meta-secret"),
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Zero(t, resolver.calls)
}

func TestWebhookBadSignatureDroppedWithOK(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{}
	h := newWebhookTestHandler(resolver)

	body := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"u1"},"message":{"mid":"m1","text":"hi"}}]}]}`
	rec := doPost(h.ReceiveMeta, "/webhooks/meta", body, map[string]string{
		signatureHeader: "sha256=deadbeef",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, resolver.calls)
}

func TestWebhookPipelineFailureStillOK(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{conv: conversation.Conversation{
		ID:       "7b7d6d7e-54c1-4cf1-8f4e-6f0f6f4e9d10",
		Platform: webhook.PlatformMessenger,
	}}
	h := newWebhookTestHandler(resolver)

	body := `{"object":"page","entry":[{"messaging":[{"sender":{"id":"u1"},"message":{"mid":"m1","text":"hi"}}]}]}`
	rec := doPost(h.ReceiveMeta, "/webhooks/meta", body, map[string]string{
		signatureHeader: signBody(body, "meta-secret"),
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, resolver.calls)
}

func TestWebhookWhatsAppReceiptsProcessed(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{}
	h := newWebhookTestHandler(resolver)

	body := `{"entry":[{"changes":[{"field":"messages","value":{"statuses":[{"id":"wamid.1","status":"delivered","timestamp":"1700000000","recipient_id":"346"}]}}]}]}`
	rec := doPost(h.ReceiveWhatsApp, "/webhooks/whatsapp", body, map[string]string{
		signatureHeader: signBody(body, "wa-secret"),
	})

	require.Equal(t, http.StatusOK, rec.Code)
	// Receipt events address a vendor id directly; no conversation lookup.
	assert.Zero(t, resolver.calls)
}
