package graph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultranesh/edbase/internal/config"
	"github.com/ultranesh/edbase/internal/webhook"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{
		Meta: config.MetaConfig{
			PageToken: "page-token",
		},
		WhatsApp: config.WhatsAppConfig{
			AccessToken:   "wa-token",
			PhoneNumberID: "555000",
		},
		Media: config.MediaConfig{
			GraphBaseURL: srv.URL,
			GraphVersion: "v21.0",
		},
	}
	return NewClient(nil, cfg), srv
}

func TestSendTextMessenger(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]string{"recipient_id": "user-9", "message_id": "mid.sent"})
	}))

	vendorID, err := client.SendText(context.Background(), webhook.PlatformMessenger, "user-9", "hello")
	require.NoError(t, err)
	assert.Equal(t, "mid.sent", vendorID)
	assert.Contains(t, gotPath, "/v21.0/me/messages")
	assert.Contains(t, gotPath, "access_token=page-token")
	assert.Equal(t, "RESPONSE", gotBody["messaging_type"])
}

func TestSendTextWhatsApp(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotBody map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.sent"}},
		})
	}))

	vendorID, err := client.SendText(context.Background(), webhook.PlatformWhatsApp, "34600111222", "hola")
	require.NoError(t, err)
	assert.Equal(t, "wamid.sent", vendorID)
	assert.Equal(t, "/v21.0/555000/messages", gotPath)
	assert.Equal(t, "Bearer wa-token", gotAuth)
	assert.Equal(t, "whatsapp", gotBody["messaging_product"])
}

func TestSendTextVendorError(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message":       "(#10) Outside allowed window",
				"type":          "OAuthException",
				"code":          10,
				"error_subcode": 2018278,
			},
		})
	}))

	_, err := client.SendText(context.Background(), webhook.PlatformMessenger, "user-9", "late reply")
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, 10, sendErr.Code)
	assert.Equal(t, 2018278, sendErr.Subcode)
	assert.Contains(t, sendErr.Message, "Outside allowed window")
}

func TestSendTextUnknownPlatform(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.SendText(context.Background(), webhook.Platform("telegram"), "x", "y")
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
}

type failingTranscoder struct{}

func (failingTranscoder) ToOpus(context.Context, io.Reader, string) (io.ReadCloser, string, error) {
	return nil, "", errors.New("codec exploded")
}

type passthroughTranscoder struct{}

func (passthroughTranscoder) ToOpus(_ context.Context, r io.Reader, _ string) (io.ReadCloser, string, error) {
	return io.NopCloser(r), "audio/ogg; codecs=opus", nil
}

func TestWhatsAppAudioTranscodeFailureIsSendError(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("vendor must not be called when transcoding fails")
	}))
	client.SetTranscoder(failingTranscoder{})

	_, err := client.SendMedia(context.Background(), webhook.PlatformWhatsApp, "34600111222", MediaDraft{
		Kind:   webhook.TypeAudio,
		Reader: strings.NewReader("mp3 bytes"),
		Mime:   "audio/mpeg",
	})
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Contains(t, sendErr.Message, "transcode audio")
}

func TestWhatsAppAudioUploadThenSend(t *testing.T) {
	t.Parallel()

	var uploadMime string
	var sendType string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/media"):
			require.NoError(t, r.ParseMultipartForm(1<<20))
			uploadMime = r.FormValue("type")
			assert.Equal(t, "whatsapp", r.FormValue("messaging_product"))
			json.NewEncoder(w).Encode(map[string]string{"id": "media-77"})
		case strings.HasSuffix(r.URL.Path, "/messages"):
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			sendType, _ = body["type"].(string)
			audio, _ := body["audio"].(map[string]any)
			assert.Equal(t, "media-77", audio["id"])
			json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{{"id": "wamid.audio"}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	client.SetTranscoder(passthroughTranscoder{})

	vendorID, err := client.SendMedia(context.Background(), webhook.PlatformWhatsApp, "34600111222", MediaDraft{
		Kind:   webhook.TypeAudio,
		Reader: strings.NewReader("mp3 bytes"),
		Mime:   "audio/mpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, "wamid.audio", vendorID)
	assert.Equal(t, "audio/ogg; codecs=opus", uploadMime)
	assert.Equal(t, "audio", sendType)
}

func TestResolveMediaURL(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/media-42", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer wa-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{
			"url":       "https://mmg.whatsapp.net/signed/abc",
			"mime_type": "image/jpeg",
		})
	})
	client, _ := newTestClient(t, mux)

	url, mime, err := client.ResolveMediaURL(context.Background(), "media-42")
	require.NoError(t, err)
	assert.Equal(t, "https://mmg.whatsapp.net/signed/abc", url)
	assert.Equal(t, "image/jpeg", mime)
}

func TestFetchProfileMessenger(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/user-9", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "fields=first_name")
		json.NewEncoder(w).Encode(map[string]string{
			"first_name":  "Ana",
			"last_name":   "Ruiz",
			"profile_pic": "https://scontent.xx.fbcdn.net/ana.jpg",
		})
	})
	client, _ := newTestClient(t, mux)

	profile, err := client.FetchProfile(context.Background(), webhook.PlatformMessenger, "user-9")
	require.NoError(t, err)
	assert.Equal(t, "Ana Ruiz", profile.Name)
	assert.Equal(t, "https://scontent.xx.fbcdn.net/ana.jpg", profile.AvatarURL)
}

func TestFetchProfileWhatsAppUnsupported(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	_, err := client.FetchProfile(context.Background(), webhook.PlatformWhatsApp, "34600111222")
	assert.ErrorIs(t, err, ErrProfileUnsupported)
}
