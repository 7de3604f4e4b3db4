package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetaObjectPlatform(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PlatformMessenger, MetaObjectPlatform("page"))
	assert.Equal(t, PlatformInstagram, MetaObjectPlatform("instagram"))
	assert.Equal(t, Platform(""), MetaObjectPlatform("whatsapp_business_account"))
	assert.Equal(t, Platform(""), MetaObjectPlatform(""))
}

func TestParseMetaTextMessage(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"object": "page",
		"entry": [{
			"id": "page-1",
			"time": 1700000000000,
			"messaging": [{
				"sender": {"id": "user-9"},
				"recipient": {"id": "page-1"},
				"timestamp": 1700000000123,
				"message": {"mid": "mid.abc", "text": "hello"}
			}]
		}]
	}`)

	events, err := ParseMeta(body)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, PlatformMessenger, ev.Platform)
	assert.Equal(t, "user-9", ev.ExternalUserID)
	assert.Equal(t, "mid.abc", ev.VendorMessageID)
	assert.Equal(t, TypeText, ev.Type)
	assert.Equal(t, "hello", ev.Text)
	assert.Equal(t, time.UnixMilli(1700000000123), ev.Timestamp)
}

func TestParseMetaInstagramAttachment(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"object": "instagram",
		"entry": [{
			"messaging": [{
				"sender": {"id": "ig-7"},
				"timestamp": 1700000001000,
				"message": {
					"mid": "mid.img",
					"attachments": [{"type": "image", "payload": {"url": "https://lookaside.fbsbx.com/x.jpg"}}]
				}
			}]
		}]
	}`)

	events, err := ParseMeta(body)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, PlatformInstagram, ev.Platform)
	assert.Equal(t, TypeImage, ev.Type)
	require.NotNil(t, ev.Media)
	assert.Equal(t, "https://lookaside.fbsbx.com/x.jpg", ev.Media.URL)
}

func TestParseMetaMultipleAttachmentsGetDistinctIDs(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"object": "page",
		"entry": [{
			"messaging": [{
				"sender": {"id": "user-9"},
				"message": {
					"mid": "mid.multi",
					"attachments": [
						{"type": "image", "payload": {"url": "https://cdn.fbsbx.com/a.jpg"}},
						{"type": "file", "payload": {"url": "https://cdn.fbsbx.com/b.pdf", "title": "b.pdf"}}
					]
				}
			}]
		}]
	}`)

	events, err := ParseMeta(body)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "mid.multi", events[0].VendorMessageID)
	assert.Equal(t, "mid.multi#1", events[1].VendorMessageID)
	assert.Equal(t, TypeDocument, events[1].Type)
	assert.Equal(t, "b.pdf", events[1].Media.Filename)
}

func TestParseMetaSkipsEchoes(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"object": "page",
		"entry": [{
			"messaging": [{
				"sender": {"id": "page-1"},
				"message": {"mid": "mid.echo", "text": "our own send", "is_echo": true}
			}]
		}]
	}`)

	events, err := ParseMeta(body)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseMetaDeliveryPerMID(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"object": "page",
		"entry": [{
			"messaging": [{
				"sender": {"id": "user-9"},
				"timestamp": 1700000002000,
				"delivery": {"mids": ["mid.1", "mid.2"], "watermark": 1700000001500}
			}]
		}]
	}`)

	events, err := ParseMeta(body)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for i, ev := range events {
		assert.Equal(t, EventDelivery, ev.Kind)
		assert.Equal(t, time.UnixMilli(1700000001500), ev.Watermark)
		assert.Equal(t, []string{"mid.1", "mid.2"}[i], ev.VendorMessageID)
	}
}

func TestParseMetaWatermarkOnlyDeliveryAndRead(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"object": "page",
		"entry": [{
			"messaging": [
				{
					"sender": {"id": "user-9"},
					"delivery": {"watermark": 1700000003000}
				},
				{
					"sender": {"id": "user-9"},
					"read": {"watermark": 1700000004000}
				}
			]
		}]
	}`)

	events, err := ParseMeta(body)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventDelivery, events[0].Kind)
	assert.Empty(t, events[0].VendorMessageID)
	assert.Equal(t, time.UnixMilli(1700000003000), events[0].Watermark)

	assert.Equal(t, EventRead, events[1].Kind)
	assert.Equal(t, time.UnixMilli(1700000004000), events[1].Watermark)
}

func TestParseMetaLocationAttachment(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"object": "page",
		"entry": [{
			"messaging": [{
				"sender": {"id": "user-9"},
				"message": {
					"mid": "mid.loc",
					"attachments": [{
						"type": "location",
						"payload": {"title": "Office", "coordinates": {"lat": 40.1, "long": -3.7}}
					}]
				}
			}]
		}]
	}`)

	events, err := ParseMeta(body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Location)
	assert.Equal(t, 40.1, events[0].Location.Latitude)
	assert.Equal(t, -3.7, events[0].Location.Longitude)
	assert.Equal(t, "Office", events[0].Location.Name)
}

func TestParseMetaRejectsUnknownObject(t *testing.T) {
	t.Parallel()

	_, err := ParseMeta([]byte(`{"object": "user", "entry": []}`))
	assert.Error(t, err)
}

func TestParseMetaRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseMeta([]byte(`not json at all`))
	assert.Error(t, err)
}

func TestParseMetaSkipsEmptyMessages(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"object": "page",
		"entry": [{
			"messaging": [{
				"sender": {"id": "user-9"},
				"message": {"mid": "mid.empty", "text": "  "}
			}]
		}]
	}`)

	events, err := ParseMeta(body)
	require.NoError(t, err)
	assert.Empty(t, events)
}
