package message

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultranesh/edbase/internal/conversation"
	"github.com/ultranesh/edbase/internal/metrics"
	"github.com/ultranesh/edbase/internal/webhook"
)

type scriptedResolver struct {
	resolveCalls int
	lookupConv   conversation.Conversation
	lookupErr    error
}

func (r *scriptedResolver) Resolve(context.Context, webhook.Platform, string, string) (conversation.Conversation, error) {
	r.resolveCalls++
	return conversation.Conversation{}, errors.New("unexpected resolve")
}

func (r *scriptedResolver) Lookup(context.Context, webhook.Platform, string) (conversation.Conversation, error) {
	if r.lookupErr != nil {
		return conversation.Conversation{}, r.lookupErr
	}
	return r.lookupConv, nil
}

func TestWatermarkReceiptUnknownSenderCreatesNothing(t *testing.T) {
	t.Parallel()

	counter := metrics.ReceiptsUnmatched.WithLabelValues(webhook.PlatformInstagram.String())
	before := testutil.ToFloat64(counter)

	db := &fakeDB{}
	resolver := &scriptedResolver{lookupErr: conversation.ErrNotFound}
	pipeline := NewPipeline(nil, resolver, NewStore(nil, db, nil))

	pipeline.Process(context.Background(), []webhook.Event{{
		Kind:           webhook.EventRead,
		Platform:       webhook.PlatformInstagram,
		ExternalUserID: "ig-9",
		Timestamp:      time.Now(),
		Watermark:      time.Now(),
	}})

	assert.Zero(t, resolver.resolveCalls, "a stray receipt must not create a conversation")
	assert.Empty(t, db.queries)
	assert.Empty(t, db.execs)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestWatermarkReceiptAppliesForKnownSender(t *testing.T) {
	t.Parallel()

	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 1")}
	resolver := &scriptedResolver{lookupConv: testConversation(webhook.PlatformMessenger)}
	notifier := &fakeNotifier{}
	pipeline := NewPipeline(nil, resolver, NewStore(nil, db, notifier))

	pipeline.Process(context.Background(), []webhook.Event{{
		Kind:           webhook.EventRead,
		Platform:       webhook.PlatformMessenger,
		ExternalUserID: "u1",
		Timestamp:      time.Now(),
		Watermark:      time.Now(),
	}})

	assert.Zero(t, resolver.resolveCalls)
	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "direction = 'outgoing'")
	require.Len(t, notifier.events, 2)
	assert.Equal(t, "conversation.status", notifier.events[0].event["kind"])
}
