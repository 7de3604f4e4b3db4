package message

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ultranesh/edbase/internal/conversation"
	dbpkg "github.com/ultranesh/edbase/internal/db"
	"github.com/ultranesh/edbase/internal/metrics"
	"github.com/ultranesh/edbase/internal/realtime"
	"github.com/ultranesh/edbase/internal/webhook"
)

const (
	testConvID = "7b7d6d7e-54c1-4cf1-8f4e-6f0f6f4e9d10"
	testMsgID  = "0d0e7a52-9f6e-4b1a-b1de-3a20a1c2d3e4"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

func noRow() fakeRow {
	return fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}
}

type execCall struct {
	sql  string
	args []any
}

// fakeDB serves scripted rows to QueryRow in order and records every write.
type fakeDB struct {
	rows    []fakeRow
	queries []string
	execs   []execCall
	execTag pgconn.CommandTag
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	db.queries = append(db.queries, sql)
	if len(db.rows) == 0 {
		return noRow()
	}
	row := db.rows[0]
	db.rows = db.rows[1:]
	return row
}

func (db *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query")
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, execCall{sql: sql, args: args})
	return db.execTag, nil
}

type published struct {
	topic string
	event map[string]any
}

type fakeNotifier struct {
	events []published
}

func (n *fakeNotifier) Publish(topic string, payload any) {
	n.events = append(n.events, published{topic: topic, event: payload.(map[string]any)})
}

func messageRow(t *testing.T, platform webhook.Platform, direction Direction, status Status) fakeRow {
	t.Helper()
	return fakeRow{scan: func(dest ...any) error {
		id, err := dbpkg.ParseUUID(testMsgID)
		if err != nil {
			return err
		}
		convID, err := dbpkg.ParseUUID(testConvID)
		if err != nil {
			return err
		}
		*(dest[0].(*pgtype.UUID)) = id
		*(dest[1].(*pgtype.UUID)) = convID
		*(dest[2].(*string)) = platform.String()
		*(dest[3].(*pgtype.Text)) = pgtype.Text{String: "wamid.1", Valid: true}
		*(dest[4].(*string)) = string(direction)
		*(dest[5].(*string)) = string(webhook.TypeText)
		*(dest[6].(*pgtype.Text)) = pgtype.Text{String: "hello", Valid: true}
		*(dest[14].(*string)) = string(status)
		*(dest[15].(*bool)) = direction == DirectionOutgoing
		*(dest[17].(*pgtype.Timestamptz)) = pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
		return nil
	}}
}

func idRow(t *testing.T) fakeRow {
	t.Helper()
	return fakeRow{scan: func(dest ...any) error {
		id, err := dbpkg.ParseUUID(testMsgID)
		if err != nil {
			return err
		}
		convID, err := dbpkg.ParseUUID(testConvID)
		if err != nil {
			return err
		}
		*(dest[0].(*pgtype.UUID)) = id
		*(dest[1].(*pgtype.UUID)) = convID
		return nil
	}}
}

func statusRow(status Status) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*string)) = string(status)
		return nil
	}}
}

func testConversation(platform webhook.Platform) conversation.Conversation {
	return conversation.Conversation{ID: testConvID, Platform: platform}
}

func incomingEvent() webhook.Event {
	return webhook.Event{
		Kind:            webhook.EventMessage,
		Platform:        webhook.PlatformWhatsApp,
		ExternalUserID:  "346",
		VendorMessageID: "wamid.1",
		Type:            webhook.TypeText,
		Text:            "hello",
	}
}

func TestRecordIncomingBumpsUnreadAndPublishes(t *testing.T) {
	t.Parallel()

	db := &fakeDB{rows: []fakeRow{messageRow(t, webhook.PlatformWhatsApp, DirectionIncoming, StatusSent)}}
	notifier := &fakeNotifier{}
	store := NewStore(nil, db, notifier)

	msg, created, err := store.RecordIncoming(context.Background(), testConversation(webhook.PlatformWhatsApp), incomingEvent())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, testMsgID, msg.ID)
	assert.Equal(t, DirectionIncoming, msg.Direction)

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "unread_count = unread_count + 1")

	require.Len(t, notifier.events, 2)
	assert.Equal(t, realtime.TopicDispatch, notifier.events[0].topic)
	assert.Equal(t, realtime.ConversationTopic(testConvID), notifier.events[1].topic)
	assert.Equal(t, "message.new", notifier.events[0].event["kind"])
}

func TestRecordIncomingDuplicateAbsorbed(t *testing.T) {
	t.Parallel()

	db := &fakeDB{rows: []fakeRow{noRow()}}
	notifier := &fakeNotifier{}
	store := NewStore(nil, db, notifier)

	_, created, err := store.RecordIncoming(context.Background(), testConversation(webhook.PlatformWhatsApp), incomingEvent())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, db.execs, "a replay must not bump the unread counter")
	assert.Empty(t, notifier.events, "a replay must not reach the realtime stream")
}

func TestRecordOutgoingResetsUnread(t *testing.T) {
	t.Parallel()

	db := &fakeDB{rows: []fakeRow{messageRow(t, webhook.PlatformWhatsApp, DirectionOutgoing, StatusSent)}}
	notifier := &fakeNotifier{}
	store := NewStore(nil, db, notifier)

	msg, err := store.RecordOutgoing(context.Background(), testConversation(webhook.PlatformWhatsApp), "wamid.1", OutgoingDraft{
		Type: webhook.TypeText,
		Body: "hello",
	})
	require.NoError(t, err)
	assert.True(t, msg.Read)

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "unread_count = 0")

	require.Len(t, notifier.events, 2)
	assert.Equal(t, "message.new", notifier.events[0].event["kind"])
}

func TestApplyReceiptPublishesStatus(t *testing.T) {
	t.Parallel()

	db := &fakeDB{rows: []fakeRow{idRow(t)}}
	notifier := &fakeNotifier{}
	store := NewStore(nil, db, notifier)

	err := store.ApplyReceipt(context.Background(), webhook.PlatformWhatsApp, "wamid.1", StatusDelivered)
	require.NoError(t, err)

	require.Len(t, notifier.events, 2)
	assert.Equal(t, realtime.TopicDispatch, notifier.events[0].topic)
	assert.Equal(t, "message.status", notifier.events[0].event["kind"])
}

func TestApplyReceiptOutOfOrderIsQuiet(t *testing.T) {
	t.Parallel()

	counter := metrics.ReceiptsUnmatched.WithLabelValues(webhook.PlatformMessenger.String())
	before := testutil.ToFloat64(counter)

	db := &fakeDB{rows: []fakeRow{noRow(), statusRow(StatusRead)}}
	notifier := &fakeNotifier{}
	store := NewStore(nil, db, notifier)

	err := store.ApplyReceipt(context.Background(), webhook.PlatformMessenger, "mid.1", StatusDelivered)
	require.NoError(t, err)
	assert.Empty(t, notifier.events)
	require.Len(t, db.queries, 2, "the update attempt is followed by a status check")
	assert.Equal(t, before, testutil.ToFloat64(counter),
		"a late delivered after read is not message loss")
}

func TestApplyReceiptUnknownIDCountsUnmatched(t *testing.T) {
	t.Parallel()

	counter := metrics.ReceiptsUnmatched.WithLabelValues(webhook.PlatformWhatsApp.String())
	before := testutil.ToFloat64(counter)

	db := &fakeDB{}
	notifier := &fakeNotifier{}
	store := NewStore(nil, db, notifier)

	err := store.ApplyReceipt(context.Background(), webhook.PlatformWhatsApp, "wamid.unknown", StatusRead)
	require.NoError(t, err)
	assert.Empty(t, notifier.events)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestApplyReceiptRejectsNonReceiptStatus(t *testing.T) {
	t.Parallel()

	store := NewStore(nil, &fakeDB{}, nil)
	assert.Error(t, store.ApplyReceipt(context.Background(), webhook.PlatformWhatsApp, "wamid.1", StatusFailed))
	assert.Error(t, store.ApplyReceipt(context.Background(), webhook.PlatformWhatsApp, "wamid.1", StatusSent))
}

func TestApplyReceiptWatermarkPublishes(t *testing.T) {
	t.Parallel()

	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 2")}
	notifier := &fakeNotifier{}
	store := NewStore(nil, db, notifier)

	watermark := time.Now().UTC()
	err := store.ApplyReceiptWatermark(context.Background(), testConversation(webhook.PlatformMessenger), watermark, StatusRead)
	require.NoError(t, err)

	require.Len(t, db.execs, 1)
	assert.Contains(t, db.execs[0].sql, "created_at <= $2")

	require.Len(t, notifier.events, 2)
	assert.Equal(t, "conversation.status", notifier.events[0].event["kind"])
}

func TestApplyReceiptWatermarkAllCurrentIsQuiet(t *testing.T) {
	t.Parallel()

	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	notifier := &fakeNotifier{}
	store := NewStore(nil, db, notifier)

	err := store.ApplyReceiptWatermark(context.Background(), testConversation(webhook.PlatformMessenger), time.Now(), StatusRead)
	require.NoError(t, err)
	assert.Empty(t, notifier.events)
}

func TestMarkFailedUnknownID(t *testing.T) {
	t.Parallel()

	db := &fakeDB{execTag: pgconn.NewCommandTag("UPDATE 0")}
	store := NewStore(nil, db, nil)

	err := store.MarkFailed(context.Background(), testMsgID)
	assert.ErrorIs(t, err, ErrNotFound)
}
