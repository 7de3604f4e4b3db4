package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ultranesh/edbase/internal/conversation"
	dbpkg "github.com/ultranesh/edbase/internal/db"
	"github.com/ultranesh/edbase/internal/metrics"
	"github.com/ultranesh/edbase/internal/realtime"
	"github.com/ultranesh/edbase/internal/webhook"
)

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("message not found")

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists messages and publishes realtime events after commit.
type Store struct {
	db       DB
	notifier Notifier
	logger   *slog.Logger
}

// NewStore creates a message store. notifier may be nil; persistence does
// not depend on it.
func NewStore(log *slog.Logger, db DB, notifier Notifier) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:       db,
		notifier: notifier,
		logger:   log.With(slog.String("service", "message")),
	}
}

const messageColumns = `id, conversation_id, platform, vendor_message_id, direction, type, body, media_id, media_url, mime_type, caption, filename, latitude, longitude, status, read, sender_id, created_at`

// RecordIncoming stores a normalized inbound message. Replayed webhook
// deliveries are absorbed by the unique (platform, vendor_message_id)
// index: a duplicate returns nil with no side effects, so the unread
// counter and realtime stream see each vendor message exactly once.
func (s *Store) RecordIncoming(ctx context.Context, conv conversation.Conversation, event webhook.Event) (Message, bool, error) {
	convID, err := dbpkg.ParseUUID(conv.ID)
	if err != nil {
		return Message{}, false, fmt.Errorf("invalid conversation id: %w", err)
	}

	createdAt := event.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var (
		mediaID, mediaURL, mime, caption, filename string
		lat, lng                                   *float64
	)
	if event.Media != nil {
		mediaID = event.Media.ID
		mediaURL = event.Media.URL
		mime = event.Media.Mime
		caption = event.Media.Caption
		filename = event.Media.Filename
	}
	if event.Location != nil {
		lat = &event.Location.Latitude
		lng = &event.Location.Longitude
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, platform, vendor_message_id, direction, type,
			body, media_id, media_url, mime_type, caption, filename, latitude, longitude,
			status, read, created_at)
		VALUES ($1, $2, $3, 'incoming', $4, $5, $6, $7, $8, $9, $10, $11, $12, 'sent', false, $13)
		ON CONFLICT (platform, vendor_message_id) WHERE vendor_message_id IS NOT NULL DO NOTHING
		RETURNING `+messageColumns,
		convID, event.Platform.String(), dbpkg.ToPgText(event.VendorMessageID), string(event.Type),
		dbpkg.ToPgText(event.Text), dbpkg.ToPgText(mediaID), dbpkg.ToPgText(mediaURL),
		dbpkg.ToPgText(mime), dbpkg.ToPgText(caption), dbpkg.ToPgText(filename),
		lat, lng, createdAt,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.DuplicateMessages.WithLabelValues(event.Platform.String()).Inc()
		s.logger.Debug("duplicate inbound message absorbed",
			slog.String("platform", event.Platform.String()),
			slog.String("vendor_message_id", event.VendorMessageID),
		)
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("insert incoming message: %w", err)
	}

	if _, err := s.db.Exec(ctx, `
		UPDATE conversations SET unread_count = unread_count + 1, last_message_at = $2
		WHERE id = $1`, convID, createdAt); err != nil {
		return Message{}, false, fmt.Errorf("bump conversation: %w", err)
	}

	s.publish(conv.ID, "message.new", msg)
	return msg, true, nil
}

// RecordOutgoing stores an operator message after the vendor accepted it.
// Sending implies the operator has seen the thread, so the unread counter
// resets.
func (s *Store) RecordOutgoing(ctx context.Context, conv conversation.Conversation, vendorMessageID string, draft OutgoingDraft) (Message, error) {
	convID, err := dbpkg.ParseUUID(conv.ID)
	if err != nil {
		return Message{}, fmt.Errorf("invalid conversation id: %w", err)
	}

	var senderID pgtype.UUID
	if strings.TrimSpace(draft.SenderID) != "" {
		parsed, err := dbpkg.ParseUUID(draft.SenderID)
		if err != nil {
			return Message{}, fmt.Errorf("invalid sender id: %w", err)
		}
		senderID = parsed
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, platform, vendor_message_id, direction, type,
			body, media_id, media_url, mime_type, caption, filename,
			status, read, sender_id, created_at)
		VALUES ($1, $2, $3, 'outgoing', $4, $5, $6, $7, $8, $9, $10, 'sent', true, $11, now())
		RETURNING `+messageColumns,
		convID, conv.Platform.String(), dbpkg.ToPgText(vendorMessageID), string(draft.Type),
		dbpkg.ToPgText(draft.Body), dbpkg.ToPgText(draft.MediaID), dbpkg.ToPgText(draft.MediaURL),
		dbpkg.ToPgText(draft.MimeType), dbpkg.ToPgText(draft.Caption), dbpkg.ToPgText(draft.Filename),
		senderID,
	)
	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("insert outgoing message: %w", err)
	}

	if _, err := s.db.Exec(ctx, `
		UPDATE conversations SET unread_count = 0, last_message_at = now()
		WHERE id = $1`, convID); err != nil {
		return Message{}, fmt.Errorf("bump conversation: %w", err)
	}

	s.publish(conv.ID, "message.new", msg)
	return msg, nil
}

// receiptStatus is included in realtime status events.
type receiptStatus struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Status         Status `json:"status"`
}

// ApplyReceipt advances outgoing message status by vendor message id. The
// progression is forward-only: a late "delivered" after "read" is a no-op.
// A receipt for an unknown id is logged and dropped; vendors replay
// receipts and may reference messages sent before this system existed.
func (s *Store) ApplyReceipt(ctx context.Context, platform webhook.Platform, vendorMessageID string, status Status) error {
	if status != StatusDelivered && status != StatusRead {
		return fmt.Errorf("receipt cannot set status %q", status)
	}
	row := s.db.QueryRow(ctx, `
		UPDATE messages SET status = $3
		WHERE platform = $1 AND vendor_message_id = $2
		  AND direction = 'outgoing'
		  AND status <> 'failed'
		  AND CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END
		      < CASE $3 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END
		RETURNING id, conversation_id`,
		platform.String(), vendorMessageID, string(status),
	)
	var id, convID pgtype.UUID
	err := row.Scan(&id, &convID)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.explainUnappliedReceipt(ctx, platform, vendorMessageID, status)
	}
	if err != nil {
		return fmt.Errorf("apply receipt: %w", err)
	}

	s.publish(convID.String(), "message.status", receiptStatus{
		MessageID:      id.String(),
		ConversationID: convID.String(),
		Status:         status,
	})
	return nil
}

// explainUnappliedReceipt tells an unknown vendor id apart from a receipt
// that simply arrived out of order. Only the former feeds the unmatched
// counter; a late "delivered" after "read" is routine vendor behavior.
func (s *Store) explainUnappliedReceipt(ctx context.Context, platform webhook.Platform, vendorMessageID string, status Status) error {
	var current string
	err := s.db.QueryRow(ctx, `
		SELECT status FROM messages
		WHERE platform = $1 AND vendor_message_id = $2 AND direction = 'outgoing'`,
		platform.String(), vendorMessageID,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ReceiptsUnmatched.WithLabelValues(platform.String()).Inc()
		s.logger.Debug("receipt unmatched",
			slog.String("platform", platform.String()),
			slog.String("vendor_message_id", vendorMessageID),
			slog.String("status", string(status)),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("explain receipt: %w", err)
	}
	if !Advances(Status(current), status) {
		s.logger.Debug("receipt ignored",
			slog.String("platform", platform.String()),
			slog.String("vendor_message_id", vendorMessageID),
			slog.String("current_status", current),
			slog.String("receipt_status", string(status)),
		)
	}
	return nil
}

// ApplyReceiptWatermark advances every outgoing message in the conversation
// created at or before the watermark. Messenger and Instagram receipts
// cover a whole thread up to a point in time rather than naming ids.
func (s *Store) ApplyReceiptWatermark(ctx context.Context, conv conversation.Conversation, watermark time.Time, status Status) error {
	if status != StatusDelivered && status != StatusRead {
		return fmt.Errorf("receipt cannot set status %q", status)
	}
	convID, err := dbpkg.ParseUUID(conv.ID)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE messages SET status = $3
		WHERE conversation_id = $1 AND direction = 'outgoing'
		  AND created_at <= $2
		  AND status <> 'failed'
		  AND CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END
		      < CASE $3 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`,
		convID, watermark, string(status),
	)
	if err != nil {
		return fmt.Errorf("apply watermark receipt: %w", err)
	}
	// Zero rows means every covered message already carries the status or
	// better; watermarks repeat on every later receipt for the thread.
	if tag.RowsAffected() == 0 {
		return nil
	}

	s.publish(conv.ID, "conversation.status", map[string]any{
		"conversation_id": conv.ID,
		"status":          status,
		"watermark":       watermark.UTC(),
	})
	return nil
}

// MarkFailed records a send-time vendor rejection against an already
// persisted message.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid message id: %w", err)
	}
	tag, err := s.db.Exec(ctx, `UPDATE messages SET status = 'failed' WHERE id = $1 AND direction = 'outgoing'`, pgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByConversation returns messages for a conversation in ascending
// creation order, optionally only those created before the cursor.
func (s *Store) ListByConversation(ctx context.Context, conversationID string, before time.Time, limit int32) ([]Message, error) {
	convID, err := dbpkg.ParseUUID(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}
	cursor := before
	if cursor.IsZero() {
		cursor = time.Now().UTC().Add(time.Hour)
	}
	rows, err := s.db.Query(ctx, `
		SELECT * FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1 AND created_at < $2
			ORDER BY created_at DESC
			LIMIT $3
		) page ORDER BY created_at ASC`,
		convID, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *Store) publish(conversationID, kind string, payload any) {
	if s.notifier == nil {
		return
	}
	event := map[string]any{"kind": kind, "data": payload}
	s.notifier.Publish(realtime.TopicDispatch, event)
	s.notifier.Publish(realtime.ConversationTopic(conversationID), event)
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		id        pgtype.UUID
		convID    pgtype.UUID
		platform  string
		vendorID  pgtype.Text
		direction string
		msgType   string
		body      pgtype.Text
		mediaID   pgtype.Text
		mediaURL  pgtype.Text
		mimeType  pgtype.Text
		caption   pgtype.Text
		filename  pgtype.Text
		lat, lng  *float64
		status    string
		read      bool
		senderID  pgtype.UUID
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &convID, &platform, &vendorID, &direction, &msgType,
		&body, &mediaID, &mediaURL, &mimeType, &caption, &filename,
		&lat, &lng, &status, &read, &senderID, &createdAt); err != nil {
		return Message{}, err
	}
	msg := Message{
		ID:              id.String(),
		ConversationID:  convID.String(),
		Platform:        webhook.Platform(platform),
		VendorMessageID: dbpkg.TextToString(vendorID),
		Direction:       Direction(direction),
		Type:            webhook.MessageType(msgType),
		Body:            dbpkg.TextToString(body),
		MediaID:         dbpkg.TextToString(mediaID),
		MediaURL:        dbpkg.TextToString(mediaURL),
		MimeType:        dbpkg.TextToString(mimeType),
		Caption:         dbpkg.TextToString(caption),
		Filename:        dbpkg.TextToString(filename),
		Latitude:        lat,
		Longitude:       lng,
		Status:          Status(status),
		Read:            read,
		CreatedAt:       createdAt.Time,
	}
	if senderID.Valid {
		msg.SenderID = senderID.String()
	}
	return msg, nil
}
