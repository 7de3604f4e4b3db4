package conversation

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

	dbpkg "github.com/ultranesh/edbase/internal/db"
	"github.com/ultranesh/edbase/internal/webhook"
)

// ErrNotFound is returned when a conversation id does not exist.
var ErrNotFound = errors.New("conversation not found")

// DB is the subset of pgxpool.Pool the service needs.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Service looks up and creates conversations.
type Service struct {
	db       DB
	profiles ProfileFetcher
	logger   *slog.Logger
}

// NewService creates a conversation service.
func NewService(log *slog.Logger, db DB, profiles ProfileFetcher) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:       db,
		profiles: profiles,
		logger:   log.With(slog.String("service", "conversation")),
	}
}

const conversationColumns = `id, platform, external_user_id, lead_id, display_name, avatar_url, blocked, unread_count, last_message_at, created_at`

// Resolve returns the conversation for (platform, externalUserID), creating
// it on first contact. Creation fetches the vendor profile best-effort;
// inlineName (e.g. a WhatsApp push name) is used when no profile API exists.
// Concurrent resolution is race-safe: the insert defers to the unique
// constraint and the loser re-reads the winner's row.
func (s *Service) Resolve(ctx context.Context, platform webhook.Platform, externalUserID, inlineName string) (Conversation, error) {
	externalUserID = strings.TrimSpace(externalUserID)
	if externalUserID == "" {
		return Conversation{}, fmt.Errorf("external user id is required")
	}

	conv, err := s.getByPair(ctx, platform, externalUserID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, fmt.Errorf("lookup conversation: %w", err)
	}

	name, avatar := s.fetchProfile(ctx, platform, externalUserID)
	if name == "" {
		name = strings.TrimSpace(inlineName)
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO conversations (platform, external_user_id, display_name, avatar_url, last_message_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (platform, external_user_id) DO NOTHING
		RETURNING `+conversationColumns,
		platform.String(), externalUserID, dbpkg.ToPgText(name), dbpkg.ToPgText(avatar),
	)
	conv, err = scanConversation(row)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	// Lost the race; the unique pair now exists.
	conv, err = s.getByPair(ctx, platform, externalUserID)
	if err != nil {
		return Conversation{}, fmt.Errorf("refetch after conflict: %w", err)
	}
	return conv, nil
}

// Lookup returns the conversation for (platform, externalUserID) without
// creating one. ErrNotFound when the pair is unknown.
func (s *Service) Lookup(ctx context.Context, platform webhook.Platform, externalUserID string) (Conversation, error) {
	conv, err := s.getByPair(ctx, platform, externalUserID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("lookup conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) getByPair(ctx context.Context, platform webhook.Platform, externalUserID string) (Conversation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE platform = $1 AND external_user_id = $2`,
		platform.String(), externalUserID)
	return scanConversation(row)
}

func (s *Service) fetchProfile(ctx context.Context, platform webhook.Platform, externalUserID string) (string, string) {
	if s.profiles == nil {
		return "", ""
	}
	profile, err := s.profiles.FetchProfile(ctx, platform, externalUserID)
	if err != nil {
		// Profile failure must never abort conversation creation.
		s.logger.Debug("profile fetch skipped",
			slog.String("platform", platform.String()),
			slog.String("external_user_id", externalUserID),
			slog.Any("error", err),
		)
		return "", ""
	}
	return profile.Name, profile.AvatarURL
}

// Get returns a conversation by internal id.
func (s *Service) Get(ctx context.Context, id string) (Conversation, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Conversation{}, fmt.Errorf("invalid conversation id: %w", err)
	}
	row := s.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, pgID)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return conv, err
}

// List returns conversations ordered by recency of the last message.
func (s *Service) List(ctx context.Context, limit int32) ([]Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		ORDER BY last_message_at DESC NULLS LAST
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// SetBlocked toggles the operator block flag.
func (s *Service) SetBlocked(ctx context.Context, id string, blocked bool) error {
	return s.updateByID(ctx, id, `UPDATE conversations SET blocked = $2 WHERE id = $1`, blocked)
}

// LinkLead attaches a CRM lead reference; an empty leadID detaches it.
func (s *Service) LinkLead(ctx context.Context, id, leadID string) error {
	var pgLead pgtype.UUID
	if strings.TrimSpace(leadID) != "" {
		parsed, err := dbpkg.ParseUUID(leadID)
		if err != nil {
			return fmt.Errorf("invalid lead id: %w", err)
		}
		pgLead = parsed
	}
	return s.updateByID(ctx, id, `UPDATE conversations SET lead_id = $2 WHERE id = $1`, pgLead)
}

// MarkRead resets the unread counter.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	return s.updateByID(ctx, id, `UPDATE conversations SET unread_count = 0 WHERE id = $1`)
}

func (s *Service) updateByID(ctx context.Context, id, sql string, extra ...any) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}
	args := append([]any{pgID}, extra...)
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		id            pgtype.UUID
		platform      string
		externalID    string
		leadID        pgtype.UUID
		displayName   pgtype.Text
		avatarURL     pgtype.Text
		blocked       bool
		unreadCount   int32
		lastMessageAt pgtype.Timestamptz
		createdAt     pgtype.Timestamptz
	)
	if err := row.Scan(&id, &platform, &externalID, &leadID, &displayName, &avatarURL, &blocked, &unreadCount, &lastMessageAt, &createdAt); err != nil {
		return Conversation{}, err
	}
	conv := Conversation{
		ID:             id.String(),
		Platform:       webhook.Platform(platform),
		ExternalUserID: externalID,
		DisplayName:    dbpkg.TextToString(displayName),
		AvatarURL:      dbpkg.TextToString(avatarURL),
		Blocked:        blocked,
		UnreadCount:    int(unreadCount),
		CreatedAt:      createdAt.Time,
	}
	if leadID.Valid {
		conv.LeadID = leadID.String()
	}
	if lastMessageAt.Valid {
		conv.LastMessageAt = lastMessageAt.Time
	} else {
		conv.LastMessageAt = time.Time{}
	}
	return conv, nil
}
