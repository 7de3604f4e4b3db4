// Package conversation resolves and manages conversation records: the
// durable thread between one external contact and the organization on one
// platform.
package conversation

import (
	"context"
	"time"

	"github.com/ultranesh/edbase/internal/graph"
	"github.com/ultranesh/edbase/internal/webhook"
)

// Conversation is the durable per-contact thread. At most one exists per
// (platform, external user id) pair.
type Conversation struct {
	ID             string           `json:"id"`
	Platform       webhook.Platform `json:"platform"`
	ExternalUserID string           `json:"external_user_id"`
	LeadID         string           `json:"lead_id,omitempty"`
	DisplayName    string           `json:"display_name,omitempty"`
	AvatarURL      string           `json:"avatar_url,omitempty"`
	Blocked        bool             `json:"blocked"`
	UnreadCount    int              `json:"unread_count"`
	LastMessageAt  time.Time        `json:"last_message_at"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ProfileFetcher fetches best-effort contact metadata from the vendor.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, platform webhook.Platform, externalUserID string) (graph.Profile, error)
}

// Resolver is the lookup-or-create behavior needed by the inbound pipeline.
type Resolver interface {
	Resolve(ctx context.Context, platform webhook.Platform, externalUserID, inlineName string) (Conversation, error)
}
