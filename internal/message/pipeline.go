package message

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ultranesh/edbase/internal/conversation"
	"github.com/ultranesh/edbase/internal/metrics"
	"github.com/ultranesh/edbase/internal/webhook"
)

// Resolver maps a platform identity to its conversation. Resolve creates
// the conversation on first contact; Lookup never creates and returns
// conversation.ErrNotFound for an unknown pair.
type Resolver interface {
	Resolve(ctx context.Context, platform webhook.Platform, externalUserID, inlineName string) (conversation.Conversation, error)
	Lookup(ctx context.Context, platform webhook.Platform, externalUserID string) (conversation.Conversation, error)
}

// Pipeline runs normalized webhook events through conversation resolution
// and persistence. Every failure is absorbed per event: a bad event must
// never poison the rest of the batch or bubble an error back to the
// vendor, which would trigger replays of already processed messages.
type Pipeline struct {
	resolver Resolver
	store    *Store
	logger   *slog.Logger
}

// NewPipeline creates the ingestion pipeline.
func NewPipeline(log *slog.Logger, resolver Resolver, store *Store) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		resolver: resolver,
		store:    store,
		logger:   log.With(slog.String("service", "pipeline")),
	}
}

// Process handles one parsed webhook batch.
func (p *Pipeline) Process(ctx context.Context, events []webhook.Event) {
	for _, event := range events {
		metrics.WebhookEvents.WithLabelValues(event.Platform.String(), string(event.Kind)).Inc()
		if err := p.processOne(ctx, event); err != nil {
			metrics.WebhookDropped.WithLabelValues(event.Platform.String(), "process_error").Inc()
			p.logger.Error("webhook event dropped",
				slog.String("platform", event.Platform.String()),
				slog.String("kind", string(event.Kind)),
				slog.String("vendor_message_id", event.VendorMessageID),
				slog.Any("error", err),
			)
		}
	}
}

func (p *Pipeline) processOne(ctx context.Context, event webhook.Event) error {
	switch event.Kind {
	case webhook.EventMessage:
		conv, err := p.resolver.Resolve(ctx, event.Platform, event.ExternalUserID, event.ProfileName)
		if err != nil {
			return err
		}
		_, _, err = p.store.RecordIncoming(ctx, conv, event)
		return err
	case webhook.EventDelivery:
		return p.applyReceipt(ctx, event, StatusDelivered)
	case webhook.EventRead:
		return p.applyReceipt(ctx, event, StatusRead)
	default:
		metrics.WebhookDropped.WithLabelValues(event.Platform.String(), "unknown_kind").Inc()
		return nil
	}
}

func (p *Pipeline) applyReceipt(ctx context.Context, event webhook.Event, status Status) error {
	if event.VendorMessageID != "" {
		return p.store.ApplyReceipt(ctx, event.Platform, event.VendorMessageID, status)
	}
	if event.Watermark.IsZero() {
		return nil
	}
	// Watermark receipts name a sender, not a message; conversations are
	// created by messages and operator sends, never by a stray receipt.
	conv, err := p.resolver.Lookup(ctx, event.Platform, event.ExternalUserID)
	if errors.Is(err, conversation.ErrNotFound) {
		metrics.ReceiptsUnmatched.WithLabelValues(event.Platform.String()).Inc()
		p.logger.Debug("watermark receipt for unknown sender",
			slog.String("platform", event.Platform.String()),
			slog.String("external_user_id", event.ExternalUserID),
		)
		return nil
	}
	if err != nil {
		return err
	}
	return p.store.ApplyReceiptWatermark(ctx, conv, event.Watermark, status)
}
