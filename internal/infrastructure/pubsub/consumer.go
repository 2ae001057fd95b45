// Package pubsub consumes item lifecycle events published by an external
// catalog.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapshelf/swapshelf/internal/apperr"
	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
)

const (
	eventTypeAttribute = "eventType"
	itemDeletedEvent   = "ITEM_DELETED"
)

// ItemRemover deletes an item and cascades its pending negotiations.
type ItemRemover interface {
	RemoveItem(ctx context.Context, itemID uuid.UUID, reason string) ([]*negotiation.Negotiation, error)
}

// ItemDeletedEvent is the message body of an ITEM_DELETED event.
type ItemDeletedEvent struct {
	ItemID string `json:"itemId"`
	Reason string `json:"reason,omitempty"`
}

// NewSubscriber opens a client for projectID and returns the subscriber for
// subscription. The caller closes the client.
func NewSubscriber(ctx context.Context, projectID, subscription string) (*pubsub.Client, *pubsub.Subscriber, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, nil, errors.New("gcp project id is required")
	}
	if strings.TrimSpace(subscription) == "" {
		return nil, nil, errors.New("pubsub subscription is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	name := subscription
	if !strings.HasPrefix(name, "projects/") {
		name = fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subscription)
	}
	return client, client.Subscriber(name), nil
}

// ItemDeletedConsumer cancels negotiations on items deleted elsewhere.
type ItemDeletedConsumer struct {
	remover      ItemRemover
	subscription *pubsub.Subscriber
	logger       zerolog.Logger
}

func NewItemDeletedConsumer(remover ItemRemover, subscription *pubsub.Subscriber, logger zerolog.Logger) (*ItemDeletedConsumer, error) {
	if remover == nil {
		return nil, errors.New("item remover is required")
	}
	if subscription == nil {
		return nil, errors.New("item deletion subscription is required")
	}
	return &ItemDeletedConsumer{
		remover:      remover,
		subscription: subscription,
		logger:       logger.With().Str("component", "item_deleted_consumer").Logger(),
	}, nil
}

// Run processes events until ctx is cancelled.
func (c *ItemDeletedConsumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	nack bool
}

func (c *ItemDeletedConsumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	log := c.logger.With().Str("message_id", msg.ID).Logger()

	if eventType := msg.Attributes[eventTypeAttribute]; eventType != "" && eventType != itemDeletedEvent {
		log.Debug().Str("event_type", eventType).Msg("skipping event")
		return processResult{}
	}

	var event ItemDeletedEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		log.Error().Err(err).Msg("failed to decode item deleted event")
		return processResult{}
	}
	itemID, err := uuid.Parse(strings.TrimSpace(event.ItemID))
	if err != nil {
		log.Error().Err(err).Str("raw_item_id", event.ItemID).Msg("item deleted event has invalid item id")
		return processResult{}
	}

	cancelled, err := c.remover.RemoveItem(ctx, itemID, event.Reason)
	if err != nil {
		if apperr.MetadataFor(apperr.CodeOf(err)).Retry == apperr.RetryLater {
			log.Warn().Err(err).Str("item_id", itemID.String()).Msg("item removal failed, will retry")
			return processResult{nack: true}
		}
		log.Error().Err(err).Str("item_id", itemID.String()).Msg("item removal rejected")
		return processResult{}
	}
	log.Info().Str("item_id", itemID.String()).Int("cancelled", len(cancelled)).Msg("processed item deleted event")
	return processResult{}
}
