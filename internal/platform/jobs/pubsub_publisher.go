package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/bonaevents/storefront/internal/services"
)

const confirmationKind = "order_confirmation"

// PubSubConfirmationPublisher publishes order confirmation e-mails to a Pub/Sub topic consumed by
// the mail sender.
type PubSubConfirmationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubConfirmationPublisher constructs a Pub/Sub backed confirmation publisher.
func NewPubSubConfirmationPublisher(topic *pubsub.Topic) (*PubSubConfirmationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub confirmation publisher: topic is required")
	}
	return &PubSubConfirmationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishConfirmation enqueues the message and waits for the server-assigned id. The recipient
// address stays in the payload; attributes carry only routing metadata.
func (p *PubSubConfirmationPublisher) PublishConfirmation(ctx context.Context, message services.ConfirmationEmail) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub confirmation publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal confirmation: %w", err)
	}

	attrs := map[string]string{"kind": confirmationKind}
	if key := strings.TrimSpace(message.IdempotencyKey); key != "" {
		attrs["idempotencyKey"] = key
	}
	if code := strings.TrimSpace(message.ReferralCode); code != "" {
		attrs["referralCode"] = code
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish confirmation: %w", err)
	}
	return id, nil
}
