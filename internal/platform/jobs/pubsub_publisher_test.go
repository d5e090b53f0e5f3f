package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bonaevents/storefront/internal/services"
)

func TestPubSubConfirmationPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-confirmations")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	publisher, err := NewPubSubConfirmationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubConfirmationPublisher: %v", err)
	}

	msg := services.ConfirmationEmail{
		ToEmail:        "mario@example.com",
		PackageName:    "Ferragosto a Gallipoli",
		Amount:         "€1.00",
		OrderDate:      "15/8/2025",
		CustomerPhone:  "Non fornito",
		CustomerName:   "Mario",
		LogoURL:        "https://bonaevents.example/logoemail.png",
		ReferralCode:   "LUCA10",
		IdempotencyKey: "01J9ZKX0000000000000000000",
	}

	id, err := publisher.PublishConfirmation(ctx, msg)
	if err != nil {
		t.Fatalf("PublishConfirmation: %v", err)
	}
	if id == "" {
		t.Fatalf("expected server message id")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload map[string]any
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["to_email"] != "mario@example.com" || payload["amount"] != "€1.00" || payload["customer_phone"] != "Non fornito" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["kind"] != "order_confirmation" || attrs["referralCode"] != "LUCA10" || attrs["idempotencyKey"] != msg.IdempotencyKey {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
	if _, ok := attrs["to_email"]; ok {
		t.Fatalf("recipient must not be copied into attributes")
	}
}

func TestNewPubSubConfirmationPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubConfirmationPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
