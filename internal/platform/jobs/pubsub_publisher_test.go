package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
)

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	event := domain.OrderEvent{
		Type:       domain.OrderEventStatusChanged,
		OrderID:    "ord_test",
		CustomerID: "cus_local_test",
		Status:     domain.OrderStatusPickedUp,
		OccurredAt: occurredAt,
		Payload:    map[string]any{"from": "en_route_pickup"},
	}

	if _, err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	got := messages[0]
	if got.Attributes["eventType"] != "order.status_changed" {
		t.Fatalf("unexpected eventType attribute: %s", got.Attributes["eventType"])
	}
	if got.Attributes["orderId"] != "ord_test" {
		t.Fatalf("unexpected orderId attribute: %s", got.Attributes["orderId"])
	}
	if got.Attributes["status"] != "picked_up" {
		t.Fatalf("unexpected status attribute: %s", got.Attributes["status"])
	}

	var envelope orderEventEnvelope
	if err := json.Unmarshal(got.Data, &envelope); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if envelope.Type != "order.status_changed" || envelope.OrderID != "ord_test" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
	if !envelope.OccurredAt.Equal(occurredAt) {
		t.Fatalf("unexpected occurredAt: %s", envelope.OccurredAt)
	}
	if envelope.Payload["from"] != "en_route_pickup" {
		t.Fatalf("unexpected payload: %+v", envelope.Payload)
	}
}

func TestPubSubOrderEventPublisherRequiresOrderID(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	if _, err := publisher.PublishOrderEvent(ctx, domain.OrderEvent{Type: domain.OrderEventCreated}); err == nil {
		t.Fatalf("expected error for missing order id")
	}
}
