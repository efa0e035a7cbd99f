// Package events publishes domain events after successful writes. Publishing
// is fire-and-forget from the caller's point of view.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"shopledger/backend/internal/domain"
)

const (
	SaleRecorded     = "sale.recorded"
	InvoiceCreated   = "invoice.created"
	PaymentRecorded  = "payment.recorded"
	CustomerAdjusted = "customer.adjusted"
)

type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

type Noop struct{}

func (Noop) Publish(_ context.Context, _ domain.Event) error {
	return nil
}

// PubSub publishes JSON-encoded events to one Google Cloud Pub/Sub topic.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func NewPubSub(ctx context.Context, projectID string, topicID string, credentialsJSON string) (*PubSub, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return &PubSub{client: client, topic: client.Topic(topicID)}, nil
}

func (p *PubSub) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"type":    event.Type,
			"ownerId": event.OwnerID,
		},
	})
	_, err = result.Get(ctx)
	return err
}

func (p *PubSub) Close() error {
	p.topic.Stop()
	return p.client.Close()
}

// Recorder keeps published events in memory. Tests use it to assert on what
// a write emitted.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *Recorder) Publish(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.Type)
	}
	return types
}
