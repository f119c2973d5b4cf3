// Package bus defines the platform's narrow publish/subscribe/request
// contract and an in-memory implementation used by tests and any service
// not wired to a real broker.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lokanos/hub/internal/apperrors"
	"github.com/lokanos/hub/internal/obsmetrics"
)

// Message is one delivery on the bus: a subject, its payload, and an
// optional reply subject for request/respond.
type Message struct {
	Subject string
	Payload []byte
	Reply   string
}

// Bus is the narrow interface every producer and consumer depends on.
type Bus interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Subscribe(ctx context.Context, subject string) (<-chan Message, func(), error)
	Request(ctx context.Context, subject string, payload []byte, deadline time.Duration) ([]byte, error)
	Respond(ctx context.Context, replySubject string, payload []byte) error
}

const subscriberBuffer = 16

// InMemoryBus routes messages by subject to every current subscriber,
// broadcast-style. A slow subscriber's channel may fill; deliveries to a
// full channel are dropped rather than blocking the publisher.
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Message
	metrics     *obsmetrics.Metrics
}

// NewInMemoryBus builds a bus that records publish/subscribe-delivery
// counters on metrics, if non-nil.
func NewInMemoryBus(metrics *obsmetrics.Metrics) *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[string][]chan Message),
		metrics:     metrics,
	}
}

// Publish broadcasts payload to every current subscriber of subject.
func (b *InMemoryBus) Publish(_ context.Context, subject string, payload []byte) error {
	return b.publish(subject, payload, "")
}

func (b *InMemoryBus) publish(subject string, payload []byte, reply string) error {
	b.mu.RLock()
	subs := append([]chan Message(nil), b.subscribers[subject]...)
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.RecordPublish(subject)
	}

	msg := Message{Subject: subject, Payload: payload, Reply: reply}
	for _, ch := range subs {
		select {
		case ch <- msg:
			if b.metrics != nil {
				b.metrics.RecordSubscribeDelivery(subject)
			}
		default:
			// subscriber is lagging; drop rather than block the publisher.
		}
	}
	return nil
}

// Subscribe returns a channel of deliveries for subject and an unsubscribe
// function that must be called to release the channel.
func (b *InMemoryBus) Subscribe(_ context.Context, subject string) (<-chan Message, func(), error) {
	ch := make(chan Message, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[subject] = append(b.subscribers[subject], ch)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[subject]
		for i, existing := range subs {
			if existing == ch {
				b.subscribers[subject] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, unsubscribe, nil
}

// Request publishes payload on subject with a fresh ephemeral reply
// subject, then waits up to deadline for a single response delivered via
// Respond.
func (b *InMemoryBus) Request(ctx context.Context, subject string, payload []byte, deadline time.Duration) ([]byte, error) {
	replySubject := "_reply." + uuid.NewString()

	replies, unsubscribe, err := b.Subscribe(ctx, replySubject)
	if err != nil {
		return nil, apperrors.Upstream("bus subscribe for reply failed", err)
	}
	defer unsubscribe()

	if err := b.publish(subject, payload, replySubject); err != nil {
		return nil, apperrors.Upstream("bus request publish failed", err)
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case msg := <-replies:
		return msg.Payload, nil
	case <-timer.C:
		return nil, apperrors.Upstream("bus request timed out", nil).WithDetails("deadline", deadline.String())
	case <-ctx.Done():
		return nil, apperrors.Upstream("bus request cancelled", ctx.Err())
	}
}

// Respond delivers payload to a reply subject previously issued by Request.
// Publishing to a reply subject with no active subscriber is not an error:
// the requester may have already timed out.
func (b *InMemoryBus) Respond(_ context.Context, replySubject string, payload []byte) error {
	if replySubject == "" {
		return apperrors.Validation("reply subject is required")
	}
	return b.publish(replySubject, payload, "")
}
