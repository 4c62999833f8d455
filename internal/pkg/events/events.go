// Package events publishes ledger state changes for notification and
// analytics consumers. Publishing is fire-and-forget: it runs after the
// unit of work committed and a failure never undoes a transition.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Channel is the Redis pub/sub channel ledger events are published on.
const Channel = "ledger:events"

// Event types.
const (
	TransactionOpened      = "transaction.opened"
	TransactionStatus      = "transaction.status_changed"
	TransactionReleased    = "transaction.released"
	InstallmentPaid        = "installment.paid"
	OfferCreated           = "offer.created"
	OfferAnswered          = "offer.answered"
	WithdrawalRequested    = "withdrawal.requested"
	WithdrawalStatusChange = "withdrawal.status_changed"
)

// Event is the wire shape consumers receive.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       string            `json:"type"`
	EntityID   uuid.UUID         `json:"entity_id"`
	ActorID    uuid.UUID         `json:"actor_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

func New(eventType string, entityID, actorID uuid.UUID, attrs map[string]string) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		EntityID:   entityID,
		ActorID:    actorID,
		Attributes: attrs,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// RedisPublisher publishes JSON events on Channel. A nil client logs only.
type RedisPublisher struct {
	redis   *redis.Client
	timeout time.Duration
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client, timeout: 2 * time.Second}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) {
	logEvent := log.Info().
		Str("event_type", e.Type).
		Str("entity_id", e.EntityID.String())

	if p.redis == nil {
		logEvent.Msg("Ledger event")
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("event_type", e.Type).Msg("Failed to encode ledger event")
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.redis.Publish(pubCtx, Channel, payload).Err(); err != nil {
		log.Warn().Err(err).Str("event_type", e.Type).Msg("Failed to publish ledger event")
		return
	}
	logEvent.Msg("Ledger event published")
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
