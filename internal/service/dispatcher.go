package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/crewtalk-io/crewtalk-api/internal/dto"
	"github.com/crewtalk-io/crewtalk-api/internal/observability"
	"github.com/crewtalk-io/crewtalk-api/internal/repository"
)

// bridgeEvent is the wire format mirrored onto Redis pub/sub and NATS so other
// nodes can reach recipients connected to them. Recipient ids are resolved by
// the publishing node; consumers only address their local hub.
type bridgeEvent struct {
	Source   string            `json:"source"`
	UserIDs  []string          `json:"userIds"`
	Envelope dto.EventEnvelope `json:"envelope"`
	SentAt   time.Time         `json:"sentAt"`
}

// Dispatcher fans chat events out to room members. Member ids are re-read from
// the store on every delivery, so membership changes committed between two
// deliveries are always honored. Each logical recipient is addressed once even
// when ids repeat.
type Dispatcher struct {
	memberships repository.MembershipRepository
	hub         *Hub

	redisClient  *redis.Client
	natsConn     *nats.Conn
	eventChannel string
	nodeID       string

	log zerolog.Logger
}

// NewDispatcher wires the fan-out pipeline. Redis and NATS are optional; when
// nil the dispatcher degrades to single-node local delivery.
func NewDispatcher(
	memberships repository.MembershipRepository,
	hub *Hub,
	redisClient *redis.Client,
	natsConn *nats.Conn,
	eventChannel string,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		memberships:  memberships,
		hub:          hub,
		redisClient:  redisClient,
		natsConn:     natsConn,
		eventChannel: eventChannel,
		nodeID:       uuid.NewString(),
		log:          logger.With().Str("component", "chat_dispatcher").Logger(),
	}
}

// Deliver resolves the room's current member set, unions the acting user into
// it and pushes the event to every recipient exactly once.
func (d *Dispatcher) Deliver(ctx context.Context, roomID, actorID, event string, payload interface{}) error {
	memberIDs, err := d.memberships.MemberIDs(ctx, roomID)
	if err != nil {
		return fmt.Errorf("resolve room members: %w", err)
	}

	if actorID != "" {
		memberIDs = append(memberIDs, actorID)
	}
	return d.DeliverToUsers(ctx, memberIDs, event, payload)
}

// DeliverToUsers pushes the event to an explicit recipient list, deduplicated.
// Used when the member set must be captured before a destructive commit.
func (d *Dispatcher) DeliverToUsers(ctx context.Context, userIDs []string, event string, payload interface{}) error {
	envelope, err := dto.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}

	recipients := dedupe(userIDs)
	for _, userID := range recipients {
		delivered := d.hub.PushToUser(userID, envelope)
		observability.ChatFanoutDeliveries().Add(float64(delivered))
	}
	observability.ChatEvents().WithLabelValues(event).Inc()

	d.publish(ctx, bridgeEvent{
		Source:   d.nodeID,
		UserIDs:  recipients,
		Envelope: envelope,
		SentAt:   time.Now().UTC(),
	})
	return nil
}

// DeliverToUser pushes the event to a single user's connections.
func (d *Dispatcher) DeliverToUser(ctx context.Context, userID, event string, payload interface{}) error {
	return d.DeliverToUsers(ctx, []string{userID}, event, payload)
}

// BroadcastExcept announces an event to every local connection but the acting
// one and mirrors it to the other nodes with an empty recipient list, which the
// consumers treat as "everyone".
func (d *Dispatcher) BroadcastExcept(ctx context.Context, except *Client, event string, payload interface{}) error {
	envelope, err := dto.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}

	d.hub.BroadcastExcept(except, envelope)
	observability.ChatEvents().WithLabelValues(event).Inc()

	d.publish(ctx, bridgeEvent{
		Source:   d.nodeID,
		Envelope: envelope,
		SentAt:   time.Now().UTC(),
	})
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, event bridgeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to marshal bridge event")
		return
	}

	if d.redisClient != nil {
		if err := d.redisClient.Publish(ctx, d.eventChannel, payload).Err(); err != nil {
			d.log.Warn().Err(err).Msg("failed to publish chat event to redis")
		} else {
			observability.ChatBridgeEvents().WithLabelValues("redis", "out").Inc()
		}
	}

	if d.natsConn != nil {
		if err := d.natsConn.Publish(d.eventChannel, payload); err != nil {
			d.log.Warn().Err(err).Msg("failed to publish chat event to nats")
		} else {
			observability.ChatBridgeEvents().WithLabelValues("nats", "out").Inc()
		}
	}
}

// Start launches the bridge consumers. They run until the context is canceled.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.redisClient != nil {
		go d.consumeRedis(ctx)
	}
	if d.natsConn != nil {
		if err := d.consumeNATS(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) consumeRedis(ctx context.Context) {
	sub := d.redisClient.Subscribe(ctx, d.eventChannel)
	defer sub.Close()

	channel := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-channel:
			if !ok {
				return
			}
			observability.ChatBridgeEvents().WithLabelValues("redis", "in").Inc()
			d.handleBridgePayload([]byte(msg.Payload))
		}
	}
}

func (d *Dispatcher) consumeNATS(ctx context.Context) error {
	sub, err := d.natsConn.QueueSubscribe(d.eventChannel, "", func(msg *nats.Msg) {
		observability.ChatBridgeEvents().WithLabelValues("nats", "in").Inc()
		d.handleBridgePayload(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to nats subject %s: %w", d.eventChannel, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil {
			d.log.Warn().Err(err).Msg("failed to unsubscribe from nats subject")
		}
	}()
	return nil
}

func (d *Dispatcher) handleBridgePayload(payload []byte) {
	var event bridgeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		d.log.Warn().Err(err).Msg("discarding malformed bridge event")
		return
	}
	// Events this node published loop back over the bridge; the source filter
	// keeps them from being delivered twice.
	if event.Source == d.nodeID {
		return
	}

	if len(event.UserIDs) == 0 {
		d.hub.BroadcastExcept(nil, event.Envelope)
		return
	}
	for _, userID := range dedupe(event.UserIDs) {
		delivered := d.hub.PushToUser(userID, event.Envelope)
		observability.ChatFanoutDeliveries().Add(float64(delivered))
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
