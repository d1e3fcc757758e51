// Package gateway implements the realtime EventBus and ConnectionManager (spec.md §4.8): a
// process-wide event bus with group:<id> and agent:<id> rooms, and the WebSocket connection
// registry that joins, leaves, and fans events out to them.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/events"
)

const channelName = "clawlink:gateway:events"

// broadcastRoom is the implicit room every attached connection joins, used for events with no
// single group or agent scope (group:created, agent:online, agent:offline).
const broadcastRoom = "all"

func groupRoom(id uuid.UUID) string { return "group:" + id.String() }
func agentRoom(id uuid.UUID) string { return "agent:" + id.String() }

// roomMessage is the envelope carried over the shared Redis pub/sub channel, addressed to a
// room. ExcludeID, when set, is skipped during local fan-out so a sender's own connection never
// receives its own typing indicator (spec.md §4.8 step 3).
type roomMessage struct {
	Room      string          `json:"room"`
	Env       events.Envelope `json:"env"`
	ExcludeID uuid.UUID       `json:"excludeId,omitempty"`
}

// Bus is the process-wide EventBus. Every gateway process subscribes to the same Redis channel;
// a room's membership is local to whichever process its subscribers are connected to, so
// publishing always goes through Redis even when the publisher and the subscriber share a
// process. Rooms are created on first subscription and garbage-collected when the last
// subscriber leaves.
type Bus struct {
	rdb *redis.Client
	log zerolog.Logger

	mu      sync.RWMutex
	rooms   map[string]map[uuid.UUID]*Client
	byAgent map[uuid.UUID]map[string]struct{}
}

// NewBus creates a Bus backed by rdb.
func NewBus(rdb *redis.Client, logger zerolog.Logger) *Bus {
	return &Bus{
		rdb:     rdb,
		log:     logger.With().Str("component", "gateway_bus").Logger(),
		rooms:   make(map[string]map[uuid.UUID]*Client),
		byAgent: make(map[uuid.UUID]map[string]struct{}),
	}
}

// Run subscribes to the shared channel and delivers every received event to whichever local
// connections are subscribed to its room. It blocks until ctx is cancelled or the subscription
// fails.
func (b *Bus) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, channelName)
	defer func() { _ = sub.Close() }()

	b.log.Info().Msg("gateway bus subscribed to event channel")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(msg.Payload)
		}
	}
}

// Publish serializes env and publishes it to room, reaching every gateway process (including
// this one) subscribed to the shared channel.
func (b *Bus) Publish(ctx context.Context, room string, env events.Envelope) error {
	return b.publish(ctx, room, uuid.Nil, env)
}

// PublishExcept is Publish, but skips excludeID's own connection during local fan-out.
func (b *Bus) PublishExcept(ctx context.Context, room string, excludeID uuid.UUID, env events.Envelope) error {
	return b.publish(ctx, room, excludeID, env)
}

func (b *Bus) publish(ctx context.Context, room string, excludeID uuid.UUID, env events.Envelope) error {
	payload, err := json.Marshal(roomMessage{Room: room, Env: env, ExcludeID: excludeID})
	if err != nil {
		return fmt.Errorf("marshal room event: %w", err)
	}
	if err := b.rdb.Publish(ctx, channelName, payload).Err(); err != nil {
		return fmt.Errorf("publish room event: %w", err)
	}
	return nil
}

func (b *Bus) deliver(payload string) {
	var msg roomMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		b.log.Warn().Err(err).Msg("invalid room event envelope")
		return
	}

	b.mu.RLock()
	subscribers := b.rooms[msg.Room]
	targets := make([]*Client, 0, len(subscribers))
	for agentID, c := range subscribers {
		if msg.ExcludeID != uuid.Nil && agentID == msg.ExcludeID {
			continue
		}
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(msg.Env)
	}
}

// join subscribes c to room under agentID, creating the room if c is its first subscriber.
// Rejoining an already-subscribed room is a no-op.
func (b *Bus) join(room string, agentID uuid.UUID, c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rooms[room] == nil {
		b.rooms[room] = make(map[uuid.UUID]*Client)
	}
	b.rooms[room][agentID] = c

	if b.byAgent[agentID] == nil {
		b.byAgent[agentID] = make(map[string]struct{})
	}
	b.byAgent[agentID][room] = struct{}{}
}

// leave unsubscribes agentID from room, removing the room once it has no subscribers left.
func (b *Bus) leave(room string, agentID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(room, agentID)
}

func (b *Bus) leaveLocked(room string, agentID uuid.UUID) {
	if members, ok := b.rooms[room]; ok {
		delete(members, agentID)
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
	if rooms, ok := b.byAgent[agentID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(b.byAgent, agentID)
		}
	}
}

// leaveAll removes agentID from every room it is subscribed to, for connection teardown
// (spec.md §4.8 step 4: "room memberships are implicitly released").
func (b *Bus) leaveAll(agentID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for room := range b.byAgent[agentID] {
		b.leaveLocked(room, agentID)
	}
}

// roomCount reports how many distinct rooms currently have at least one subscriber. Exposed for
// tests verifying garbage collection of empty rooms.
func (b *Bus) roomCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms)
}
