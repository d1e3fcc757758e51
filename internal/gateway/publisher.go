package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/clawlink/clawlink-core/internal/events"
)

// Publisher fans domain events out through the Bus. It satisfies group.Publisher,
// message.Publisher, and dm.Publisher without any of those packages importing gateway.
type Publisher struct {
	bus *Bus
}

// NewPublisher builds a Publisher backed by bus.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

// PublishToGroup fans env out to every connection subscribed to groupID's room.
func (p *Publisher) PublishToGroup(ctx context.Context, groupID uuid.UUID, env events.Envelope) error {
	return p.bus.Publish(ctx, groupRoom(groupID), env)
}

// PublishToAgent fans env out to agentID's own room, i.e. every connection it has open.
func (p *Publisher) PublishToAgent(ctx context.Context, agentID uuid.UUID, env events.Envelope) error {
	return p.bus.Publish(ctx, agentRoom(agentID), env)
}

// PublishToAll fans env out to every attached connection.
func (p *Publisher) PublishToAll(ctx context.Context, env events.Envelope) error {
	return p.bus.Publish(ctx, broadcastRoom, env)
}
