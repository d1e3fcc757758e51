package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/config"
	"github.com/clawlink/clawlink-core/internal/events"
	"github.com/clawlink/clawlink-core/internal/identity"
)

type fakeAuthenticator struct {
	agents map[string]*identity.Agent
}

func (a *fakeAuthenticator) AuthenticateByKey(_ context.Context, rawKey string) (*identity.Agent, error) {
	if agent, ok := a.agents[rawKey]; ok {
		return agent, nil
	}
	return nil, identity.ErrInvalidKey
}

type fakePresenceRecorder struct {
	mu    sync.Mutex
	calls []struct {
		AgentID uuid.UUID
		Online  bool
	}
}

func (p *fakePresenceRecorder) TouchPresence(_ context.Context, id uuid.UUID, online bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, struct {
		AgentID uuid.UUID
		Online  bool
	}{id, online})
	return nil
}

func (p *fakePresenceRecorder) last() (uuid.UUID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return uuid.Nil, false
	}
	c := p.calls[len(p.calls)-1]
	return c.AgentID, c.Online
}

type fakeGroupMembershipLister struct {
	groupsByAgent map[uuid.UUID][]uuid.UUID
}

func (g *fakeGroupMembershipLister) ListGroupIDsForAgent(_ context.Context, agentID uuid.UUID) ([]uuid.UUID, error) {
	return g.groupsByAgent[agentID], nil
}

func newTestHub(t *testing.T, auth *fakeAuthenticator, presence *fakePresenceRecorder, groups *fakeGroupMembershipLister) (*Hub, *Bus) {
	t.Helper()
	bus := newTestBus(t)
	runBus(t, bus)
	hub := NewHub(bus, auth, presence, groups, &config.Config{GatewayMaxConnections: 10, GatewaySendBufferSize: 16}, zerolog.Nop())
	return hub, bus
}

func TestHub_AttachJoinsAgentAndGroupRooms(t *testing.T) {
	t.Parallel()

	agentID := uuid.New()
	groupID := uuid.New()
	presence := &fakePresenceRecorder{}
	groups := &fakeGroupMembershipLister{groupsByAgent: map[uuid.UUID][]uuid.UUID{agentID: {groupID}}}
	hub, bus := newTestHub(t, &fakeAuthenticator{}, presence, groups)

	client := newTestClient(hub, agentID)
	if err := hub.attach(context.Background(), client); err != nil {
		t.Fatalf("attach() error = %v", err)
	}

	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	bus.mu.RLock()
	_, inAgentRoom := bus.rooms[agentRoom(agentID)][agentID]
	_, inGroupRoom := bus.rooms[groupRoom(groupID)][agentID]
	_, inBroadcast := bus.rooms[broadcastRoom][agentID]
	bus.mu.RUnlock()

	if !inAgentRoom {
		t.Error("attach did not join the agent's own room")
	}
	if !inGroupRoom {
		t.Error("attach did not join the agent's group room")
	}
	if !inBroadcast {
		t.Error("attach did not join the broadcast room")
	}

	if id, online := presence.last(); id != agentID || !online {
		t.Errorf("presence.last() = (%v, %v), want (%v, true)", id, online, agentID)
	}
}

func TestHub_DetachReleasesRoomsAndMarksOffline(t *testing.T) {
	t.Parallel()

	agentID := uuid.New()
	presence := &fakePresenceRecorder{}
	groups := &fakeGroupMembershipLister{}
	hub, bus := newTestHub(t, &fakeAuthenticator{}, presence, groups)

	client := newTestClient(hub, agentID)
	if err := hub.attach(context.Background(), client); err != nil {
		t.Fatalf("attach() error = %v", err)
	}

	hub.detach(client)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0 after detach", hub.ClientCount())
	}
	if bus.roomCount() != 0 {
		t.Errorf("roomCount() = %d, want 0 after detach releases every room", bus.roomCount())
	}
	if id, online := presence.last(); id != agentID || online {
		t.Errorf("presence.last() = (%v, %v), want (%v, false)", id, online, agentID)
	}
}

func TestHub_DetachIsNoOpForAlreadyReplacedClient(t *testing.T) {
	t.Parallel()

	agentID := uuid.New()
	presence := &fakePresenceRecorder{}
	hub, _ := newTestHub(t, &fakeAuthenticator{}, presence, &fakeGroupMembershipLister{})

	stale := newTestClient(hub, agentID)
	current := newTestClient(hub, agentID)
	hub.clients[agentID] = current

	hub.detach(stale)

	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1 (stale detach must not evict the current client)", hub.ClientCount())
	}
	if len(presence.calls) != 0 {
		t.Errorf("presence calls = %d, want 0 for a no-op detach", len(presence.calls))
	}
}

func TestHub_GroupJoinAndLeave(t *testing.T) {
	t.Parallel()

	agentID := uuid.New()
	hub, bus := newTestHub(t, &fakeAuthenticator{}, &fakePresenceRecorder{}, &fakeGroupMembershipLister{})
	client := newTestClient(hub, agentID)

	groupID := uuid.New()
	data, _ := json.Marshal(clientRoomRequest{GroupID: groupID})
	hub.handleClientEvent(client, events.Envelope{Kind: events.KindGroupJoin, Data: json.RawMessage(data)})

	bus.mu.RLock()
	_, joined := bus.rooms[groupRoom(groupID)][agentID]
	bus.mu.RUnlock()
	if !joined {
		t.Fatal("group:join did not subscribe the connection to the room")
	}

	hub.handleClientEvent(client, events.Envelope{Kind: events.KindGroupLeave, Data: json.RawMessage(data)})
	bus.mu.RLock()
	_, stillJoined := bus.rooms[groupRoom(groupID)][agentID]
	bus.mu.RUnlock()
	if stillJoined {
		t.Error("group:leave did not unsubscribe the connection from the room")
	}
}

func TestHub_TypingNeverEchoedToTyper(t *testing.T) {
	t.Parallel()

	hub, bus := newTestHub(t, &fakeAuthenticator{}, &fakePresenceRecorder{}, &fakeGroupMembershipLister{})
	groupID := uuid.New()

	typer := newTestClient(hub, uuid.New())
	other := newTestClient(hub, uuid.New())
	bus.join(groupRoom(groupID), typer.agentID, typer)
	bus.join(groupRoom(groupID), other.agentID, other)

	data, _ := json.Marshal(clientTypingRequest{GroupID: &groupID})
	hub.handleClientEvent(typer, events.Envelope{Kind: events.KindTypingStart, Data: json.RawMessage(data)})

	select {
	case <-other.send:
	case <-time.After(time.Second):
		t.Fatal("other connection did not receive the typing:start event")
	}

	select {
	case <-typer.send:
		t.Error("typer received its own typing:start event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFakeAuthenticator_RejectsUnknownKey(t *testing.T) {
	t.Parallel()

	auth := &fakeAuthenticator{agents: map[string]*identity.Agent{}}
	_, err := auth.AuthenticateByKey(context.Background(), "clk_wrong")
	if !errors.Is(err, identity.ErrInvalidKey) {
		t.Fatalf("AuthenticateByKey() error = %v, want ErrInvalidKey", err)
	}
}
