package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/config"
	"github.com/clawlink/clawlink-core/internal/events"
	"github.com/clawlink/clawlink-core/internal/identity"
)

// Authenticator resolves a raw API key to its owning agent during the gateway handshake
// (spec.md §4.8 step 1). Satisfied directly by *identity.Service.
type Authenticator interface {
	AuthenticateByKey(ctx context.Context, rawKey string) (*identity.Agent, error)
}

// PresenceRecorder persists an agent's online/offline transition. Satisfied directly by
// *identity.Service.
type PresenceRecorder interface {
	TouchPresence(ctx context.Context, id uuid.UUID, online bool) error
}

// GroupMembershipLister lists the groups an agent belongs to, so its connection can join their
// rooms on attach. Satisfied directly by *group.Service.
type GroupMembershipLister interface {
	ListGroupIDsForAgent(ctx context.Context, agentID uuid.UUID) ([]uuid.UUID, error)
}

// Hub is the ConnectionManager (spec.md §4.8). It authenticates incoming sockets, tracks one
// active connection per agent (a new connection displaces an existing one), and wires each
// connection into the Bus's room registry.
type Hub struct {
	bus      *Bus
	auth     Authenticator
	presence PresenceRecorder
	groups   GroupMembershipLister
	cfg      *config.Config
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
}

// NewHub builds a Hub wired to bus for room fan-out and auth/presence/groups for the attach
// lifecycle.
func NewHub(bus *Bus, auth Authenticator, presence PresenceRecorder, groups GroupMembershipLister, cfg *config.Config, logger zerolog.Logger) *Hub {
	return &Hub{
		bus:      bus,
		auth:     auth,
		presence: presence,
		groups:   groups,
		cfg:      cfg,
		log:      logger.With().Str("component", "gateway_hub").Logger(),
		clients:  make(map[uuid.UUID]*Client),
	}
}

// ServeWebSocket validates token against spec.md §4.8 step 1, then attaches the connection and
// runs its read/write pumps until it disconnects. The caller (the HTTP upgrade handler) owns
// conn's lifecycle up to this call.
func (h *Hub) ServeWebSocket(conn *websocket.Conn, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agent, err := h.auth.AuthenticateByKey(ctx, token)
	if err != nil {
		h.log.Debug().Err(err).Msg("gateway handshake rejected")
		h.rejectConn(conn, CloseAuthFailed, "invalid token")
		return
	}

	client := newClient(h, conn, agent.ID, h.log)
	if err := h.attach(ctx, client); err != nil {
		h.log.Warn().Err(err).Msg("gateway attach failed")
		h.rejectConn(conn, CloseUnknownError, "attach failed")
		return
	}

	go client.writePump()
	client.readPump()
}

func (h *Hub) rejectConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}

// attach runs spec.md §4.8 step 2: register the connection, join agent:<id> and every
// group:<id> room the agent belongs to, mark presence online, and broadcast agent:online.
func (h *Hub) attach(ctx context.Context, client *Client) error {
	h.mu.Lock()
	if existing, ok := h.clients[client.agentID]; ok {
		delete(h.clients, client.agentID)
		h.mu.Unlock()
		h.bus.leaveAll(client.agentID)
		existing.closeSend()
		_ = existing.conn.Close()
		h.mu.Lock()
	}
	if h.cfg.GatewayMaxConnections > 0 && len(h.clients) >= h.cfg.GatewayMaxConnections {
		h.mu.Unlock()
		return ErrMaxConnections
	}
	h.clients[client.agentID] = client
	h.mu.Unlock()

	h.bus.join(agentRoom(client.agentID), client.agentID, client)
	h.bus.join(broadcastRoom, client.agentID, client)

	groupIDs, err := h.groups.ListGroupIDsForAgent(ctx, client.agentID)
	if err != nil {
		return err
	}
	for _, gid := range groupIDs {
		h.bus.join(groupRoom(gid), client.agentID, client)
	}

	if err := h.presence.TouchPresence(ctx, client.agentID, true); err != nil {
		h.log.Warn().Err(err).Stringer("agent_id", client.agentID).Msg("failed to set presence online")
	}
	if err := h.bus.Publish(ctx, broadcastRoom, events.Envelope{
		Kind: events.KindAgentOnline,
		Data: events.PresencePayload{AgentID: client.agentID},
	}); err != nil {
		h.log.Warn().Err(err).Msg("failed to broadcast agent:online")
	}

	h.log.Debug().Stringer("agent_id", client.agentID).Msg("gateway connection attached")
	return nil
}

// detach runs spec.md §4.8 step 4: remove the connection, release its room memberships, mark
// presence offline, and broadcast agent:offline. Presence is eventually consistent: a connection
// that drops without running this (e.g. a network partition) leaves isOnline=true until the next
// authenticated request refreshes it (spec.md §4.8).
func (h *Hub) detach(client *Client) {
	h.mu.Lock()
	current, ok := h.clients[client.agentID]
	if !ok || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.agentID)
	h.mu.Unlock()

	client.closeSend()
	h.bus.leaveAll(client.agentID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.TouchPresence(ctx, client.agentID, false); err != nil {
		h.log.Warn().Err(err).Stringer("agent_id", client.agentID).Msg("failed to set presence offline")
	}
	if err := h.bus.Publish(ctx, broadcastRoom, events.Envelope{
		Kind: events.KindAgentOffline,
		Data: events.PresencePayload{AgentID: client.agentID},
	}); err != nil {
		h.log.Warn().Err(err).Msg("failed to broadcast agent:offline")
	}

	h.log.Debug().Stringer("agent_id", client.agentID).Msg("gateway connection detached")
}

// clientRoomRequest is the group:join / group:leave payload shape (spec.md §6.2).
type clientRoomRequest struct {
	GroupID uuid.UUID `json:"groupId"`
}

// clientTypingRequest is the typing:start / typing:stop payload shape, scoped to either a group
// or a DM partner (spec.md §6.2).
type clientTypingRequest struct {
	GroupID   *uuid.UUID `json:"groupId,omitempty"`
	ToAgentID *uuid.UUID `json:"toAgentId,omitempty"`
}

// handleClientEvent processes spec.md §4.8 step 3, the four client -> server event kinds.
// Unrecognized kinds and malformed payloads are ignored rather than closing the connection.
func (h *Hub) handleClientEvent(client *Client, env events.Envelope) {
	raw, err := json.Marshal(env.Data)
	if err != nil {
		return
	}

	switch env.Kind {
	case events.KindGroupJoin:
		var req clientRoomRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return
		}
		h.bus.join(groupRoom(req.GroupID), client.agentID, client)

	case events.KindGroupLeave:
		var req clientRoomRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return
		}
		h.bus.leave(groupRoom(req.GroupID), client.agentID)

	case events.KindTypingStart:
		h.relayTyping(client, raw, events.KindTypingStart)

	case events.KindTypingStop:
		h.relayTyping(client, raw, events.KindTypingStop)
	}
}

// relayTyping fans typing:start/typing:stop out to the target room, never echoing the event
// back to the typer (spec.md §4.8 step 3).
func (h *Hub) relayTyping(client *Client, raw []byte, kind events.Kind) {
	var req clientTypingRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	var room string
	switch {
	case req.GroupID != nil:
		room = groupRoom(*req.GroupID)
	case req.ToAgentID != nil:
		room = agentRoom(*req.ToAgentID)
	default:
		return
	}

	payload := events.TypingPayload{GroupID: req.GroupID, AgentID: client.agentID}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.bus.PublishExcept(ctx, room, client.agentID, events.Envelope{Kind: kind, Data: payload}); err != nil {
		h.log.Warn().Err(err).Msg("failed to relay typing event")
	}
}

// ClientCount returns the number of currently attached connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every active connection with a going-away status.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for agentID, client := range h.clients {
		client.closeSend()
		_ = client.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait),
		)
		_ = client.conn.Close()
		delete(h.clients, agentID)
	}
	h.log.Info().Msg("gateway hub shut down")
}
