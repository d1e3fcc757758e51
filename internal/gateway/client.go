package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawlink/clawlink-core/internal/events"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound WebSocket message.
	maxMessageSize = 4096

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may go without a pong before it is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod sends a ping well before pongWait would otherwise expire the connection.
	pingPeriod = (pongWait * 9) / 10
)

// Client represents one authenticated WebSocket connection, attached to agentID for its entire
// lifetime; the gateway has no separate in-band identify step since the agent is authenticated
// during the HTTP upgrade handshake (spec.md §4.8 step 1).
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	agentID uuid.UUID
	send    chan []byte
	log     zerolog.Logger

	// done is closed to signal shutdown. send is never closed directly; writePump and enqueue
	// both select on done, avoiding a send-on-closed-channel panic when detach races dispatch.
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, agentID uuid.UUID, logger zerolog.Logger) *Client {
	bufSize := hub.cfg.GatewaySendBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Client{
		hub:     hub,
		conn:    conn,
		agentID: agentID,
		send:    make(chan []byte, bufSize),
		done:    make(chan struct{}),
		log:     logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue marshals env and queues it for delivery. If the send buffer is full the connection is
// closed rather than letting a slow subscriber back-pressure the publisher (spec.md §5).
func (c *Client) enqueue(env events.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		c.log.Warn().Err(err).Msg("marshal outbound event failed")
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- payload:
	case <-c.done:
	default:
		c.log.Warn().Stringer("agent_id", c.agentID).Msg("client send buffer full, closing connection")
		c.closeSend()
		_ = c.conn.Close()
	}
}

// readPump reads client -> server frames and routes them to the Hub. It runs in its own
// goroutine and is responsible for detaching the client when the read loop exits.
func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.closeWithCode(CloseDecodeError, "invalid JSON")
			return
		}

		c.hub.handleClientEvent(c, env)
	}
}

// writePump writes queued messages and periodic pings to the connection. It runs in its own
// goroutine and exits when done is closed, draining any buffered messages first.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("websocket write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// closeWithCode sends a WebSocket close frame with the given code and reason, then closes the
// underlying connection.
func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}
