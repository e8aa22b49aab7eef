package realtime

import (
	"log"
	"time"

	"track-and-trace/internal/middlewares"
	"track-and-trace/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1024

	// sendBuffer bounds per-client backlog. Overflow drops the push; the
	// poll loop on the client side recovers the state.
	sendBuffer = 32
)

// Client is one realtime connection. identity is the authenticated user id
// or a generated guest id; tracking an order only needs its id, so guests
// with a tracking link are served too.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	identity string
	send     chan models.ServerMessage
}

func newClient(hub *Hub, conn *websocket.Conn, identity string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		identity: identity,
		send:     make(chan models.ServerMessage, sendBuffer),
	}
}

// readPump consumes subscription commands until the connection drops, then
// detaches the client from every channel.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		close(c.send)
		c.conn.Close()
		middlewares.WSDisconnected()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("realtime: client %s read error: %v", c.identity, err)
			}
			return
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg models.ClientMessage) {
	switch msg.Type {
	case models.MsgTrackOrder:
		if msg.OrderID != "" {
			c.hub.subscribe(c, orderChannel(msg.OrderID))
		}
	case models.MsgUntrackOrder:
		if msg.OrderID != "" {
			c.hub.unsubscribe(c, orderChannel(msg.OrderID))
		}
	case models.MsgSubscribeNotifications:
		for _, topic := range msg.Types {
			switch topic {
			case models.NotifyTopicOrder, models.NotifyTopicPromotion,
				models.NotifyTopicInventory, models.NotifyTopicSecurity:
				c.hub.subscribe(c, topicChannel(topic))
			}
		}
	default:
		log.Printf("realtime: client %s sent unknown message type %q", c.identity, msg.Type)
	}
}

// writePump serializes outbound pushes and keepalive pings onto the
// connection. It owns all writes; readPump closing the send channel is the
// shutdown signal.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
