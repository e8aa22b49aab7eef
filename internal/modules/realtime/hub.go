package realtime

import (
	"log"
	"sync"
	"time"

	"track-and-trace/internal/models"
)

// Channel name helpers. Order tracking and topic notifications share one
// group table; the prefix keeps the namespaces apart.
func orderChannel(orderID string) string { return "order:" + orderID }
func topicChannel(topic string) string   { return "notify:" + topic }

// Hub fans server pushes out to subscribed clients. Subscriptions are
// per-channel: a client only receives updates for orders it tracks and
// topics it subscribed to.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[*Client]struct{})}
}

func (h *Hub) subscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.groups[channel]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[channel] = group
	}
	group[c] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if group, ok := h.groups[channel]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.groups, channel)
		}
	}
}

// remove drops the client from every channel. Called once on disconnect so
// no group keeps a reference to a closed connection.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel, group := range h.groups {
		delete(group, c)
		if len(group) == 0 {
			delete(h.groups, channel)
		}
	}
}

// NotifyOrderUpdate pushes a status update to everyone tracking the order.
func (h *Hub) NotifyOrderUpdate(orderID string, update models.OrderUpdate) {
	h.broadcast(orderChannel(orderID), models.ServerMessage{
		Type:  models.MsgOrderUpdate,
		Order: &update,
	})
}

// NotifyDeliveryStatus pushes a courier-driven update to the order's
// trackers. Same payload as an order update; the type tag tells the client
// the change came from the delivery flow rather than checkout.
func (h *Hub) NotifyDeliveryStatus(orderID string, update models.OrderUpdate) {
	h.broadcast(orderChannel(orderID), models.ServerMessage{
		Type:  models.MsgDeliveryStatusUpdate,
		Order: &update,
	})
}

// NotifyInventoryUpdate pushes a stock level change to inventory subscribers.
func (h *Hub) NotifyInventoryUpdate(productID string, stock int) {
	h.broadcast(topicChannel(models.NotifyTopicInventory), models.ServerMessage{
		Type:      models.MsgInventoryUpdate,
		Inventory: &models.InventoryUpdate{ProductID: productID, Stock: stock},
	})
}

// NotifyTopic pushes a notification to subscribers of its topic.
func (h *Hub) NotifyTopic(topic string, note models.Notification) {
	note.Topic = topic
	note.SentAt = time.Now()
	h.broadcast(topicChannel(topic), models.ServerMessage{
		Type: models.MsgNotification,
		Note: &note,
	})
}

// broadcast delivers a message to one channel's subscribers. Sends are
// non-blocking: a client whose buffer is full misses this push and catches
// up through its reconciliation poll.
func (h *Hub) broadcast(channel string, msg models.ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.groups[channel] {
		select {
		case c.send <- msg:
		default:
			log.Printf("hub: client %s too slow, dropped %s on %s", c.identity, msg.Type, channel)
		}
	}
}

// subscriberCount reports the current size of a channel's group.
func (h *Hub) subscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[channel])
}
