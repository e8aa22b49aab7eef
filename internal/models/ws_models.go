package models

import "time"

// Message kinds a client may send over the realtime connection. The set is
// closed; anything else is rejected at the boundary.
const (
	MsgTrackOrder             = "track_order"
	MsgUntrackOrder           = "untrack_order"
	MsgSubscribeNotifications = "subscribe_notifications"
)

// Message kinds the server pushes.
const (
	MsgOrderUpdate          = "order_update"
	MsgDeliveryStatusUpdate = "delivery_status_update"
	MsgInventoryUpdate      = "inventory_update"
	MsgNotification         = "notification"
)

// Notification topics for subscribe_notifications.
const (
	NotifyTopicOrder     = "order"
	NotifyTopicPromotion = "promotion"
	NotifyTopicInventory = "inventory"
	NotifyTopicSecurity  = "security"
)

// ClientMessage is the inbound envelope. Exactly one of the optional fields
// is meaningful depending on Type.
type ClientMessage struct {
	Type    string   `json:"type"`
	OrderID string   `json:"order_id,omitempty"`
	Types   []string `json:"types,omitempty"`
}

// ServerMessage is the outbound envelope. The payload field matching Type is
// set; the rest stay nil so the wire shape is a closed tagged union.
type ServerMessage struct {
	Type      string           `json:"type"`
	Order     *OrderUpdate     `json:"order,omitempty"`
	Inventory *InventoryUpdate `json:"inventory,omitempty"`
	Note      *Notification    `json:"notification,omitempty"`
}

// OrderUpdate carries the full order snapshot for a status change. Clients
// merge by full replacement, so no delta fields are needed.
type OrderUpdate struct {
	OrderID               string         `json:"order_id"`
	Status                string         `json:"status"`
	Message               string         `json:"message"`
	AgentSnapshot         *AgentSnapshot `json:"agent_snapshot,omitempty"`
	EstimatedDeliveryTime *time.Time     `json:"estimated_delivery_time,omitempty"`
	Snapshot              *Order         `json:"snapshot,omitempty"`
}

// InventoryUpdate announces a stock level change for a product.
type InventoryUpdate struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}

// Notification is a broadcast on a topic channel.
type Notification struct {
	Topic   string    `json:"topic"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
	OrderID string    `json:"order_id,omitempty"`
}
