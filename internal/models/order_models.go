package models

import (
	"time"
)

// Delivery statuses an order moves through, in forward order. Cancelled is a
// side terminal state reachable from anything strictly before Delivered.
const (
	StatusPending        = "Pending"
	StatusConfirmed      = "Confirmed"
	StatusPreparing      = "Preparing"
	StatusOutForDelivery = "OutForDelivery"
	StatusDelivered      = "Delivered"
	StatusCancelled      = "Cancelled"
)

// StatusSequence is the forward progression used to validate transitions.
var StatusSequence = []string{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusOutForDelivery,
	StatusDelivered,
}

// Payment methods accepted at checkout. Anything other than cash on delivery
// is treated as a prepaid method for SLA purposes.
const (
	PaymentMethodCOD      = "Cash on Delivery"
	PaymentMethodRazorpay = "Razorpay"
	PaymentMethodCard     = "Card"
)

// Order represents a customer's purchase tracked through delivery.
type Order struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"user_id"`
	Items                 []OrderItem     `json:"items"`
	ShippingInfo          ShippingInfo    `json:"shipping_info"`
	PaymentMethod         string          `json:"payment_method"`
	Total                 float64         `json:"total"`
	Status                string          `json:"status"`
	IsPaid                bool            `json:"is_paid"`
	PaidAt                *time.Time      `json:"paid_at,omitempty"`
	IsDelivered           bool            `json:"is_delivered"`
	DeliveredAt           *time.Time      `json:"delivered_at,omitempty"`
	AssignedAgent         *AgentSnapshot  `json:"assigned_agent,omitempty"`
	AgentID               string          `json:"-"`
	EstimatedDeliveryTime *time.Time      `json:"estimated_delivery_time,omitempty"`
	NextTransitionAt      *time.Time      `json:"-"`
	TrackingLog           []TrackingEvent `json:"tracking_log"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// IsCOD reports whether the order is paid on delivery.
func (o *Order) IsCOD() bool { return o.PaymentMethod == PaymentMethodCOD }

// OrderItem is one product line on an order.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// ShippingInfo is the delivery destination captured at checkout.
type ShippingInfo struct {
	FullName string `json:"full_name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Address  string `json:"address" validate:"required"`
	City     string `json:"city" validate:"required"`
	Pincode  string `json:"pincode" validate:"required"`
	Phone    string `json:"phone" validate:"required"`
}

// TrackingEvent is one immutable record of a status change. Events are only
// ever appended; insertion order is chronological order.
type TrackingEvent struct {
	ID            string         `json:"id"`
	OrderID       string         `json:"order_id"`
	Status        string         `json:"status"`
	Message       string         `json:"message"`
	AgentSnapshot *AgentSnapshot `json:"agent_snapshot,omitempty"`
	CreatedAt     time.Time      `json:"timestamp"`
}

// Product is the slice of the catalog the core touches: stock reservation on
// checkout and the compensating restore on cancellation.
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

// CreateOrderRequest is the checkout payload.
type CreateOrderRequest struct {
	Items         []CreateOrderItem `json:"items" validate:"required,min=1,dive"`
	ShippingInfo  ShippingInfo      `json:"shipping_info" validate:"required"`
	PaymentMethod string            `json:"payment_method" validate:"required"`
}

// CreateOrderItem is one requested product line.
type CreateOrderItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// OrderStatus is the lightweight tracking view: current status plus the
// newest log entry, without items or the full history.
type OrderStatus struct {
	OrderID               string         `json:"order_id"`
	Status                string         `json:"status"`
	AgentSnapshot         *AgentSnapshot `json:"agent_snapshot,omitempty"`
	EstimatedDeliveryTime *time.Time     `json:"estimated_delivery_time,omitempty"`
	LatestEvent           *TrackingEvent `json:"latest_event,omitempty"`
}

// ErrorResponse is the uniform JSON error body.
type ErrorResponse struct {
	Message string `json:"message"`
}
