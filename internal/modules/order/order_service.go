package order

import (
	"context"
	"fmt"
	"log"
	"time"

	"track-and-trace/internal/models"
	"track-and-trace/pkg/payment"

	"github.com/google/uuid"
)

// DeliveryFlow is the slice of the delivery state machine checkout drives.
type DeliveryFlow interface {
	Confirm(ctx context.Context, order *models.Order, paid bool) (*models.Order, error)
	Cancel(ctx context.Context, orderID, reason string) (*models.Order, error)
}

// Broadcaster pushes inventory changes to realtime subscribers. Order status
// pushes are owned by the state machine; the service only announces the
// compensating stock restores.
type Broadcaster interface {
	NotifyInventoryUpdate(productID string, stock int)
}

// EventPublisher emits order lifecycle events to the message queue,
// including the delayed payment check that auto-cancels unpaid orders.
type EventPublisher interface {
	PublishOrderEvent(orderID, eventType string, priority int) error
	PublishDelayedEvent(orderID string, delay time.Duration, eventType string) error
}

// ServiceInterface defines the contract for the order service.
type ServiceInterface interface {
	CreateOrder(ctx context.Context, userID string, req models.CreateOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, orderID, userID string) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID string, page, limit int) ([]*models.Order, int, error)
	CreatePaymentIntent(ctx context.Context, userID, orderID string) (*payment.Intent, error)
	ConfirmPayment(ctx context.Context, orderID string) (*models.Order, error)
	ConfirmOrderPayment(ctx context.Context, orderID, userID string) (*models.Order, error)
	GetOrderStatus(ctx context.Context, orderID, userID string) (*models.OrderStatus, error)
	HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID, userID string) (*models.Order, error)
	CancelIfUnpaid(ctx context.Context, orderID string) error
}

// Service implements the order service logic.
type Service struct {
	repo              RepositoryInterface
	products          ProductStore
	flow              DeliveryFlow
	hub               Broadcaster
	gateway           payment.GatewayInterface
	events            EventPublisher // optional
	paymentCheckDelay time.Duration
}

func NewService(repo RepositoryInterface, products ProductStore, flow DeliveryFlow, hub Broadcaster, gateway payment.GatewayInterface) *Service {
	return &Service{
		repo:     repo,
		products: products,
		flow:     flow,
		hub:      hub,
		gateway:  gateway,
	}
}

// WithEvents attaches the queue publisher and the delay before an unpaid
// order is checked for auto-cancellation.
func (s *Service) WithEvents(events EventPublisher, paymentCheckDelay time.Duration) *Service {
	s.events = events
	s.paymentCheckDelay = paymentCheckDelay
	return s
}

// CreateOrder prices the requested items, reserves stock, and persists the
// order in Pending. Cash-on-delivery orders confirm synchronously, so the
// response already carries the assigned agent and the delivery estimate.
func (s *Service) CreateOrder(ctx context.Context, userID string, req models.CreateOrderRequest) (*models.Order, error) {
	order := &models.Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		ShippingInfo:  req.ShippingInfo,
		PaymentMethod: req.PaymentMethod,
		Status:        models.StatusPending,
	}

	for _, line := range req.Items {
		product, err := s.products.FindByID(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("service.CreateOrder: product %s: %w", line.ProductID, err)
		}
		order.Items = append(order.Items, models.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  line.Quantity,
			Price:     product.Price,
		})
		order.Total += product.Price * float64(line.Quantity)
	}

	if err := s.products.Reserve(ctx, order.Items); err != nil {
		return nil, fmt.Errorf("service.CreateOrder: reserve stock: %w", err)
	}

	created, err := s.repo.Create(ctx, order)
	if err != nil {
		// Give the reserved stock back; the order never existed.
		if _, restoreErr := s.products.Restore(ctx, order.Items); restoreErr != nil {
			log.Printf("CRITICAL: stock restore after failed order create: %v", restoreErr)
		}
		return nil, fmt.Errorf("service.CreateOrder: %w", err)
	}

	if created.IsCOD() {
		confirmed, err := s.flow.Confirm(ctx, created, false)
		if err != nil {
			return nil, fmt.Errorf("service.CreateOrder: confirm COD order: %w", err)
		}
		created = confirmed
	} else if s.events != nil {
		if err := s.events.PublishDelayedEvent(created.ID, s.paymentCheckDelay, "payment_check"); err != nil {
			log.Printf("service.CreateOrder: delayed payment check for order %s not scheduled: %v", created.ID, err)
		}
	}

	if s.events != nil {
		priority := 5
		if created.Total > 1000 {
			priority = 9
		}
		if err := s.events.PublishOrderEvent(created.ID, "created", priority); err != nil {
			log.Printf("service.CreateOrder: publish created event for order %s: %v", created.ID, err)
		}
	}

	return created, nil
}

// GetOrder retrieves a full order snapshot for its owner. This is also the
// poll target the client reconciler hits on its fixed interval.
func (s *Service) GetOrder(ctx context.Context, orderID, userID string) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service.GetOrder: %w", err)
	}
	// Return NotFound rather than Forbidden to avoid leaking order ids.
	if order.UserID != userID {
		return nil, models.ErrNotFound
	}
	return order, nil
}

// ListUserOrders retrieves a user's orders with pagination.
func (s *Service) ListUserOrders(ctx context.Context, userID string, page, limit int) ([]*models.Order, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	orders, total, err := s.repo.ListByUserID(ctx, userID, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("service.ListUserOrders: %w", err)
	}
	return orders, total, nil
}

// CreatePaymentIntent registers the order total with the payment gateway.
func (s *Service) CreatePaymentIntent(ctx context.Context, userID, orderID string) (*payment.Intent, error) {
	order, err := s.GetOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.StatusPending || order.IsPaid || order.IsCOD() {
		return nil, models.ErrOrderNotPayable
	}
	intent, err := s.gateway.CreateIntent(ctx, order.ID, order.Total)
	if err != nil {
		return nil, fmt.Errorf("service.CreatePaymentIntent: %w", err)
	}
	return intent, nil
}

// ConfirmPayment is the payment-verified trigger: it moves a Pending order
// to Confirmed and starts the timed delivery flow.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service.ConfirmPayment: %w", err)
	}
	if order.Status != models.StatusPending {
		return nil, models.ErrOrderNotPayable
	}
	confirmed, err := s.flow.Confirm(ctx, order, true)
	if err != nil {
		return nil, fmt.Errorf("service.ConfirmPayment: %w", err)
	}
	return confirmed, nil
}

// ConfirmOrderPayment is the user-facing confirm endpoint: ownership is
// checked before the payment-verified trigger runs.
func (s *Service) ConfirmOrderPayment(ctx context.Context, orderID, userID string) (*models.Order, error) {
	if _, err := s.GetOrder(ctx, orderID, userID); err != nil {
		return nil, err
	}
	return s.ConfirmPayment(ctx, orderID)
}

// GetOrderStatus returns the lightweight tracking view for status badges:
// current status and the newest tracking event, without the item lines or
// the full history in the response.
func (s *Service) GetOrderStatus(ctx context.Context, orderID, userID string) (*models.OrderStatus, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service.GetOrderStatus: %w", err)
	}
	if order.UserID != userID {
		return nil, models.ErrNotFound
	}
	latest, err := s.repo.LatestTrackingEvent(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service.GetOrderStatus: %w", err)
	}
	return &models.OrderStatus{
		OrderID:               order.ID,
		Status:                order.Status,
		AgentSnapshot:         order.AssignedAgent,
		EstimatedDeliveryTime: order.EstimatedDeliveryTime,
		LatestEvent:           latest,
	}, nil
}

// HandlePaymentWebhook verifies the gateway signature and confirms the order
// the event belongs to.
func (s *Service) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) (*models.Order, error) {
	orderID, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		return nil, fmt.Errorf("service.HandlePaymentWebhook: %w", err)
	}
	return s.ConfirmPayment(ctx, orderID)
}

// CancelOrder cancels an order for its owner. Delivered orders are past the
// point of no return and fail with a conflict; on success the reserved stock
// is restored and the new levels are broadcast.
func (s *Service) CancelOrder(ctx context.Context, orderID, userID string) (*models.Order, error) {
	order, err := s.GetOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, order, "cancelled by customer")
}

// CancelIfUnpaid is the payment-check hook: it cancels the order only if it
// is still Pending and unpaid when the delayed event fires.
func (s *Service) CancelIfUnpaid(ctx context.Context, orderID string) error {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("service.CancelIfUnpaid: %w", err)
	}
	if order.Status != models.StatusPending || order.IsPaid {
		return nil
	}
	_, err = s.cancel(ctx, order, "payment not completed in time")
	return err
}

func (s *Service) cancel(ctx context.Context, order *models.Order, reason string) (*models.Order, error) {
	cancelled, err := s.flow.Cancel(ctx, order.ID, reason)
	if err != nil {
		return nil, err
	}

	// Compensating action: put the reserved units back and tell inventory
	// subscribers about the new levels.
	levels, err := s.products.Restore(ctx, cancelled.Items)
	if err != nil {
		log.Printf("CRITICAL: order %s cancelled but stock restore failed: %v", cancelled.ID, err)
		return cancelled, nil
	}
	for productID, stock := range levels {
		s.hub.NotifyInventoryUpdate(productID, stock)
	}
	return cancelled, nil
}
