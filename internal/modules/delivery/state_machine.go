package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"track-and-trace/internal/models"
)

// OrderStore defines the order persistence the state machine drives.
type OrderStore interface {
	FindByID(ctx context.Context, orderID string) (*models.Order, error)
	// ApplyTransition performs the guarded status change and event append
	// atomically, returning the updated order. models.ErrConflict means the
	// order was no longer in the expected state and nothing was written.
	ApplyTransition(ctx context.Context, t models.Transition) (*models.Order, error)
	// Cancel moves the order to Cancelled unless it already reached a
	// terminal state, appending the event atomically with the change.
	Cancel(ctx context.Context, orderID string, ev models.TrackingEvent) (*models.Order, error)
	// ListScheduled returns non-terminal orders with a pending transition
	// time, for timer recovery after a restart.
	ListScheduled(ctx context.Context) ([]*models.Order, error)
}

// Broadcaster pushes updates to subscribed realtime clients. Checkout-driven
// changes go out as order updates, courier-driven ones as delivery status
// updates; topic notifications reach subscribers not tracking the order.
type Broadcaster interface {
	NotifyOrderUpdate(orderID string, update models.OrderUpdate)
	NotifyDeliveryStatus(orderID string, update models.OrderUpdate)
	NotifyTopic(topic string, note models.Notification)
}

// Mailer sends the delivered-order email. Implementations are best-effort.
type Mailer interface {
	SendDelivered(ctx context.Context, order *models.Order) error
}

// EventPublisher emits order lifecycle events to the message queue.
type EventPublisher interface {
	PublishOrderEvent(orderID, eventType string, priority int) error
}

// Timing holds the configured delays. Both forward delays are anchored at
// payment confirmation; the delivered transition runs a full SLA window after
// dispatch.
type Timing struct {
	PreparingDelay      time.Duration
	OutForDeliveryDelay time.Duration
	SLAPrepaid          time.Duration
	SLACOD              time.Duration
}

// StateMachine advances orders through the delivery sequence
// Pending -> Confirmed -> Preparing -> OutForDelivery -> Delivered on
// one-shot timers. Every timed step re-checks the persisted status before
// mutating, broadcasts only after the write sticks, and drops the firing on
// storage errors so the client's next poll is the recovery path.
type StateMachine struct {
	orders OrderStore
	assign *AssignmentService
	hub    Broadcaster
	mailer Mailer         // optional
	events EventPublisher // optional
	timing Timing
}

func NewStateMachine(orders OrderStore, assign *AssignmentService, hub Broadcaster, timing Timing) *StateMachine {
	return &StateMachine{
		orders: orders,
		assign: assign,
		hub:    hub,
		timing: timing,
	}
}

// WithMailer attaches the delivered-order mailer.
func (m *StateMachine) WithMailer(mailer Mailer) *StateMachine {
	m.mailer = mailer
	return m
}

// WithEvents attaches the queue publisher.
func (m *StateMachine) WithEvents(events EventPublisher) *StateMachine {
	m.events = events
	return m
}

// SLAWindow returns the delivery window promised for a payment method.
// Prepaid orders carry a tighter window than cash on delivery.
func (m *StateMachine) SLAWindow(paymentMethod string) time.Duration {
	if paymentMethod == models.PaymentMethodCOD {
		return m.timing.SLACOD
	}
	return m.timing.SLAPrepaid
}

// Confirm moves a Pending order to Confirmed synchronously at checkout
// completion: it assigns an agent, fixes the estimated delivery time from
// the payment method's SLA, appends the confirmation event, broadcasts, and
// arms the first timed transition. Each firing then arms its successor from
// the due time it just persisted, so a recovered order follows the same
// chain as a live one.
func (m *StateMachine) Confirm(ctx context.Context, order *models.Order, paid bool) (*models.Order, error) {
	agent, agentID := m.assign.Assign(ctx, order.ID)
	now := time.Now()
	eta := now.Add(m.SLAWindow(order.PaymentMethod))
	nextDue := now.Add(m.timing.PreparingDelay)

	updated, err := m.orders.ApplyTransition(ctx, models.Transition{
		OrderID:  order.ID,
		From:     models.StatusPending,
		To:       models.StatusConfirmed,
		Agent:    &agent,
		AgentID:  &agentID,
		ETA:      &eta,
		MarkPaid: paid,
		Event: models.TrackingEvent{
			OrderID:       order.ID,
			Status:        models.StatusConfirmed,
			Message:       fmt.Sprintf("Order confirmed. %s will deliver your package by %s.", agent.Name, eta.Format(time.Kitchen)),
			AgentSnapshot: &agent,
		},
		NextTransitionAt: &nextDue,
	})
	if err != nil {
		return nil, err
	}

	m.broadcast(updated)
	m.publish(updated.ID, "status_updated", 5)

	m.after(m.timing.PreparingDelay, updated.ID, models.StatusPreparing)
	return updated, nil
}

// Recover re-arms timers for orders whose next transition was scheduled
// before a restart. Overdue transitions fire immediately.
func (m *StateMachine) Recover(ctx context.Context) error {
	scheduled, err := m.orders.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("state machine recover: %w", err)
	}
	now := time.Now()
	for _, order := range scheduled {
		target, ok := nextStatus(order.Status)
		if !ok || order.NextTransitionAt == nil {
			continue
		}
		delay := order.NextTransitionAt.Sub(now)
		if delay < 0 {
			delay = 0
		}
		m.after(delay, order.ID, target)
		log.Printf("state machine: recovered %s -> %s for order %s (due in %s)", order.Status, target, order.ID, delay)
	}
	return nil
}

// after schedules a one-shot transition. Timers are fire-and-forget; the
// status guard inside fire makes stale or duplicate firings no-ops.
func (m *StateMachine) after(delay time.Duration, orderID, target string) {
	time.AfterFunc(delay, func() {
		m.fire(context.Background(), orderID, target)
	})
}

// fire applies one timed transition.
func (m *StateMachine) fire(ctx context.Context, orderID, target string) {
	var (
		updated *models.Order
		err     error
	)
	switch target {
	case models.StatusPreparing:
		updated, err = m.firePreparing(ctx, orderID)
	case models.StatusOutForDelivery:
		updated, err = m.fireOutForDelivery(ctx, orderID)
	case models.StatusDelivered:
		updated, err = m.fireDelivered(ctx, orderID)
	default:
		log.Printf("state machine: unknown target status %q for order %s", target, orderID)
		return
	}
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Cancelled or already advanced; the timer is stale.
			return
		}
		// Storage failed; skip the broadcast for this firing and let the
		// client's reconciliation poll surface the true state later.
		log.Printf("state machine: %s transition dropped for order %s: %v", target, orderID, err)
		return
	}

	m.hub.NotifyDeliveryStatus(updated.ID, m.update(updated))
	m.publish(updated.ID, "status_updated", 5)

	// Arm the successor from the due time this transition persisted. The
	// delivered transition clears it, ending the chain.
	if next, ok := nextStatus(updated.Status); ok && updated.NextTransitionAt != nil {
		m.after(time.Until(*updated.NextTransitionAt), updated.ID, next)
	}
	if target == models.StatusDelivered {
		m.assign.Release(ctx, updated.AgentID)
		m.hub.NotifyTopic(models.NotifyTopicOrder, models.Notification{
			Title:   "Order delivered",
			Body:    "Order " + updated.ID + " has been delivered.",
			OrderID: updated.ID,
		})
		if m.mailer != nil {
			go func(o *models.Order) {
				if err := m.mailer.SendDelivered(context.Background(), o); err != nil {
					log.Printf("state machine: delivered email for order %s failed: %v", o.ID, err)
				}
			}(updated)
		}
	}
}

// Cancel applies the side terminal transition. Validity (not already
// Delivered or Cancelled) is checked by the store atomically with the write,
// so a cancel racing a scheduled advancement cannot leave mixed state. A
// claimed registry agent is released back to the pool.
func (m *StateMachine) Cancel(ctx context.Context, orderID, reason string) (*models.Order, error) {
	message := "Order cancelled."
	if reason != "" {
		message = "Order cancelled: " + reason
	}
	updated, err := m.orders.Cancel(ctx, orderID, models.TrackingEvent{
		OrderID: orderID,
		Status:  models.StatusCancelled,
		Message: message,
	})
	if err != nil {
		return nil, err
	}

	m.assign.Release(ctx, updated.AgentID)
	m.broadcast(updated)
	m.hub.NotifyTopic(models.NotifyTopicOrder, models.Notification{
		Title:   "Order cancelled",
		Body:    message,
		OrderID: updated.ID,
	})
	m.publish(updated.ID, "cancelled", 8)
	return updated, nil
}

func (m *StateMachine) firePreparing(ctx context.Context, orderID string) (*models.Order, error) {
	// Both delays are anchored at confirmation, so from here the dispatch
	// transition is due after the difference between the two.
	gap := m.timing.OutForDeliveryDelay - m.timing.PreparingDelay
	if gap < 0 {
		gap = 0
	}
	nextDue := time.Now().Add(gap)
	return m.orders.ApplyTransition(ctx, models.Transition{
		OrderID: orderID,
		From:    models.StatusConfirmed,
		To:      models.StatusPreparing,
		Event: models.TrackingEvent{
			OrderID: orderID,
			Status:  models.StatusPreparing,
			Message: "Your order is being prepared for dispatch.",
		},
		NextTransitionAt: &nextDue,
	})
}

func (m *StateMachine) fireOutForDelivery(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := m.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Backfill an agent if confirmation never bound one, and re-anchor the
	// estimated delivery time at dispatch.
	agent := order.AssignedAgent
	if agent == nil {
		fallback := m.assign.Fallback(orderID)
		agent = &fallback
	}
	eta := time.Now().Add(m.SLAWindow(order.PaymentMethod))
	deliveredDue := eta

	return m.orders.ApplyTransition(ctx, models.Transition{
		OrderID: orderID,
		From:    models.StatusPreparing,
		To:      models.StatusOutForDelivery,
		Agent:   agent,
		ETA:     &eta,
		Event: models.TrackingEvent{
			OrderID:       orderID,
			Status:        models.StatusOutForDelivery,
			Message:       fmt.Sprintf("Out for delivery with %s (%s).", agent.Name, agent.Phone),
			AgentSnapshot: agent,
		},
		NextTransitionAt: &deliveredDue,
	})
}

func (m *StateMachine) fireDelivered(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := m.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return m.orders.ApplyTransition(ctx, models.Transition{
		OrderID:       orderID,
		From:          models.StatusOutForDelivery,
		To:            models.StatusDelivered,
		MarkDelivered: true,
		Event: models.TrackingEvent{
			OrderID:       orderID,
			Status:        models.StatusDelivered,
			Message:       "Order delivered. Thank you for shopping with us!",
			AgentSnapshot: order.AssignedAgent,
		},
		ClearNext: true,
	})
}

// broadcast pushes the durable state to subscribers. It runs strictly after
// the transition persisted; a dropped transition never reaches the wire.
func (m *StateMachine) broadcast(order *models.Order) {
	m.hub.NotifyOrderUpdate(order.ID, m.update(order))
}

func (m *StateMachine) update(order *models.Order) models.OrderUpdate {
	update := models.OrderUpdate{
		OrderID:               order.ID,
		Status:                order.Status,
		AgentSnapshot:         order.AssignedAgent,
		EstimatedDeliveryTime: order.EstimatedDeliveryTime,
		Snapshot:              order,
	}
	if n := len(order.TrackingLog); n > 0 {
		update.Message = order.TrackingLog[n-1].Message
	}
	return update
}

func (m *StateMachine) publish(orderID, eventType string, priority int) {
	if m.events == nil {
		return
	}
	if err := m.events.PublishOrderEvent(orderID, eventType, priority); err != nil {
		log.Printf("state machine: publish %s for order %s failed: %v", eventType, orderID, err)
	}
}

// nextStatus maps a current status to the timed transition that follows it.
func nextStatus(status string) (string, bool) {
	switch status {
	case models.StatusConfirmed:
		return models.StatusPreparing, true
	case models.StatusPreparing:
		return models.StatusOutForDelivery, true
	case models.StatusOutForDelivery:
		return models.StatusDelivered, true
	}
	return "", false
}
