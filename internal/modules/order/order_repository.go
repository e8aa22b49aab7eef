package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"track-and-trace/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface defines the order persistence contract.
type RepositoryInterface interface {
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, orderID string) (*models.Order, error)
	ListByUserID(ctx context.Context, userID string, page, limit int) ([]*models.Order, int, error)
	ApplyTransition(ctx context.Context, t models.Transition) (*models.Order, error)
	Cancel(ctx context.Context, orderID string, ev models.TrackingEvent) (*models.Order, error)
	ListScheduled(ctx context.Context) ([]*models.Order, error)
	LatestTrackingEvent(ctx context.Context, orderID string) (*models.TrackingEvent, error)
}

// Repository implements RepositoryInterface on PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

const orderColumns = `
	id, user_id, payment_method, total, status,
	is_paid, paid_at, is_delivered, delivered_at,
	agent_id, agent_name, agent_phone, agent_vehicle, agent_rating,
	estimated_delivery_time, next_transition_at,
	shipping_name, shipping_email, shipping_address, shipping_city, shipping_pincode, shipping_phone,
	created_at, updated_at`

// Create inserts a new order with its items. The order starts in Pending
// with an empty tracking log; the log only fills once the status advances.
func (r *Repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository.Create: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		INSERT INTO orders (id, user_id, payment_method, total, status,
		                    shipping_name, shipping_email, shipping_address, shipping_city, shipping_pincode, shipping_phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err = tx.QueryRow(ctx, query,
		order.ID, order.UserID, order.PaymentMethod, order.Total, models.StatusPending,
		order.ShippingInfo.FullName, order.ShippingInfo.Email,
		order.ShippingInfo.Address, order.ShippingInfo.City, order.ShippingInfo.Pincode, order.ShippingInfo.Phone,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("repository.Create: insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, name, quantity, price) VALUES ($1, $2, $3, $4, $5)`,
			order.ID, item.ProductID, item.Name, item.Quantity, item.Price,
		)
		if err != nil {
			return nil, fmt.Errorf("repository.Create: insert item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository.Create: commit: %w", err)
	}
	order.Status = models.StatusPending
	return order, nil
}

// FindByID loads a full order snapshot: row, items, and the tracking log in
// chronological order.
func (r *Repository) FindByID(ctx context.Context, orderID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	order, err := r.scanOrder(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		return nil, fmt.Errorf("repository.FindByID: %w", err)
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, fmt.Errorf("repository.FindByID: %w", err)
	}
	if err := r.loadTrackingLog(ctx, order); err != nil {
		return nil, fmt.Errorf("repository.FindByID: %w", err)
	}
	return order, nil
}

// ListByUserID retrieves a user's orders with pagination, newest first.
func (r *Repository) ListByUserID(ctx context.Context, userID string, page, limit int) ([]*models.Order, int, error) {
	offset := (page - 1) * limit
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListByUserID.Query: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := r.scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository.ListByUserID.scanOrder: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository.ListByUserID.rows: %w", err)
	}

	var total int
	err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListByUserID.Count: %w", err)
	}
	return orders, total, nil
}

// ApplyTransition performs the guarded status change and the tracking event
// append in one transaction. A zero-row update means the order was not in the
// expected state, so nothing is written and ErrConflict is returned; that is
// the idempotency guard for duplicate timer firings and cancel races.
func (r *Repository) ApplyTransition(ctx context.Context, t models.Transition) (*models.Order, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository.ApplyTransition: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	set := []string{"status = $1", "updated_at = NOW()"}
	args := []any{t.To}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if t.Agent != nil {
		set = append(set,
			"agent_name = "+next(t.Agent.Name),
			"agent_phone = "+next(t.Agent.Phone),
			"agent_vehicle = "+next(t.Agent.Vehicle),
			"agent_rating = "+next(t.Agent.Rating),
		)
	}
	if t.AgentID != nil {
		if *t.AgentID == "" {
			set = append(set, "agent_id = NULL")
		} else {
			set = append(set, "agent_id = "+next(*t.AgentID))
		}
	}
	if t.ETA != nil {
		set = append(set, "estimated_delivery_time = "+next(*t.ETA))
	}
	if t.MarkPaid {
		set = append(set, "is_paid = TRUE", "paid_at = NOW()")
	}
	if t.MarkDelivered {
		set = append(set, "is_delivered = TRUE", "delivered_at = NOW()")
	}
	if t.NextTransitionAt != nil {
		set = append(set, "next_transition_at = "+next(*t.NextTransitionAt))
	} else if t.ClearNext {
		set = append(set, "next_transition_at = NULL")
	}

	query := fmt.Sprintf(
		"UPDATE orders SET %s WHERE id = %s AND status = %s",
		strings.Join(set, ", "), next(t.OrderID), next(t.From),
	)
	cmd, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository.ApplyTransition: update: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return nil, models.ErrConflict
	}

	if err := insertTrackingEvent(ctx, tx, &t.Event); err != nil {
		return nil, fmt.Errorf("repository.ApplyTransition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository.ApplyTransition: commit: %w", err)
	}
	return r.FindByID(ctx, t.OrderID)
}

// Cancel applies the side terminal transition from any non-terminal state.
// The status guard and the event append commit together; a cancel attempt on
// a Delivered order fails with ErrOrderNotCancellable and writes nothing.
func (r *Repository) Cancel(ctx context.Context, orderID string, ev models.TrackingEvent) (*models.Order, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository.Cancel: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		UPDATE orders
		SET status = $1, next_transition_at = NULL, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ($3, $4)`

	cmd, err := tx.Exec(ctx, query, models.StatusCancelled, orderID, models.StatusDelivered, models.StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("repository.Cancel: update: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		// Distinguish an unknown order from one past the point of cancelling.
		var status string
		err := r.db.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, models.ErrNotFound
			}
			return nil, fmt.Errorf("repository.Cancel: status check: %w", err)
		}
		return nil, models.ErrOrderNotCancellable
	}

	if err := insertTrackingEvent(ctx, tx, &ev); err != nil {
		return nil, fmt.Errorf("repository.Cancel: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository.Cancel: commit: %w", err)
	}
	return r.FindByID(ctx, orderID)
}

// ListScheduled returns non-terminal orders with a persisted pending
// transition, used to recover timers after a process restart.
func (r *Repository) ListScheduled(ctx context.Context) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE next_transition_at IS NOT NULL
		  AND status IN ($1, $2, $3)`

	rows, err := r.db.Query(ctx, query, models.StatusConfirmed, models.StatusPreparing, models.StatusOutForDelivery)
	if err != nil {
		return nil, fmt.Errorf("repository.ListScheduled: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := r.scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository.ListScheduled.scanOrder: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.ListScheduled.rows: %w", err)
	}
	return orders, nil
}

// LatestTrackingEvent returns the newest log entry for an order, or nil when
// the log is empty. The (order_id, created_at) index keeps this a tail read
// rather than a rescan.
func (r *Repository) LatestTrackingEvent(ctx context.Context, orderID string) (*models.TrackingEvent, error) {
	const query = `
		SELECT id, order_id, status, message, agent_name, agent_phone, agent_vehicle, agent_rating, created_at
		FROM tracking_events
		WHERE order_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	ev, err := scanTrackingEvent(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository.LatestTrackingEvent: %w", err)
	}
	return ev, nil
}

func insertTrackingEvent(ctx context.Context, tx pgx.Tx, ev *models.TrackingEvent) error {
	var name, phone, vehicle *string
	var rating *float64
	if ev.AgentSnapshot != nil {
		name = &ev.AgentSnapshot.Name
		phone = &ev.AgentSnapshot.Phone
		vehicle = &ev.AgentSnapshot.Vehicle
		rating = &ev.AgentSnapshot.Rating
	}
	const query = `
		INSERT INTO tracking_events (order_id, status, message, agent_name, agent_phone, agent_vehicle, agent_rating)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	err := tx.QueryRow(ctx, query,
		ev.OrderID, ev.Status, ev.Message, name, phone, vehicle, rating,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert tracking event: %w", err)
	}
	return nil
}

func (r *Repository) scanOrder(row pgx.Row) (*models.Order, error) {
	var order models.Order
	var agentID, agentName, agentPhone, agentVehicle *string
	var agentRating *float64

	err := row.Scan(
		&order.ID, &order.UserID, &order.PaymentMethod, &order.Total, &order.Status,
		&order.IsPaid, &order.PaidAt, &order.IsDelivered, &order.DeliveredAt,
		&agentID, &agentName, &agentPhone, &agentVehicle, &agentRating,
		&order.EstimatedDeliveryTime, &order.NextTransitionAt,
		&order.ShippingInfo.FullName, &order.ShippingInfo.Email,
		&order.ShippingInfo.Address, &order.ShippingInfo.City, &order.ShippingInfo.Pincode, &order.ShippingInfo.Phone,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	order.AgentID = derefString(agentID)
	if agentName != nil {
		order.AssignedAgent = &models.AgentSnapshot{
			Name:    *agentName,
			Phone:   derefString(agentPhone),
			Vehicle: derefString(agentVehicle),
			Rating:  derefFloat(agentRating),
		}
	}
	return &order, nil
}

func (r *Repository) loadItems(ctx context.Context, order *models.Order) error {
	rows, err := r.db.Query(ctx,
		`SELECT product_id, name, quantity, price FROM order_items WHERE order_id = $1 ORDER BY id`,
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Quantity, &item.Price); err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}

func (r *Repository) loadTrackingLog(ctx context.Context, order *models.Order) error {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, status, message, agent_name, agent_phone, agent_vehicle, agent_rating, created_at
		FROM tracking_events
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC`,
		order.ID,
	)
	if err != nil {
		return fmt.Errorf("load tracking log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanTrackingEvent(rows)
		if err != nil {
			return fmt.Errorf("scan tracking event: %w", err)
		}
		order.TrackingLog = append(order.TrackingLog, *ev)
	}
	return rows.Err()
}

func scanTrackingEvent(row pgx.Row) (*models.TrackingEvent, error) {
	var ev models.TrackingEvent
	var name, phone, vehicle *string
	var rating *float64
	err := row.Scan(&ev.ID, &ev.OrderID, &ev.Status, &ev.Message, &name, &phone, &vehicle, &rating, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	if name != nil {
		ev.AgentSnapshot = &models.AgentSnapshot{
			Name:    *name,
			Phone:   derefString(phone),
			Vehicle: derefString(vehicle),
			Rating:  derefFloat(rating),
		}
	}
	return &ev, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
