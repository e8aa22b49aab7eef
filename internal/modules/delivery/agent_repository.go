package delivery

import (
	"context"
	"errors"
	"fmt"

	"track-and-trace/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AgentRepository implements AgentStore against PostgreSQL.
type AgentRepository struct {
	db *pgxpool.Pool
}

func NewAgentRepository(db *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{db: db}
}

// FindBestAvailable returns the free agent with the fewest total deliveries,
// which load-balances assignments across the fleet.
func (r *AgentRepository) FindBestAvailable(ctx context.Context) (*models.DeliveryAgent, error) {
	const query = `
		SELECT id, name, phone, vehicle, rating, is_available, total_deliveries, created_at, updated_at
		FROM delivery_agents
		WHERE is_available = TRUE
		ORDER BY total_deliveries ASC
		LIMIT 1`

	a := &models.DeliveryAgent{}
	err := r.db.QueryRow(ctx, query).Scan(
		&a.ID, &a.Name, &a.Phone, &a.Vehicle, &a.Rating,
		&a.IsAvailable, &a.TotalDeliveries, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrAgentUnavailable
		}
		return nil, fmt.Errorf("repository.FindBestAvailable: %w", err)
	}
	return a, nil
}

// MarkAssigned atomically claims the agent. The WHERE clause re-checks
// availability so two orders confirming at the same moment cannot both bind
// the same courier; the loser sees zero rows affected.
func (r *AgentRepository) MarkAssigned(ctx context.Context, agentID string) (bool, error) {
	const query = `
		UPDATE delivery_agents
		SET is_available = FALSE,
		    total_deliveries = total_deliveries + 1,
		    updated_at = NOW()
		WHERE id = $1 AND is_available = TRUE`

	cmd, err := r.db.Exec(ctx, query, agentID)
	if err != nil {
		return false, fmt.Errorf("repository.MarkAssigned: %w", err)
	}
	return cmd.RowsAffected() > 0, nil
}

// MarkAvailable releases the agent after a completed or cancelled delivery.
func (r *AgentRepository) MarkAvailable(ctx context.Context, agentID string) error {
	const query = `
		UPDATE delivery_agents
		SET is_available = TRUE,
		    updated_at = NOW()
		WHERE id = $1`

	cmd, err := r.db.Exec(ctx, query, agentID)
	if err != nil {
		return fmt.Errorf("repository.MarkAvailable: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
