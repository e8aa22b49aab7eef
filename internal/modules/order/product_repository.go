package order

import (
	"context"
	"errors"
	"fmt"

	"track-and-trace/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProductStore is the slice of the catalog the order flow touches: pricing
// at checkout, stock reservation, and the compensating restore on cancel.
type ProductStore interface {
	FindByID(ctx context.Context, productID string) (*models.Product, error)
	// Reserve decrements stock for every line atomically; if any product
	// cannot cover its quantity the whole reservation is rolled back.
	Reserve(ctx context.Context, items []models.OrderItem) error
	// Restore increments stock back, returning the new levels per product.
	Restore(ctx context.Context, items []models.OrderItem) (map[string]int, error)
}

// ProductRepository implements ProductStore on PostgreSQL.
type ProductRepository struct {
	db *pgxpool.Pool
}

func NewProductRepository(db *pgxpool.Pool) ProductStore {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (*models.Product, error) {
	const query = `SELECT id, name, price, stock FROM products WHERE id = $1`
	var p models.Product
	err := r.db.QueryRow(ctx, query, productID).Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("repository.Product.FindByID: %w", err)
	}
	return &p, nil
}

func (r *ProductRepository) Reserve(ctx context.Context, items []models.OrderItem) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository.Product.Reserve: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		// The stock guard in the WHERE clause prevents overselling under
		// concurrent checkouts.
		cmd, err := tx.Exec(ctx,
			`UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1`,
			item.Quantity, item.ProductID,
		)
		if err != nil {
			return fmt.Errorf("repository.Product.Reserve: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return models.ErrInsufficientStock
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository.Product.Reserve: commit: %w", err)
	}
	return nil
}

func (r *ProductRepository) Restore(ctx context.Context, items []models.OrderItem) (map[string]int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository.Product.Restore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	levels := make(map[string]int, len(items))
	for _, item := range items {
		var stock int
		err := tx.QueryRow(ctx,
			`UPDATE products SET stock = stock + $1 WHERE id = $2 RETURNING stock`,
			item.Quantity, item.ProductID,
		).Scan(&stock)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, models.ErrNotFound
			}
			return nil, fmt.Errorf("repository.Product.Restore: %w", err)
		}
		levels[item.ProductID] = stock
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository.Product.Restore: commit: %w", err)
	}
	return levels, nil
}
