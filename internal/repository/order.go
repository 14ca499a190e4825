package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tably/grouporder-server/internal/model"
)

type OrderRepository interface {
	Save(ctx context.Context, order model.OrderRecord) error
	FindByID(ctx context.Context, id string) (*model.OrderRecord, error)
	FindBySessionID(ctx context.Context, sessionID string) (*model.OrderRecord, error)
	ListByRestaurant(ctx context.Context, restaurantID string, limit int) ([]model.OrderRecord, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) OrderRepository
}

type orderRepo struct {
	db sessionDB
}

func NewOrderRepository(db *sqlx.DB) OrderRepository {
	return &orderRepo{db: db}
}

func (r *orderRepo) WithTx(tx *sqlx.Tx) OrderRepository {
	return &orderRepo{db: tx}
}

type orderRow struct {
	ID           string    `db:"id"`
	SessionID    string    `db:"session_id"`
	RestaurantID string    `db:"restaurant_id"`
	Total        string    `db:"total"`
	Record       []byte    `db:"record"`
	PlacedAt     time.Time `db:"placed_at"`
}

func (r *orderRepo) Save(ctx context.Context, order model.OrderRecord) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order record: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO group_orders (id, session_id, restaurant_id, total, record, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, order.ID, order.SessionID, order.RestaurantID, order.Total.StringFixed(2), data, order.PlacedAt)
	return err
}

func (r *orderRepo) FindByID(ctx context.Context, id string) (*model.OrderRecord, error) {
	var row orderRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM group_orders WHERE id = $1
	`, id)
	found, err := HandleNotFound(&row, err)
	if err != nil || found == nil {
		return nil, err
	}
	return decodeOrderRow(*found)
}

func (r *orderRepo) FindBySessionID(ctx context.Context, sessionID string) (*model.OrderRecord, error) {
	var row orderRow
	err := r.db.GetContext(ctx, &row, `
		SELECT * FROM group_orders WHERE session_id = $1
	`, sessionID)
	found, err := HandleNotFound(&row, err)
	if err != nil || found == nil {
		return nil, err
	}
	return decodeOrderRow(*found)
}

func (r *orderRepo) ListByRestaurant(ctx context.Context, restaurantID string, limit int) ([]model.OrderRecord, error) {
	var rows []orderRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM group_orders
		WHERE restaurant_id = $1
		ORDER BY placed_at DESC
		LIMIT $2
	`, restaurantID, limit)
	if err != nil {
		return nil, err
	}

	orders := make([]model.OrderRecord, 0, len(rows))
	for _, row := range rows {
		order, err := decodeOrderRow(row)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func decodeOrderRow(row orderRow) (*model.OrderRecord, error) {
	var order model.OrderRecord
	if err := json.Unmarshal(row.Record, &order); err != nil {
		return nil, fmt.Errorf("unmarshal order record %s: %w", row.ID, err)
	}
	return &order, nil
}
