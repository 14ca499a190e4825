package repository

import (
	"context"

	apperrors "github.com/tably/grouporder-server/internal/errors"
	"github.com/tably/grouporder-server/internal/model"
)

// Store adapts the session and order repositories to the engine's
// persistence contract.
type Store struct {
	sessions SessionRepository
	orders   OrderRepository
}

func NewStore(sessions SessionRepository, orders OrderRepository) *Store {
	return &Store{sessions: sessions, orders: orders}
}

func (s *Store) SaveSession(ctx context.Context, snap model.SessionSnapshot) error {
	if err := s.sessions.Save(ctx, snap); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

func (s *Store) SaveOrder(ctx context.Context, order model.OrderRecord) error {
	if err := s.orders.Save(ctx, order); err != nil {
		return apperrors.Database(err)
	}
	return nil
}
