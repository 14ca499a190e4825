package engine

import (
	"context"
	"time"

	"github.com/tably/grouporder-server/internal/metrics"
	"github.com/tably/grouporder-server/internal/model"
	"github.com/tably/grouporder-server/internal/payment"
)

// Store is the key-value-by-ID persistence contract the engine writes
// through. In-memory state stays authoritative for a live session; snapshots
// exist for crash recovery and audit, so a failed save is logged, not fatal.
type Store interface {
	SaveSession(ctx context.Context, snap model.SessionSnapshot) error
	SaveOrder(ctx context.Context, order model.OrderRecord) error
}

// EventSink consumes the one domain event each successful mutation produces.
// Fan-out to participant devices happens downstream.
type EventSink interface {
	Publish(ctx context.Context, event model.Event) error
}

// Deps are the external collaborators shared by every session.
type Deps struct {
	Store   Store
	Events  EventSink
	Gateway payment.Gateway
	Metrics *metrics.Metrics
}

// Config carries the engine-wide policy knobs.
type Config struct {
	MaxActiveSessionsPerRestaurant int
	MaxParticipantsPerSession      int
	MaxSessionTTL                  time.Duration
	IdleExpiry                     time.Duration
	ChargeTimeout                  time.Duration
	RemovedItemPolicy              model.RemovedItemPolicy
}
