package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/tably/grouporder-server/internal/model"
)

// ChargeRequest is one participant's share of a finalized group order.
type ChargeRequest struct {
	SessionID        string
	ParticipantID    string
	Amount           decimal.Decimal
	PaymentMethodRef string
	Description      string
}

// Gateway charges a single participant. Implementations must respect the
// context deadline; the engine treats a timeout as a failed charge and takes
// the conservative cancellation path rather than assuming money moved.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) model.ChargeOutcome
}
