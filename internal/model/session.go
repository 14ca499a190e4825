package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SessionSnapshot is the full serializable state of a group-order session.
// It is what the engine persists after every mutation and what getSession
// returns; the live session in the registry is the authoritative copy.
type SessionSnapshot struct {
	ID                string                     `json:"id"`
	JoinCode          string                     `json:"joinCode"`
	RestaurantID      string                     `json:"restaurantId"`
	TableID           string                     `json:"tableId,omitempty"`
	CreatedBy         Identity                   `json:"createdBy"`
	HostParticipantID string                     `json:"hostParticipantId"`
	Status            SessionStatus              `json:"status"`
	OrderDeadline     *time.Time                 `json:"orderDeadline,omitempty"`
	PaymentSplit      PaymentSplit               `json:"paymentSplit"`
	SpendingLimits    map[string]decimal.Decimal `json:"spendingLimits,omitempty"`
	Participants      []Participant              `json:"participants"`
	Items             []LineItem                 `json:"items"`
	TotalAmount       decimal.Decimal            `json:"totalAmount"`
	CancelReason      string                     `json:"cancelReason,omitempty"`
	CreatedAt         time.Time                  `json:"createdAt"`
	UpdatedAt         time.Time                  `json:"updatedAt"`
}

// CreateSessionParams is the input to SessionRegistry.Create.
type CreateSessionParams struct {
	RestaurantID       string
	TableID            string
	CreatorIdentity    Identity
	ExpirationDuration time.Duration
	PaymentSplit       PaymentSplit
	SpendingLimits     map[string]decimal.Decimal
}
