package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ChargeStatus string

const (
	ChargeStatusSucceeded ChargeStatus = "succeeded"
	ChargeStatusFailed    ChargeStatus = "failed"
)

// ChargeOutcome is one participant's result from the payment gateway during
// finalization. Failures carry the reason so the caller can reconcile or
// refund the charges that did land.
type ChargeOutcome struct {
	ParticipantID string          `json:"participantId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        ChargeStatus    `json:"status"`
	Reference     string          `json:"reference,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
}

// OrderRecord is the downstream restaurant order produced by a successful
// placeOrder, with the frozen totals and every charge outcome.
type OrderRecord struct {
	ID           string                     `json:"id"`
	SessionID    string                     `json:"sessionId"`
	RestaurantID string                     `json:"restaurantId"`
	TableID      string                     `json:"tableId,omitempty"`
	Total        decimal.Decimal            `json:"total"`
	Split        map[string]decimal.Decimal `json:"split"`
	Items        []LineItem                 `json:"items"`
	Charges      []ChargeOutcome            `json:"charges"`
	PlacedAt     time.Time                  `json:"placedAt"`
}
