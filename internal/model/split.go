package model

import "github.com/shopspring/decimal"

// CustomShare is one participant's entry in a custom split. Exactly one of
// Fraction or Amount must be set; the whole map must use the same kind.
type CustomShare struct {
	Fraction *decimal.Decimal `json:"fraction,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
}

// PaymentSplit is the session's split policy. CustomSplits is only consulted
// when Method is SplitCustom.
type PaymentSplit struct {
	Method       SplitMethod            `json:"method"`
	CustomSplits map[string]CustomShare `json:"customSplits,omitempty"`
}
