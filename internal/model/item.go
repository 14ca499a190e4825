package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type LineItem struct {
	ID             string          `json:"id"`
	MenuItemID     string          `json:"menuItemId"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	Quantity       int             `json:"quantity"`
	Customizations []string        `json:"customizations,omitempty"`
	AddedBy        string          `json:"addedBy"`
	AddedAt        time.Time       `json:"addedAt"`
	LastModifiedBy string          `json:"lastModifiedBy"`
	LastModifiedAt time.Time       `json:"lastModifiedAt"`
	Version        int64           `json:"version"`
}

// Total is the line total, unit price times quantity.
func (i LineItem) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// NewItem is the caller-supplied shape for addItems. The menu catalog lives
// in the dashboard's CRUD layer, so name and price arrive resolved.
type NewItem struct {
	MenuItemID     string          `json:"menuItemId"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	Quantity       int             `json:"quantity"`
	Customizations []string        `json:"customizations,omitempty"`
}

// ItemPatch carries the fields updateItem may change. Nil fields are left
// untouched.
type ItemPatch struct {
	Quantity       *int      `json:"quantity,omitempty"`
	Customizations *[]string `json:"customizations,omitempty"`
}
