package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/tably/grouporder-server/internal/errors"
	"github.com/tably/grouporder-server/internal/model"
)

// itemLedger owns one session's line items. Like participantManager it runs
// under the owning session's lock; the version counter exists for the one
// race serialization cannot see, the same author editing an item from two of
// their own devices back to back.
type itemLedger struct {
	ordered []*model.LineItem
	byID    map[string]*model.LineItem
}

func newItemLedger() *itemLedger {
	return &itemLedger{byID: make(map[string]*model.LineItem)}
}

// add validates the spending limit before appending. limit is nil when the
// participant has no cap.
func (l *itemLedger) add(participantID string, req model.NewItem, limit *decimal.Decimal, now time.Time) (*model.LineItem, error) {
	if req.Quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity", "must be positive")
	}
	if req.UnitPrice.IsNegative() {
		return nil, apperrors.InvalidInput("unitPrice", "must not be negative")
	}

	lineTotal := req.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
	if limit != nil && l.totalFor(participantID).Add(lineTotal).GreaterThan(*limit) {
		return nil, apperrors.SpendingLimitExceeded(participantID).
			WithDetails(map[string]string{"participantId": participantID, "limit": limit.StringFixed(2)})
	}

	item := &model.LineItem{
		ID:             uuid.NewString(),
		MenuItemID:     req.MenuItemID,
		Name:           req.Name,
		UnitPrice:      req.UnitPrice,
		Quantity:       req.Quantity,
		Customizations: append([]string(nil), req.Customizations...),
		AddedBy:        participantID,
		AddedAt:        now,
		LastModifiedBy: participantID,
		LastModifiedAt: now,
		Version:        1,
	}
	l.ordered = append(l.ordered, item)
	l.byID[item.ID] = item
	return item, nil
}

// update is the optimistic-concurrency write. A mismatched expectedVersion
// yields VERSION_CONFLICT and leaves the item untouched; the caller re-reads
// and retries.
func (l *itemLedger) update(itemID string, expectedVersion int64, patch model.ItemPatch, modifiedBy string, limit *decimal.Decimal, now time.Time) (*model.LineItem, error) {
	item := l.byID[itemID]
	if item == nil {
		return nil, apperrors.NotFound("line item")
	}
	if item.Version != expectedVersion {
		return nil, apperrors.VersionConflict(itemID, expectedVersion, item.Version)
	}

	quantity := item.Quantity
	if patch.Quantity != nil {
		if *patch.Quantity <= 0 {
			return nil, apperrors.InvalidInput("quantity", "must be positive")
		}
		quantity = *patch.Quantity
	}

	if limit != nil && quantity > item.Quantity {
		grown := item.UnitPrice.Mul(decimal.NewFromInt(int64(quantity - item.Quantity)))
		if l.totalFor(item.AddedBy).Add(grown).GreaterThan(*limit) {
			return nil, apperrors.SpendingLimitExceeded(item.AddedBy)
		}
	}

	item.Quantity = quantity
	if patch.Customizations != nil {
		item.Customizations = append([]string(nil), (*patch.Customizations)...)
	}
	item.LastModifiedBy = modifiedBy
	item.LastModifiedAt = now
	item.Version++
	return item, nil
}

// remove deletes an item. Only the original author or the host may do so.
func (l *itemLedger) remove(itemID, requestedBy string, isHost bool) (*model.LineItem, error) {
	item := l.byID[itemID]
	if item == nil {
		return nil, apperrors.NotFound("line item")
	}
	if item.AddedBy != requestedBy && !isHost {
		return nil, apperrors.Unauthorized("only the item's author or the host may remove it")
	}

	delete(l.byID, itemID)
	for i, it := range l.ordered {
		if it.ID == itemID {
			l.ordered = append(l.ordered[:i], l.ordered[i+1:]...)
			break
		}
	}
	return item, nil
}

// transferTo reassigns every item added by from to the host. Used only under
// the transfer_to_host removed-item policy.
func (l *itemLedger) transferTo(from, to string, now time.Time) {
	for _, item := range l.ordered {
		if item.AddedBy == from {
			item.AddedBy = to
			item.LastModifiedBy = to
			item.LastModifiedAt = now
			item.Version++
		}
	}
}

// totalFor sums the line totals attributed to one participant.
func (l *itemLedger) totalFor(participantID string) decimal.Decimal {
	total := decimal.Zero
	for _, item := range l.ordered {
		if item.AddedBy == participantID {
			total = total.Add(item.Total())
		}
	}
	return total
}

// totalActive sums the line totals attributed to the given participant set.
func (l *itemLedger) totalActive(activeIDs map[string]bool) decimal.Decimal {
	total := decimal.Zero
	for _, item := range l.ordered {
		if activeIDs[item.AddedBy] {
			total = total.Add(item.Total())
		}
	}
	return total
}

// snapshot returns the items by value in insertion order; callers never see a
// live reference.
func (l *itemLedger) snapshot() []model.LineItem {
	out := make([]model.LineItem, 0, len(l.ordered))
	for _, item := range l.ordered {
		copied := *item
		copied.Customizations = append([]string(nil), item.Customizations...)
		out = append(out, copied)
	}
	return out
}

func (l *itemLedger) restore(items []model.LineItem) {
	for i := range items {
		item := items[i]
		l.ordered = append(l.ordered, &item)
		l.byID[item.ID] = &item
	}
}
