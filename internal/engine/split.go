package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "github.com/tably/grouporder-server/internal/errors"
	"github.com/tably/grouporder-server/internal/model"
)

// fractionEpsilon bounds how far custom fractions may drift from summing to 1
// before the configuration is rejected instead of silently normalized.
var fractionEpsilon = decimal.NewFromFloat(1e-6)

// ComputeSplit is a pure function from an item snapshot, participant list and
// split policy to per-participant owed amounts. Only Active participants and
// their items count. The returned amounts always sum exactly to the total:
// remainder cents are assigned deterministically in join order. Spending
// limits are checked here so an over-limit share fails before any gateway
// call is issued.
func ComputeSplit(
	items []model.LineItem,
	participants []model.Participant,
	split model.PaymentSplit,
	limits map[string]decimal.Decimal,
) (map[string]decimal.Decimal, error) {
	active := make([]model.Participant, 0, len(participants))
	activeSet := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p.Status == model.ParticipantStatusActive {
			active = append(active, p)
			activeSet[p.ID] = true
		}
	}

	total := decimal.Zero
	for _, item := range items {
		if activeSet[item.AddedBy] {
			total = total.Add(item.Total())
		}
	}

	var owed map[string]decimal.Decimal
	var err error
	switch split.Method {
	case model.SplitEqual:
		owed, err = splitEqual(total, active)
	case model.SplitByItems:
		owed, err = splitByItems(items, active, activeSet)
	case model.SplitCustom:
		owed, err = splitCustom(total, active, activeSet, split.CustomSplits)
	default:
		err = apperrors.InvalidSplitConfiguration(fmt.Sprintf("unknown split method %q", split.Method))
	}
	if err != nil {
		return nil, err
	}

	for id, amount := range owed {
		if limit, ok := limits[id]; ok && amount.GreaterThan(limit) {
			return nil, apperrors.SpendingLimitExceeded(id).WithDetails(map[string]string{
				"participantId": id,
				"owed":          amount.StringFixed(2),
				"limit":         limit.StringFixed(2),
			})
		}
	}
	return owed, nil
}

func splitEqual(total decimal.Decimal, active []model.Participant) (map[string]decimal.Decimal, error) {
	if len(active) == 0 {
		return nil, apperrors.InvalidSplitConfiguration("no active participants to split between")
	}

	cents := toCents(total)
	n := int64(len(active))
	base := cents / n
	remainder := cents % n

	owed := make(map[string]decimal.Decimal, len(active))
	for i, p := range active {
		share := base
		if int64(i) < remainder {
			share++
		}
		owed[p.ID] = fromCents(share)
	}
	return owed, nil
}

func splitByItems(items []model.LineItem, active []model.Participant, activeSet map[string]bool) (map[string]decimal.Decimal, error) {
	owed := make(map[string]decimal.Decimal, len(active))
	for _, p := range active {
		owed[p.ID] = decimal.Zero
	}
	for _, item := range items {
		if activeSet[item.AddedBy] {
			owed[item.AddedBy] = owed[item.AddedBy].Add(item.Total())
		}
	}
	return owed, nil
}

func splitCustom(
	total decimal.Decimal,
	active []model.Participant,
	activeSet map[string]bool,
	shares map[string]model.CustomShare,
) (map[string]decimal.Decimal, error) {
	if len(shares) == 0 {
		return nil, apperrors.InvalidSplitConfiguration("custom split requires at least one share")
	}

	fractions := 0
	amounts := 0
	for id, share := range shares {
		if !activeSet[id] {
			return nil, apperrors.InvalidSplitConfiguration(
				fmt.Sprintf("custom split references participant %s who is not active", id))
		}
		switch {
		case share.Fraction != nil && share.Amount != nil:
			return nil, apperrors.InvalidSplitConfiguration("custom share must set fraction or amount, not both")
		case share.Fraction != nil:
			fractions++
		case share.Amount != nil:
			amounts++
		default:
			return nil, apperrors.InvalidSplitConfiguration("custom share must set fraction or amount")
		}
	}
	if fractions > 0 && amounts > 0 {
		return nil, apperrors.InvalidSplitConfiguration("custom split must not mix fractions and amounts")
	}

	owed := make(map[string]decimal.Decimal, len(active))
	for _, p := range active {
		owed[p.ID] = decimal.Zero
	}

	if amounts > 0 {
		sum := decimal.Zero
		for id, share := range shares {
			if share.Amount.IsNegative() {
				return nil, apperrors.InvalidSplitConfiguration(
					fmt.Sprintf("amount for participant %s must not be negative", id))
			}
			owed[id] = *share.Amount
			sum = sum.Add(*share.Amount)
		}
		if !sum.Equal(total) {
			return nil, apperrors.InvalidSplitConfiguration(
				fmt.Sprintf("custom amounts sum to %s, total is %s", sum.StringFixed(2), total.StringFixed(2)))
		}
		return owed, nil
	}

	one := decimal.NewFromInt(1)
	sum := decimal.Zero
	for id, share := range shares {
		f := *share.Fraction
		if f.IsNegative() || f.GreaterThan(one) {
			return nil, apperrors.InvalidSplitConfiguration(
				fmt.Sprintf("fraction for participant %s must be between 0 and 1", id))
		}
		sum = sum.Add(f)
	}
	if sum.Sub(one).Abs().GreaterThan(fractionEpsilon) {
		return nil, apperrors.InvalidSplitConfiguration(
			fmt.Sprintf("custom fractions sum to %s, expected 1", sum.String()))
	}

	// Floor each share to whole cents, then walk the share holders in join
	// order handing out (or clawing back) one cent at a time until the owed
	// amounts sum exactly to the total. Fractions inside the epsilon can
	// leave more than one cent per holder on a large total, so a single
	// pass is not enough.
	totalCents := toCents(total)
	assigned := int64(0)
	centsByID := make(map[string]int64, len(shares))
	for id, share := range shares {
		c := decimal.NewFromInt(totalCents).Mul(*share.Fraction).IntPart()
		centsByID[id] = c
		assigned += c
	}

	holders := make([]string, 0, len(shares))
	for _, p := range active {
		if _, ok := shares[p.ID]; ok {
			holders = append(holders, p.ID)
		}
	}

	leftover := totalCents - assigned
	for i := 0; leftover > 0; i = (i + 1) % len(holders) {
		centsByID[holders[i]]++
		leftover--
	}
	for i := 0; leftover < 0; i = (i + 1) % len(holders) {
		if centsByID[holders[i]] > 0 {
			centsByID[holders[i]]--
			leftover++
		}
	}

	for id, c := range centsByID {
		owed[id] = fromCents(c)
	}
	return owed, nil
}

func toCents(d decimal.Decimal) int64 {
	return d.Round(2).Mul(decimal.NewFromInt(100)).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
