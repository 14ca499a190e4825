package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tably/grouporder-server/internal/errors"
	"github.com/tably/grouporder-server/internal/model"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testParticipant(id string, joinedOrder int) model.Participant {
	return model.Participant{
		ID:       id,
		Identity: model.Identity{Name: id},
		Status:   model.ParticipantStatusActive,
		JoinedAt: time.Unix(int64(1700000000+joinedOrder), 0),
	}
}

func testItem(addedBy, price string, quantity int) model.LineItem {
	return model.LineItem{
		ID:        addedBy + "-" + price,
		Name:      "dish",
		UnitPrice: money(price),
		Quantity:  quantity,
		AddedBy:   addedBy,
		Version:   1,
	}
}

func TestComputeSplitEqual(t *testing.T) {
	t.Run("two participants split evenly", func(t *testing.T) {
		participants := []model.Participant{testParticipant("p1", 0), testParticipant("p2", 1)}
		items := []model.LineItem{testItem("p1", "10.00", 1), testItem("p2", "10.00", 1)}

		owed, err := ComputeSplit(items, participants, model.PaymentSplit{Method: model.SplitEqual}, nil)
		require.NoError(t, err)
		assert.True(t, owed["p1"].Equal(money("10.00")), "p1 owes %s", owed["p1"])
		assert.True(t, owed["p2"].Equal(money("10.00")), "p2 owes %s", owed["p2"])
	})

	t.Run("remainder cents go to earliest joiners", func(t *testing.T) {
		participants := []model.Participant{
			testParticipant("p1", 0),
			testParticipant("p2", 1),
			testParticipant("p3", 2),
		}
		items := []model.LineItem{testItem("p1", "10.00", 1)}

		owed, err := ComputeSplit(items, participants, model.PaymentSplit{Method: model.SplitEqual}, nil)
		require.NoError(t, err)
		assert.True(t, owed["p1"].Equal(money("3.34")))
		assert.True(t, owed["p2"].Equal(money("3.33")))
		assert.True(t, owed["p3"].Equal(money("3.33")))
	})

	t.Run("sum equals total for any participant count", func(t *testing.T) {
		items := []model.LineItem{testItem("p1", "17.77", 3)}
		for n := 1; n <= 11; n++ {
			participants := make([]model.Participant, 0, n)
			for i := 0; i < n; i++ {
				participants = append(participants, testParticipant(participantID(i), i))
			}
			items[0].AddedBy = participants[0].ID

			owed, err := ComputeSplit(items, participants, model.PaymentSplit{Method: model.SplitEqual}, nil)
			require.NoError(t, err)

			sum := decimal.Zero
			for _, amount := range owed {
				sum = sum.Add(amount)
			}
			assert.True(t, sum.Equal(money("53.31")), "n=%d sum=%s", n, sum)
		}
	})

	t.Run("left participants are excluded", func(t *testing.T) {
		left := testParticipant("p2", 1)
		left.Status = model.ParticipantStatusLeft
		participants := []model.Participant{testParticipant("p1", 0), left}
		items := []model.LineItem{testItem("p1", "12.00", 1), testItem("p2", "8.00", 1)}

		owed, err := ComputeSplit(items, participants, model.PaymentSplit{Method: model.SplitEqual}, nil)
		require.NoError(t, err)
		assert.Len(t, owed, 1)
		assert.True(t, owed["p1"].Equal(money("12.00")))
	})
}

func participantID(i int) string {
	return string(rune('a'+i)) + "-participant"
}

func TestComputeSplitByItems(t *testing.T) {
	participants := []model.Participant{testParticipant("p1", 0), testParticipant("p2", 1)}
	items := []model.LineItem{
		testItem("p1", "10.00", 2),
		testItem("p2", "4.50", 1),
	}

	owed, err := ComputeSplit(items, participants, model.PaymentSplit{Method: model.SplitByItems}, nil)
	require.NoError(t, err)
	assert.True(t, owed["p1"].Equal(money("20.00")))
	assert.True(t, owed["p2"].Equal(money("4.50")))
}

func TestComputeSplitCustom(t *testing.T) {
	participants := []model.Participant{testParticipant("p1", 0), testParticipant("p2", 1)}
	items := []model.LineItem{testItem("p1", "25.00", 1)}

	t.Run("fractions", func(t *testing.T) {
		f1, f2 := money("0.6"), money("0.4")
		owed, err := ComputeSplit(items, participants, model.PaymentSplit{
			Method: model.SplitCustom,
			CustomSplits: map[string]model.CustomShare{
				"p1": {Fraction: &f1},
				"p2": {Fraction: &f2},
			},
		}, nil)
		require.NoError(t, err)
		assert.True(t, owed["p1"].Equal(money("15.00")), "p1 owes %s", owed["p1"])
		assert.True(t, owed["p2"].Equal(money("10.00")), "p2 owes %s", owed["p2"])
	})

	t.Run("fraction remainder cents sum exactly", func(t *testing.T) {
		third := money("1").Div(money("3")).Round(6)
		owed, err := ComputeSplit(items, []model.Participant{
			testParticipant("p1", 0), testParticipant("p2", 1), testParticipant("p3", 2),
		}, model.PaymentSplit{
			Method: model.SplitCustom,
			CustomSplits: map[string]model.CustomShare{
				"p1": {Fraction: &third},
				"p2": {Fraction: &third},
				"p3": {Fraction: &third},
			},
		}, nil)
		require.NoError(t, err)

		sum := decimal.Zero
		for _, amount := range owed {
			sum = sum.Add(amount)
		}
		assert.True(t, sum.Equal(money("25.00")), "sum=%s", sum)
	})

	t.Run("fraction drift on a large total still sums exactly", func(t *testing.T) {
		bigItems := []model.LineItem{testItem("p1", "1000000.00", 1)}
		low := money("0.333333") // sums to 0.999999, inside tolerance, 100 cents short
		owed, err := ComputeSplit(bigItems, []model.Participant{
			testParticipant("p1", 0), testParticipant("p2", 1), testParticipant("p3", 2),
		}, model.PaymentSplit{
			Method: model.SplitCustom,
			CustomSplits: map[string]model.CustomShare{
				"p1": {Fraction: &low},
				"p2": {Fraction: &low},
				"p3": {Fraction: &low},
			},
		}, nil)
		require.NoError(t, err)

		sum := decimal.Zero
		for _, amount := range owed {
			sum = sum.Add(amount)
		}
		assert.True(t, sum.Equal(money("1000000.00")), "sum=%s", sum)
	})

	t.Run("fractions summing just above one are clawed back to the total", func(t *testing.T) {
		bigItems := []model.LineItem{testItem("p1", "1000000.00", 1)}
		half, over := money("0.5"), money("0.5000005") // sums to 1.0000005, 50 cents over
		owed, err := ComputeSplit(bigItems, participants, model.PaymentSplit{
			Method: model.SplitCustom,
			CustomSplits: map[string]model.CustomShare{
				"p1": {Fraction: &half},
				"p2": {Fraction: &over},
			},
		}, nil)
		require.NoError(t, err)

		sum := decimal.Zero
		for _, amount := range owed {
			require.False(t, amount.IsNegative(), "no share may go negative")
			sum = sum.Add(amount)
		}
		assert.True(t, sum.Equal(money("1000000.00")), "sum=%s", sum)
	})

	t.Run("fractions not summing to one are rejected", func(t *testing.T) {
		f1, f2 := money("0.6"), money("0.3")
		_, err := ComputeSplit(items, participants, model.PaymentSplit{
			Method: model.SplitCustom,
			CustomSplits: map[string]model.CustomShare{
				"p1": {Fraction: &f1},
				"p2": {Fraction: &f2},
			},
		}, nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidSplitConfiguration, apperrors.GetCode(err))
	})

	t.Run("fixed amounts must sum to total", func(t *testing.T) {
		a1, a2 := money("20.00"), money("5.00")
		owed, err := ComputeSplit(items, participants, model.PaymentSplit{
			Method: model.SplitCustom,
			CustomSplits: map[string]model.CustomShare{
				"p1": {Amount: &a1},
				"p2": {Amount: &a2},
			},
		}, nil)
		require.NoError(t, err)
		assert.True(t, owed["p1"].Equal(money("20.00")))
		assert.True(t, owed["p2"].Equal(money("5.00")))

		bad := money("4.00")
		_, err = ComputeSplit(items, participants, model.PaymentSplit{
			Method: model.SplitCustom,
			CustomSplits: map[string]model.CustomShare{
				"p1": {Amount: &a1},
				"p2": {Amount: &bad},
			},
		}, nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidSplitConfiguration, apperrors.GetCode(err))
	})

	t.Run("mixed fractions and amounts are rejected", func(t *testing.T) {
		f, a := money("0.5"), money("12.50")
		_, err := ComputeSplit(items, participants, model.PaymentSplit{
			Method: model.SplitCustom,
			CustomSplits: map[string]model.CustomShare{
				"p1": {Fraction: &f},
				"p2": {Amount: &a},
			},
		}, nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidSplitConfiguration, apperrors.GetCode(err))
	})

	t.Run("share for a left participant is rejected", func(t *testing.T) {
		left := testParticipant("p2", 1)
		left.Status = model.ParticipantStatusLeft
		f1, f2 := money("0.6"), money("0.4")
		_, err := ComputeSplit(items, []model.Participant{testParticipant("p1", 0), left}, model.PaymentSplit{
			Method: model.SplitCustom,
			CustomSplits: map[string]model.CustomShare{
				"p1": {Fraction: &f1},
				"p2": {Fraction: &f2},
			},
		}, nil)
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeInvalidSplitConfiguration, apperrors.GetCode(err))
	})
}

func TestComputeSplitSpendingLimits(t *testing.T) {
	participants := []model.Participant{testParticipant("p1", 0), testParticipant("p2", 1)}
	items := []model.LineItem{testItem("p1", "30.00", 1)}

	t.Run("over-limit share fails before any charge", func(t *testing.T) {
		_, err := ComputeSplit(items, participants, model.PaymentSplit{Method: model.SplitEqual},
			map[string]decimal.Decimal{"p2": money("10.00")})
		require.Error(t, err)
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeSpendingLimitExceeded, appErr.Code)
	})

	t.Run("limit at exactly the owed amount passes", func(t *testing.T) {
		owed, err := ComputeSplit(items, participants, model.PaymentSplit{Method: model.SplitEqual},
			map[string]decimal.Decimal{"p2": money("15.00")})
		require.NoError(t, err)
		assert.True(t, owed["p2"].Equal(money("15.00")))
	})
}
