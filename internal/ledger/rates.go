package ledger

import (
	"errors"

	"github.com/shopspring/decimal"
)

const mealsPerDay = 3

// Rates holds the price of one meal per slot.
type Rates struct {
	Breakfast decimal.Decimal `json:"breakfast"`
	Lunch     decimal.Decimal `json:"lunch"`
	Dinner    decimal.Decimal `json:"dinner"`
}

func (r Rates) For(meal MealType) decimal.Decimal {
	switch meal {
	case Breakfast:
		return r.Breakfast
	case Lunch:
		return r.Lunch
	case Dinner:
		return r.Dinner
	default:
		return decimal.Zero
	}
}

func (r Rates) Validate() error {
	for _, meal := range MealTypes {
		if r.For(meal).IsNegative() {
			return errors.New("meal rates must not be negative")
		}
	}
	return nil
}

// EffectiveRates fills every unset slot with an even share of ratePerDay.
func EffectiveRates(ratePerDay decimal.Decimal, explicit Rates) Rates {
	share := ratePerDay.Div(decimal.NewFromInt(mealsPerDay)).Round(2)
	pick := func(v decimal.Decimal) decimal.Decimal {
		if v.IsPositive() {
			return v
		}
		return share
	}
	return Rates{
		Breakfast: pick(explicit.Breakfast),
		Lunch:     pick(explicit.Lunch),
		Dinner:    pick(explicit.Dinner),
	}
}
