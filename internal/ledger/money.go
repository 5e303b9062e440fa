package ledger

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// FormatAmount renders an INR amount with exactly two decimal places.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// MarshalJSON writes every rate as a two-place decimal string.
func (r Rates) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Breakfast string `json:"breakfast"`
		Lunch     string `json:"lunch"`
		Dinner    string `json:"dinner"`
	}{
		Breakfast: FormatAmount(r.Breakfast),
		Lunch:     FormatAmount(r.Lunch),
		Dinner:    FormatAmount(r.Dinner),
	})
}

// MarshalJSON writes every amount as a two-place decimal string. Decoding
// uses the default field rules, which accept the same strings.
func (t Tally) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Delivered       int    `json:"delivered"`
		Paid            int    `json:"paid"`
		Pending         int    `json:"pending"`
		Credit          int    `json:"credit"`
		DeliveredAmount string `json:"deliveredAmount"`
		PaidAmount      string `json:"paidAmount"`
		PendingAmount   string `json:"pendingAmount"`
		CreditAmount    string `json:"creditAmount"`
	}{
		Delivered:       t.Delivered,
		Paid:            t.Paid,
		Pending:         t.Pending,
		Credit:          t.Credit,
		DeliveredAmount: FormatAmount(t.DeliveredAmount),
		PaidAmount:      FormatAmount(t.PaidAmount),
		PendingAmount:   FormatAmount(t.PendingAmount),
		CreditAmount:    FormatAmount(t.CreditAmount),
	})
}
