package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Tally counts one slot (or the whole month) of a reconciliation.
type Tally struct {
	Delivered       int             `json:"delivered"`
	Paid            int             `json:"paid"`
	Pending         int             `json:"pending"`
	Credit          int             `json:"credit"`
	DeliveredAmount decimal.Decimal `json:"deliveredAmount"`
	PaidAmount      decimal.Decimal `json:"paidAmount"`
	PendingAmount   decimal.Decimal `json:"pendingAmount"`
	CreditAmount    decimal.Decimal `json:"creditAmount"`
}

func (t Tally) add(other Tally) Tally {
	return Tally{
		Delivered:       t.Delivered + other.Delivered,
		Paid:            t.Paid + other.Paid,
		Pending:         t.Pending + other.Pending,
		Credit:          t.Credit + other.Credit,
		DeliveredAmount: t.DeliveredAmount.Add(other.DeliveredAmount),
		PaidAmount:      t.PaidAmount.Add(other.PaidAmount),
		PendingAmount:   t.PendingAmount.Add(other.PendingAmount),
		CreditAmount:    t.CreditAmount.Add(other.CreditAmount),
	}
}

// DayStatus is one calendar cell.
type DayStatus struct {
	Day       int      `json:"day"`
	Delivered DayMeals `json:"delivered"`
	Paid      DayMeals `json:"paid"`
	Pending   DayMeals `json:"pending"`
}

type Summary struct {
	Month     Month       `json:"month"`
	Rates     Rates       `json:"rates"`
	Breakfast Tally       `json:"breakfast"`
	Lunch     Tally       `json:"lunch"`
	Dinner    Tally       `json:"dinner"`
	Total     Tally       `json:"total"`
	Days      []DayStatus `json:"days"`
}

func (s Summary) Slot(meal MealType) Tally {
	switch meal {
	case Breakfast:
		return s.Breakfast
	case Lunch:
		return s.Lunch
	default:
		return s.Dinner
	}
}

func (s *Summary) setSlot(meal MealType, t Tally) {
	switch meal {
	case Breakfast:
		s.Breakfast = t
	case Lunch:
		s.Lunch = t
	case Dinner:
		s.Dinner = t
	}
}

// Reconcile compares a month's delivered sheet against its paid sheet.
// A paid mark only counts when the meal is also delivered; a paid mark on an
// undelivered meal is reported as credit.
func Reconcile(month Month, tracking, paid Sheet, rates Rates) Summary {
	summary := Summary{Month: month, Rates: rates, Days: []DayStatus{}}
	for _, meal := range MealTypes {
		summary.setSlot(meal, zeroTally())
	}
	summary.Total = zeroTally()

	days := month.Days()
	for day := 1; day <= days; day++ {
		delivered := tracking[day]
		paidMeals := paid[day]
		if delivered.IsEmpty() && paidMeals.IsEmpty() {
			continue
		}
		status := DayStatus{Day: day, Delivered: delivered}
		for _, meal := range MealTypes {
			rate := rates.For(meal)
			t := summary.Slot(meal)
			isDelivered := delivered.Get(meal)
			isPaid := paidMeals.Get(meal)
			switch {
			case isDelivered && isPaid:
				t.Delivered++
				t.Paid++
				t.DeliveredAmount = t.DeliveredAmount.Add(rate)
				t.PaidAmount = t.PaidAmount.Add(rate)
				status.Paid = status.Paid.With(meal, true)
			case isDelivered:
				t.Delivered++
				t.Pending++
				t.DeliveredAmount = t.DeliveredAmount.Add(rate)
				t.PendingAmount = t.PendingAmount.Add(rate)
				status.Pending = status.Pending.With(meal, true)
			case isPaid:
				t.Credit++
				t.CreditAmount = t.CreditAmount.Add(rate)
			}
			summary.setSlot(meal, t)
		}
		summary.Days = append(summary.Days, status)
	}

	for _, meal := range MealTypes {
		summary.Total = summary.Total.add(summary.Slot(meal))
	}
	return summary
}

// Statement aggregates several monthly summaries.
type Statement struct {
	Months []Summary `json:"months"`
	Total  Tally     `json:"total"`
}

// Combine orders summaries by month and totals them.
func Combine(summaries ...Summary) Statement {
	months := append([]Summary(nil), summaries...)
	sort.Slice(months, func(i, j int) bool {
		return months[i].Month.Before(months[j].Month)
	})
	total := zeroTally()
	for _, s := range months {
		total = total.add(s.Total)
	}
	if months == nil {
		months = []Summary{}
	}
	return Statement{Months: months, Total: total}
}

// Merge totals summaries of the same month across customers. Per-day cells
// are dropped since they belong to individual customers.
func Merge(month Month, rates Rates, parts ...Summary) Summary {
	out := Summary{Month: month, Rates: rates, Days: []DayStatus{}}
	for _, meal := range MealTypes {
		t := zeroTally()
		for _, p := range parts {
			t = t.add(p.Slot(meal))
		}
		out.setSlot(meal, t)
	}
	out.Total = zeroTally()
	for _, meal := range MealTypes {
		out.Total = out.Total.add(out.Slot(meal))
	}
	return out
}

func zeroTally() Tally {
	return Tally{
		DeliveredAmount: decimal.Zero,
		PaidAmount:      decimal.Zero,
		PendingAmount:   decimal.Zero,
		CreditAmount:    decimal.Zero,
	}
}

// BillStatus derives the settlement state of a month. Nothing left to pay
// counts as paid, even when unpaid meals were free.
func BillStatus(total Tally) string {
	switch {
	case total.Delivered == 0:
		return "empty"
	case !total.PendingAmount.IsPositive():
		return "paid"
	case total.Paid > 0:
		return "partial"
	default:
		return "pending"
	}
}
