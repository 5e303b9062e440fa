// Package ledger reconciles delivered meals against paid meals.
//
// Tracking and paid-tracking records share one fixed shape: a Sheet maps a
// day of the month to the three meal slots of that day. Every consumer of the
// two records (tracking, billing, payments, vendor revenue) goes through
// Reconcile so the counting rules live in one place.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrInvalidDay = errors.New("day is outside the month")

type MealType string

const (
	Breakfast MealType = "breakfast"
	Lunch     MealType = "lunch"
	Dinner    MealType = "dinner"
)

// MealTypes is the canonical slot order.
var MealTypes = []MealType{Breakfast, Lunch, Dinner}

func ParseMealType(value string) (MealType, error) {
	switch MealType(strings.ToLower(strings.TrimSpace(value))) {
	case Breakfast:
		return Breakfast, nil
	case Lunch:
		return Lunch, nil
	case Dinner:
		return Dinner, nil
	default:
		return "", fmt.Errorf("unknown meal type %q", value)
	}
}

type DayMeals struct {
	Breakfast bool `json:"breakfast"`
	Lunch     bool `json:"lunch"`
	Dinner    bool `json:"dinner"`
}

func (d DayMeals) Get(meal MealType) bool {
	switch meal {
	case Breakfast:
		return d.Breakfast
	case Lunch:
		return d.Lunch
	case Dinner:
		return d.Dinner
	default:
		return false
	}
}

func (d DayMeals) With(meal MealType, value bool) DayMeals {
	switch meal {
	case Breakfast:
		d.Breakfast = value
	case Lunch:
		d.Lunch = value
	case Dinner:
		d.Dinner = value
	}
	return d
}

func (d DayMeals) Count() int {
	n := 0
	for _, meal := range MealTypes {
		if d.Get(meal) {
			n++
		}
	}
	return n
}

func (d DayMeals) IsEmpty() bool {
	return !d.Breakfast && !d.Lunch && !d.Dinner
}

// Union marks every slot set in either value.
func (d DayMeals) Union(other DayMeals) DayMeals {
	return DayMeals{
		Breakfast: d.Breakfast || other.Breakfast,
		Lunch:     d.Lunch || other.Lunch,
		Dinner:    d.Dinner || other.Dinner,
	}
}

// Minus keeps slots set in d but not in other.
func (d DayMeals) Minus(other DayMeals) DayMeals {
	return DayMeals{
		Breakfast: d.Breakfast && !other.Breakfast,
		Lunch:     d.Lunch && !other.Lunch,
		Dinner:    d.Dinner && !other.Dinner,
	}
}

// Sheet maps a day of the month (1-based) to its meal slots.
type Sheet map[int]DayMeals

func (s Sheet) Validate(month Month) error {
	days := month.Days()
	for day := range s {
		if day < 1 || day > days {
			return fmt.Errorf("%w: %d not in 1..%d for %s", ErrInvalidDay, day, days, month)
		}
	}
	return nil
}

// Normalize returns a copy without empty days.
func (s Sheet) Normalize() Sheet {
	out := make(Sheet, len(s))
	for day, meals := range s {
		if meals.IsEmpty() {
			continue
		}
		out[day] = meals
	}
	return out
}

func (s Sheet) Clone() Sheet {
	out := make(Sheet, len(s))
	for day, meals := range s {
		out[day] = meals
	}
	return out
}

func (s Sheet) Get(day int, meal MealType) bool {
	return s[day].Get(meal)
}

// Set mutates the sheet in place; a nil sheet must not be used.
func (s Sheet) Set(day int, meal MealType, value bool) {
	meals := s[day].With(meal, value)
	if meals.IsEmpty() {
		delete(s, day)
		return
	}
	s[day] = meals
}

func (s Sheet) Count() int {
	n := 0
	for _, meals := range s {
		n += meals.Count()
	}
	return n
}

// SortedDays lists the days present in ascending order.
func (s Sheet) SortedDays() []int {
	days := make([]int, 0, len(s))
	for day := range s {
		days = append(days, day)
	}
	sort.Ints(days)
	return days
}

// PendingSheet returns meals delivered but not yet paid.
func PendingSheet(tracking, paid Sheet) Sheet {
	return tracking.Minus(paid)
}

// MergePaid marks every meal in covered as paid.
func MergePaid(paid, covered Sheet) Sheet {
	out := paid.Clone()
	for day, meals := range covered {
		merged := out[day].Union(meals)
		if !merged.IsEmpty() {
			out[day] = merged
		}
	}
	return out
}

// Minus returns the slots set in s but not in other.
func (s Sheet) Minus(other Sheet) Sheet {
	out := Sheet{}
	for day, meals := range s {
		rest := meals.Minus(other[day])
		if !rest.IsEmpty() {
			out[day] = rest
		}
	}
	return out
}

// PaidConflicts lists paid slots that proposed would un-deliver.
func PaidConflicts(proposed, paid Sheet) Sheet {
	return paid.Minus(proposed)
}
