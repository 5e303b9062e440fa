package ledger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const maxMonthSpan = 24

var ErrInvalidMonth = errors.New("month must be formatted as YYYY-MM")

// Month is a calendar month. The zero value is not a valid month.
type Month struct {
	Year  int
	Month time.Month
}

func ParseMonth(value string) (Month, error) {
	trimmed := strings.TrimSpace(value)
	parts := strings.Split(trimmed, "-")
	if len(parts) != 2 || len(parts[0]) != 4 || len(parts[1]) != 2 {
		return Month{}, ErrInvalidMonth
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 2000 || year > 9999 {
		return Month{}, ErrInvalidMonth
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return Month{}, ErrInvalidMonth
	}
	return Month{Year: year, Month: time.Month(month)}, nil
}

func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// Days returns the number of days in the month.
func (m Month) Days() int {
	return time.Date(m.Year, m.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (m Month) First() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (m Month) Next() Month {
	return MonthOf(m.First().AddDate(0, 1, 0))
}

func (m Month) Prev() Month {
	return MonthOf(m.First().AddDate(0, -1, 0))
}

func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Month) UnmarshalText(text []byte) error {
	parsed, err := ParseMonth(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MonthsBetween lists from..to inclusive in ascending order.
func MonthsBetween(from, to Month) ([]Month, error) {
	if to.Before(from) {
		return nil, errors.New("range end is before range start")
	}
	months := []Month{}
	for m := from; !to.Before(m); m = m.Next() {
		months = append(months, m)
		if len(months) > maxMonthSpan {
			return nil, fmt.Errorf("range exceeds %d months", maxMonthSpan)
		}
	}
	return months, nil
}
