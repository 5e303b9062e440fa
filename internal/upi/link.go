// Package upi builds UPI payment deep links.
package upi

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const maxNoteLength = 80

var vpaPattern = regexp.MustCompile(`^[a-zA-Z0-9.\-_]{2,256}@[a-zA-Z][a-zA-Z0-9.\-]{1,64}$`)

type Request struct {
	PayeeVPA  string
	PayeeName string
	Amount    decimal.Decimal
	Note      string
	Reference string
}

func ValidVPA(vpa string) bool {
	return vpaPattern.MatchString(strings.TrimSpace(vpa))
}

// Link returns a upi://pay URI understood by UPI apps.
func Link(req Request) (string, error) {
	vpa := strings.TrimSpace(req.PayeeVPA)
	if !ValidVPA(vpa) {
		return "", errors.New("vendor has no valid UPI id")
	}
	if !req.Amount.IsPositive() {
		return "", errors.New("amount must be positive")
	}

	note := strings.TrimSpace(req.Note)
	if len(note) > maxNoteLength {
		note = note[:maxNoteLength]
	}

	params := []string{
		"pa=" + url.QueryEscape(vpa),
		"pn=" + escape(req.PayeeName),
		"am=" + req.Amount.StringFixed(2),
		"cu=INR",
	}
	if note != "" {
		params = append(params, "tn="+escape(note))
	}
	if ref := strings.TrimSpace(req.Reference); ref != "" {
		params = append(params, "tr="+escape(ref))
	}
	return "upi://pay?" + strings.Join(params, "&"), nil
}

// UPI apps expect %20 rather than '+' for spaces.
func escape(value string) string {
	return strings.ReplaceAll(url.QueryEscape(strings.TrimSpace(value)), "+", "%20")
}
