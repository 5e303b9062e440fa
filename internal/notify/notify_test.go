package notify

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPaymentNoticeText(t *testing.T) {
	text := PaymentNotice{
		CustomerName: "Asha",
		Months:       []string{"2025-08", "2025-09"},
		Amount:       decimal.RequireFromString("840"),
		Reference:    "UTR123",
	}.Text()
	assert.Contains(t, text, "Asha")
	assert.Contains(t, text, "INR 840.00")
	assert.Contains(t, text, "2025-08, 2025-09")
	assert.Contains(t, text, "UTR123")
}

func TestNewWithoutTokenIsNop(t *testing.T) {
	n := New("", zap.NewNop())
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.PaymentConfirmed(context.Background(), PaymentNotice{}))
}
