// Package notify tells vendors about customer payments.
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentNotice struct {
	VendorChatID int64
	VendorName   string
	CustomerName string
	Months       []string
	Amount       decimal.Decimal
	Reference    string
}

func (n PaymentNotice) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Payment received from %s\n", n.CustomerName)
	fmt.Fprintf(&b, "Amount: INR %s\n", n.Amount.StringFixed(2))
	fmt.Fprintf(&b, "Months: %s\n", strings.Join(n.Months, ", "))
	if n.Reference != "" {
		fmt.Fprintf(&b, "UPI ref: %s\n", n.Reference)
	}
	return b.String()
}

type Notifier interface {
	PaymentConfirmed(ctx context.Context, notice PaymentNotice) error
}

// Nop drops every notice.
type Nop struct{}

func (Nop) PaymentConfirmed(context.Context, PaymentNotice) error { return nil }

// Telegram posts notices to the vendor's chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	logger *zap.Logger
}

func NewTelegram(token string, logger *zap.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	logger.Info("telegram notifier ready", zap.String("bot", bot.Self.UserName))
	return &Telegram{bot: bot, logger: logger}, nil
}

func (t *Telegram) PaymentConfirmed(ctx context.Context, notice PaymentNotice) error {
	if notice.VendorChatID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(notice.VendorChatID, notice.Text())
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	t.logger.Debug("payment notice sent", zap.Int64("chat", notice.VendorChatID))
	return nil
}

// New picks the Telegram notifier when a token is configured.
func New(token string, logger *zap.Logger) Notifier {
	if strings.TrimSpace(token) == "" {
		return Nop{}
	}
	tg, err := NewTelegram(token, logger)
	if err != nil {
		logger.Warn("telegram notifier disabled", zap.Error(err))
		return Nop{}
	}
	return tg
}
