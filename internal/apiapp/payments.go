package apiapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tiffinledger/tiffin/internal/docstore"
	"github.com/tiffinledger/tiffin/internal/ledger"
	"github.com/tiffinledger/tiffin/internal/notify"
	"github.com/tiffinledger/tiffin/internal/upi"
	"go.uber.org/zap"
)

const maxPaymentMonths = 12

type paymentIntentRequest struct {
	Months []string `json:"months"`
}

type confirmPaymentRequest struct {
	Reference string `json:"reference"`
}

func (s *server) paymentsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID := sessionFromContext(r.Context()).AccountID
	payments, err := scanDocs[paymentDoc](r.Context(), s.store, paymentKey(userID, ""))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

// paymentRoutes serves /api/payments/intent and /api/payments/{id}[/confirm|/cancel].
func (s *server) paymentRoutes(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, "/api/payments/")
	switch {
	case len(parts) == 1 && parts[0] == "intent":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.createPaymentIntent(w, r)
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		var payment paymentDoc
		if err := s.store.Get(r.Context(), paymentKey(sessionFromContext(r.Context()).AccountID, parts[0]), &payment); err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payment)
	case len(parts) == 2 && parts[1] == "confirm":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.confirmPayment(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.cancelPayment(w, r, parts[0])
	default:
		http.NotFound(w, r)
	}
}

func parsePaymentMonths(raw []string) ([]ledger.Month, error) {
	if len(raw) == 0 {
		return nil, badRequest("at least one month is required")
	}
	if len(raw) > maxPaymentMonths {
		return nil, badRequest("at most %d months can be paid at once", maxPaymentMonths)
	}
	seen := map[ledger.Month]bool{}
	months := make([]ledger.Month, 0, len(raw))
	for _, value := range raw {
		m, err := ledger.ParseMonth(value)
		if err != nil {
			return nil, badRequest("month %q must be YYYY-MM", value)
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months, nil
}

// createPaymentIntent freezes the meals pending right now so a later confirm
// pays exactly what the user saw.
func (s *server) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req paymentIntentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	months, err := parsePaymentMonths(req.Months)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	userID := sessionFromContext(r.Context()).AccountID

	var payment paymentDoc
	err = s.store.Update(r.Context(), func(tx *docstore.Tx) error {
		var user userDoc
		if err := tx.Get(userKey(userID), &user); err != nil {
			return err
		}
		covered := map[string]ledger.Sheet{}
		total := decimal.Zero
		vendorID := ""
		for _, m := range months {
			view, err := s.service.monthFor(tx, user, m)
			if err != nil {
				return err
			}
			pending := ledger.PendingSheet(view.Tracking, view.Paid)
			if len(pending) == 0 {
				continue
			}
			if vendorID != "" && view.VendorID != vendorID {
				return badRequest("months delivered by different vendors must be paid separately")
			}
			vendorID = view.VendorID
			covered[m.String()] = pending
			total = total.Add(view.Summary.Total.PendingAmount)
		}
		if !total.IsPositive() {
			return unprocessable("nothing is pending for the selected months")
		}

		var vendor vendorDoc
		if err := tx.Get(vendorKey(vendorID), &vendor); err != nil {
			return err
		}
		payment = paymentDoc{
			ID:        uuid.NewString(),
			UserID:    userID,
			VendorID:  vendorID,
			Amount:    total,
			Covered:   covered,
			Status:    paymentInitiated,
			CreatedAt: s.now().UTC(),
		}
		link, err := upi.Link(upi.Request{
			PayeeVPA:  vendor.UPIID,
			PayeeName: vendor.BusinessName,
			Amount:    total,
			Note:      "Tiffin " + strings.Join(payment.months(), ", "),
			Reference: payment.ID,
		})
		if err != nil {
			return unprocessable("%s", err.Error())
		}
		payment.Link = link
		return tx.Put(paymentKey(userID, payment.ID), payment)
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *server) confirmPayment(w http.ResponseWriter, r *http.Request, paymentID string) {
	var req confirmPaymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := sessionFromContext(r.Context()).AccountID

	var (
		payment paymentDoc
		user    userDoc
		vendor  vendorDoc
	)
	err := s.store.Update(r.Context(), func(tx *docstore.Tx) error {
		if err := tx.Get(paymentKey(userID, paymentID), &payment); err != nil {
			return err
		}
		if payment.Status != paymentInitiated {
			return conflict("payment is already %s", payment.Status)
		}
		if err := tx.Get(userKey(userID), &user); err != nil {
			return err
		}
		if err := tx.Get(vendorKey(payment.VendorID), &vendor); err != nil && !isNotFound(err) {
			return err
		}
		now := s.now().UTC()
		for _, key := range payment.months() {
			month, err := ledger.ParseMonth(key)
			if err != nil {
				return err
			}
			before, err := s.service.monthFor(tx, user, month)
			if err != nil {
				return err
			}
			stale := payment.Covered[key].Minus(ledger.PendingSheet(before.Tracking, before.Paid))
			if len(stale) > 0 {
				return conflict("%d meals in %s are already paid or no longer delivered", stale.Count(), key)
			}
			paid, _, err := loadSheet(tx, paidKey(userID, month), userID, month)
			if err != nil {
				return err
			}
			paid.VendorID = payment.VendorID
			paid.Days = ledger.MergePaid(paid.Days, payment.Covered[key])
			paid.UpdatedBy = "payment:" + payment.ID
			paid.UpdatedAt = now
			if err := tx.Put(paidKey(userID, month), paid); err != nil {
				return err
			}
			view, err := s.service.monthFor(tx, user, month)
			if err != nil {
				return err
			}
			if err := s.service.refreshBill(tx, view, userID, false); err != nil {
				return err
			}
		}
		payment.Status = paymentConfirmed
		payment.Reference = strings.TrimSpace(req.Reference)
		payment.ConfirmedAt = &now
		if err := tx.Put(paymentKey(userID, payment.ID), payment); err != nil {
			return err
		}
		return supersedeOverlapping(tx, payment)
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	s.notifyVendor(r.Context(), payment, user, vendor)
	writeJSON(w, http.StatusOK, payment)
}

// supersedeOverlapping cancels the user's other open intents that cover any
// meal the confirmed payment just settled.
func supersedeOverlapping(tx *docstore.Tx, confirmed paymentDoc) error {
	var stale []paymentDoc
	err := tx.Scan(paymentKey(confirmed.UserID, ""), func(key string, raw []byte) error {
		var other paymentDoc
		if err := json.Unmarshal(raw, &other); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if other.ID != confirmed.ID && other.Status == paymentInitiated && other.overlaps(confirmed) {
			stale = append(stale, other)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, other := range stale {
		other.Status = paymentCancelled
		other.SupersededBy = confirmed.ID
		if err := tx.Put(paymentKey(other.UserID, other.ID), other); err != nil {
			return err
		}
	}
	return nil
}

// notifyVendor never fails the request; the payment is already recorded.
func (s *server) notifyVendor(ctx context.Context, payment paymentDoc, user userDoc, vendor vendorDoc) {
	notice := notify.PaymentNotice{
		VendorChatID: vendor.TelegramChatID,
		VendorName:   vendor.BusinessName,
		CustomerName: user.Name,
		Months:       payment.months(),
		Amount:       payment.Amount,
		Reference:    payment.Reference,
	}
	if err := s.notifier.PaymentConfirmed(ctx, notice); err != nil {
		s.logger.Warn("payment notification failed",
			zap.String("payment", payment.ID),
			zap.String("vendor", payment.VendorID),
			zap.Error(err),
		)
	}
}

func (s *server) cancelPayment(w http.ResponseWriter, r *http.Request, paymentID string) {
	userID := sessionFromContext(r.Context()).AccountID
	var payment paymentDoc
	err := s.store.Update(r.Context(), func(tx *docstore.Tx) error {
		if err := tx.Get(paymentKey(userID, paymentID), &payment); err != nil {
			return err
		}
		if payment.Status != paymentInitiated {
			return conflict("payment is already %s", payment.Status)
		}
		payment.Status = paymentCancelled
		return tx.Put(paymentKey(userID, payment.ID), payment)
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}
