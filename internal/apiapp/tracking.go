package apiapp

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/tiffinledger/tiffin/internal/docstore"
	"github.com/tiffinledger/tiffin/internal/ledger"
)

type sheetRequest struct {
	Days ledger.Sheet `json:"days"`
}

// sheetTarget names the record a write applies to and who is writing it.
type sheetTarget struct {
	userID string
	month  ledger.Month
	// vendorID is set when a vendor writes on behalf of a customer.
	vendorID string
	actor    string
}

// trackingRoutes serves /api/tracking/{month} and /api/tracking/{month}/days/{day}.
func (s *server) trackingRoutes(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	month, day, ok := parseSheetPath(w, pathParts(r, "/api/tracking/"))
	if !ok {
		return
	}
	target := sheetTarget{userID: sess.AccountID, month: month, actor: roleUser + ":" + sess.AccountID}
	s.serveTracking(w, r, target, day)
}

func (s *server) paidTrackingRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	month, day, ok := parseSheetPath(w, pathParts(r, "/api/paid-tracking/"))
	if !ok {
		return
	}
	if day != 0 {
		http.NotFound(w, r)
		return
	}
	userID := sessionFromContext(r.Context()).AccountID
	doc, _, err := loadSheet(s.service.reader(r.Context()), paidKey(userID, month), userID, month)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"month": month, "days": doc.Days})
}

// serveTracking is shared by the user routes and the vendor customer routes.
func (s *server) serveTracking(w http.ResponseWriter, r *http.Request, target sheetTarget, day int) {
	switch {
	case r.Method == http.MethodGet && day == 0:
		view, err := s.readMonth(r.Context(), target)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case r.Method == http.MethodPut && day == 0:
		var req sheetRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		view, err := s.writeTracking(r.Context(), target, func(ledger.Sheet) (ledger.Sheet, error) {
			if req.Days == nil {
				return ledger.Sheet{}, nil
			}
			return req.Days, nil
		})
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case r.Method == http.MethodPut:
		var meals ledger.DayMeals
		if !decodeJSON(w, r, &meals) {
			return
		}
		view, err := s.writeTracking(r.Context(), target, func(current ledger.Sheet) (ledger.Sheet, error) {
			return setDay(current, target.month, day, meals)
		})
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		methodNotAllowed(w)
	}
}

// parseSheetPath accepts {month} or {month}/days/{day}; day is 0 for the former.
func parseSheetPath(w http.ResponseWriter, parts []string) (ledger.Month, int, bool) {
	if len(parts) != 1 && !(len(parts) == 3 && parts[1] == "days") {
		writeError(w, http.StatusNotFound, "not found")
		return ledger.Month{}, 0, false
	}
	month, err := ledger.ParseMonth(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return ledger.Month{}, 0, false
	}
	if len(parts) == 1 {
		return month, 0, true
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil || day < 1 || day > month.Days() {
		writeError(w, http.StatusBadRequest, "day is outside the month")
		return ledger.Month{}, 0, false
	}
	return month, day, true
}

func setDay(current ledger.Sheet, month ledger.Month, day int, meals ledger.DayMeals) (ledger.Sheet, error) {
	if day < 1 || day > month.Days() {
		return nil, badRequest("day is outside the month")
	}
	if meals.IsEmpty() {
		delete(current, day)
	} else {
		current[day] = meals
	}
	return current, nil
}

func (s *server) readMonth(ctx context.Context, target sheetTarget) (monthView, error) {
	g := s.service.reader(ctx)
	var user userDoc
	if err := g.Get(userKey(target.userID), &user); err != nil {
		return monthView{}, err
	}
	if target.vendorID != "" {
		if err := checkVendorAccess(g, target, user); err != nil {
			return monthView{}, err
		}
	}
	return s.service.monthFor(g, user, target.month)
}

// checkVendorAccess allows a vendor to touch a customer's month only when the
// vendor delivered it, or for a fresh month, when the user is on its roster.
func checkVendorAccess(g getter, target sheetTarget, user userDoc) error {
	tracking, exists, err := loadSheet(g, trackingKey(user.ID, target.month), user.ID, target.month)
	if err != nil {
		return err
	}
	if exists && tracking.VendorID != "" {
		if tracking.VendorID != target.vendorID {
			return forbidden("this month belongs to another vendor")
		}
		return nil
	}
	if user.VendorID != target.vendorID {
		return forbidden("user is not your customer")
	}
	return nil
}

// futureFrom returns the first day of month that lies after today, or 0 when
// the whole month is in the past.
func (s *server) futureFrom(month ledger.Month) int {
	today := s.today()
	current := ledger.MonthOf(today)
	switch {
	case month.Before(current):
		return 0
	case month == current:
		if today.Day() >= month.Days() {
			return 0
		}
		return today.Day() + 1
	default:
		return 1
	}
}

func (s *server) rejectFuture(month ledger.Month, sheet ledger.Sheet) error {
	first := s.futureFrom(month)
	if first == 0 {
		return nil
	}
	for day, meals := range sheet {
		if day >= first && !meals.IsEmpty() {
			return badRequest("cannot mark meals for future dates")
		}
	}
	return nil
}

// writeTracking applies mutate to the tracking sheet inside one transaction.
func (s *server) writeTracking(ctx context.Context, target sheetTarget, mutate func(ledger.Sheet) (ledger.Sheet, error)) (monthView, error) {
	var view monthView
	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		var user userDoc
		if err := tx.Get(userKey(target.userID), &user); err != nil {
			return err
		}
		if target.vendorID != "" {
			if err := checkVendorAccess(tx, target, user); err != nil {
				return err
			}
		}
		doc, exists, err := loadSheet(tx, trackingKey(user.ID, target.month), user.ID, target.month)
		if err != nil {
			return err
		}
		if !exists || doc.VendorID == "" {
			if user.VendorID == "" {
				return unprocessable("choose a vendor before tracking meals")
			}
			doc.VendorID = user.VendorID
		}

		proposed, err := mutate(doc.Days.Clone())
		if err != nil {
			return err
		}
		if err := proposed.Validate(target.month); err != nil {
			return badRequest("%s", err.Error())
		}
		proposed = proposed.Normalize()
		if err := s.rejectFuture(target.month, proposed.Minus(doc.Days)); err != nil {
			return err
		}

		paid, _, err := loadSheet(tx, paidKey(user.ID, target.month), user.ID, target.month)
		if err != nil {
			return err
		}
		if conflicts := ledger.PaidConflicts(proposed, paid.Days); len(conflicts) > 0 {
			return conflict("paid meals cannot be removed (days %v)", conflicts.SortedDays())
		}

		doc.Days = proposed
		doc.UpdatedBy = target.actor
		doc.UpdatedAt = s.now().UTC()
		if err := tx.Put(trackingKey(user.ID, target.month), doc); err != nil {
			return err
		}
		view, err = s.service.monthFor(tx, user, target.month)
		if err != nil {
			return err
		}
		return s.service.refreshBill(tx, view, user.ID, false)
	})
	return view, err
}

// writePaid records payments collected outside the app for one day.
func (s *server) writePaid(ctx context.Context, target sheetTarget, day int, meals ledger.DayMeals) (monthView, error) {
	var view monthView
	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		var user userDoc
		if err := tx.Get(userKey(target.userID), &user); err != nil {
			return err
		}
		if err := checkVendorAccess(tx, target, user); err != nil {
			return err
		}
		tracking, _, err := loadSheet(tx, trackingKey(user.ID, target.month), user.ID, target.month)
		if err != nil {
			return err
		}
		paid, _, err := loadSheet(tx, paidKey(user.ID, target.month), user.ID, target.month)
		if err != nil {
			return err
		}
		proposed, err := setDay(paid.Days.Clone(), target.month, day, meals)
		if err != nil {
			return err
		}
		if undelivered := proposed.Minus(tracking.Days); len(undelivered) > 0 {
			return unprocessable("meals must be delivered before they are marked paid")
		}

		paid.VendorID = target.vendorID
		paid.Days = proposed
		paid.UpdatedBy = target.actor
		paid.UpdatedAt = s.now().UTC()
		if err := tx.Put(paidKey(user.ID, target.month), paid); err != nil {
			return err
		}
		view, err = s.service.monthFor(tx, user, target.month)
		if err != nil {
			return err
		}
		return s.service.refreshBill(tx, view, user.ID, false)
	})
	return view, err
}

func isNotFound(err error) bool {
	return errors.Is(err, docstore.ErrNotFound)
}
