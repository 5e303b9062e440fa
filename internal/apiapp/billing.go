package apiapp

import (
	"net/http"
	"strings"

	"github.com/tiffinledger/tiffin/internal/ledger"
	"github.com/tiffinledger/tiffin/internal/sheets"
)

const defaultRangeMonths = 6

type billView struct {
	ID        string         `json:"id"`
	Month     ledger.Month   `json:"month"`
	VendorID  string         `json:"vendorId"`
	Status    string         `json:"status"`
	Generated bool           `json:"generated"`
	Summary   ledger.Summary `json:"summary"`
}

// monthRange reads ?from=&to=, defaulting to the last six months.
func (s *server) monthRange(r *http.Request) ([]ledger.Month, error) {
	to := ledger.MonthOf(s.today())
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := ledger.ParseMonth(raw)
		if err != nil {
			return nil, badRequest("to must be YYYY-MM")
		}
		to = parsed
	}
	from := to
	for i := 1; i < defaultRangeMonths; i++ {
		from = from.Prev()
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := ledger.ParseMonth(raw)
		if err != nil {
			return nil, badRequest("from must be YYYY-MM")
		}
		from = parsed
	}
	months, err := ledger.MonthsBetween(from, to)
	if err != nil {
		return nil, badRequest("%s", err.Error())
	}
	return months, nil
}

// listBills reconciles every month in range live.
func (s *server) listBills(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	months, err := s.monthRange(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	g := s.service.reader(r.Context())
	var user userDoc
	if err := g.Get(userKey(sessionFromContext(r.Context()).AccountID), &user); err != nil {
		s.respondError(w, r, err)
		return
	}
	summaries := make([]ledger.Summary, 0, len(months))
	for _, m := range months {
		view, err := s.service.monthFor(g, user, m)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		summaries = append(summaries, view.Summary)
	}
	statement := ledger.Combine(summaries...)
	writeJSON(w, http.StatusOK, map[string]any{
		"months": statement.Months,
		"total":  statement.Total,
		"status": ledger.BillStatus(statement.Total),
	})
}

// billRoutes serves /api/bills/{month} and /api/bills/{month}/invoice.xlsx.
func (s *server) billRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	parts := pathParts(r, "/api/bills/")
	if len(parts) == 0 || len(parts) > 2 || (len(parts) == 2 && parts[1] != "invoice.xlsx") {
		http.NotFound(w, r)
		return
	}
	month, err := ledger.ParseMonth(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}
	user, err := s.loadUser(r.Context(), sessionFromContext(r.Context()).AccountID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	bill, err := s.currentBill(r, user, month)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(parts) == 1 {
		writeJSON(w, http.StatusOK, bill)
		return
	}

	inv := sheets.Invoice{
		Number:       bill.ID,
		CustomerName: user.Name,
		CustomerMail: user.Email,
		Summary:      bill.Summary,
	}
	if bill.VendorID != "" {
		vendor, err := s.loadVendor(r.Context(), bill.VendorID)
		if err != nil && !isNotFound(err) {
			s.respondError(w, r, err)
			return
		}
		inv.VendorName = vendor.BusinessName
		inv.VendorUPI = vendor.UPIID
	}
	data, err := sheets.InvoiceWorkbook(inv)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeBinary(w, xlsxMime, bill.ID+".xlsx", data)
}

// currentBill overlays the live reconciliation on the stored snapshot, if any.
func (s *server) currentBill(r *http.Request, user userDoc, month ledger.Month) (billView, error) {
	g := s.service.reader(r.Context())
	view, err := s.service.monthFor(g, user, month)
	if err != nil {
		return billView{}, err
	}
	bill := billView{
		ID:       billNumber(user.ID, month),
		Month:    month,
		VendorID: view.VendorID,
		Status:   ledger.BillStatus(view.Summary.Total),
		Summary:  view.Summary,
	}
	var stored billDoc
	err = g.Get(billKey(user.ID, month), &stored)
	switch {
	case err == nil:
		bill.ID = stored.ID
		bill.Generated = true
	case !isNotFound(err):
		return billView{}, err
	}
	return bill, nil
}
