package apiapp

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tiffinledger/tiffin/internal/docstore"
	"github.com/tiffinledger/tiffin/internal/ledger"
	"github.com/tiffinledger/tiffin/internal/sheets"
	"github.com/tiffinledger/tiffin/internal/upi"
)

type updateVendorRequest struct {
	BusinessName   string          `json:"businessName"`
	OwnerName      string          `json:"ownerName"`
	Phone          string          `json:"phone"`
	Address        string          `json:"address"`
	UPIID          string          `json:"upiId"`
	RatePerDay     decimal.Decimal `json:"ratePerDay"`
	MealRates      ledger.Rates    `json:"mealRates"`
	TelegramChatID int64           `json:"telegramChatId"`
}

type addCustomerRequest struct {
	Email string `json:"email"`
}

type generateBillsRequest struct {
	Month string `json:"month"`
}

type customerSummary struct {
	User    userView       `json:"user"`
	Status  string         `json:"status"`
	Summary ledger.Summary `json:"summary"`
}

type customerRevenueView struct {
	Month  ledger.Month `json:"month"`
	UserID string       `json:"userId"`
	Name   string       `json:"name"`
	Email  string       `json:"email"`
	Totals ledger.Tally `json:"totals"`
}

type importCustomersResult struct {
	Added          int      `json:"added"`
	AlreadyPresent int      `json:"alreadyPresent"`
	NotFound       []string `json:"notFound"`
	OtherVendor    []string `json:"otherVendor"`
	InvalidLines   []int    `json:"invalidLines"`
}

func validateVendorUpdate(req *updateVendorRequest) error {
	req.BusinessName = strings.TrimSpace(req.BusinessName)
	req.UPIID = strings.TrimSpace(req.UPIID)
	if req.BusinessName == "" {
		return badRequest("businessName is required")
	}
	if req.RatePerDay.IsNegative() {
		return badRequest("ratePerDay cannot be negative")
	}
	if err := req.MealRates.Validate(); err != nil {
		return badRequest("%s", err.Error())
	}
	if req.UPIID != "" && !upi.ValidVPA(req.UPIID) {
		return badRequest("upiId is not a valid UPI address")
	}
	return nil
}

// vendorRoutes dispatches everything under /api/vendor/.
func (s *server) vendorRoutes(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, "/api/vendor/")
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	vendorID := sessionFromContext(r.Context()).AccountID

	switch parts[0] {
	case "profile":
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			s.getVendorProfile(w, r, vendorID)
		case len(parts) == 1 && r.Method == http.MethodPut:
			s.updateVendorProfile(w, r, vendorID)
		case len(parts) == 2 && parts[1] == "logo" && r.Method == http.MethodPost:
			s.uploadVendorLogo(w, r, vendorID)
		case len(parts) <= 2:
			methodNotAllowed(w)
		default:
			http.NotFound(w, r)
		}
	case "logo":
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.serveVendorLogo(w, r, parts[1])
	case "customers":
		s.vendorCustomerRoutes(w, r, vendorID, parts[1:])
	case "menu":
		if len(parts) != 1 {
			http.NotFound(w, r)
			return
		}
		s.vendorMenu(w, r, vendorID)
	case "revenue":
		switch {
		case len(parts) == 1 && r.Method == http.MethodGet:
			s.vendorRevenue(w, r, vendorID)
		case len(parts) == 2 && parts[1] == "export.xlsx" && r.Method == http.MethodGet:
			s.exportVendorRevenue(w, r, vendorID)
		case len(parts) <= 2:
			methodNotAllowed(w)
		default:
			http.NotFound(w, r)
		}
	case "bills":
		if len(parts) != 2 || parts[1] != "generate" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.generateVendorBills(w, r, vendorID)
	default:
		http.NotFound(w, r)
	}
}

func (s *server) getVendorProfile(w http.ResponseWriter, r *http.Request, vendorID string) {
	vendor, err := s.loadVendor(r.Context(), vendorID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	view := vendor.ownerView()
	writeJSON(w, http.StatusOK, map[string]any{"vendor": view, "effectiveRates": vendor.rates()})
}

func (s *server) updateVendorProfile(w http.ResponseWriter, r *http.Request, vendorID string) {
	var req updateVendorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateVendorUpdate(&req); err != nil {
		s.respondError(w, r, err)
		return
	}
	var vendor vendorDoc
	err := s.store.Update(r.Context(), func(tx *docstore.Tx) error {
		if err := tx.Get(vendorKey(vendorID), &vendor); err != nil {
			return err
		}
		vendor.BusinessName = req.BusinessName
		vendor.OwnerName = strings.TrimSpace(req.OwnerName)
		vendor.Phone = strings.TrimSpace(req.Phone)
		vendor.Address = strings.TrimSpace(req.Address)
		vendor.UPIID = req.UPIID
		vendor.RatePerDay = req.RatePerDay
		vendor.MealRates = req.MealRates
		vendor.TelegramChatID = req.TelegramChatID
		vendor.UpdatedAt = s.now().UTC()
		return tx.Put(vendorKey(vendorID), vendor)
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vendor": vendor.ownerView(), "effectiveRates": vendor.rates()})
}

func (s *server) uploadVendorLogo(w http.ResponseWriter, r *http.Request, vendorID string) {
	data, mime, err := parseUploadedImage(r, "logo")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = s.store.Update(r.Context(), func(tx *docstore.Tx) error {
		var vendor vendorDoc
		if err := tx.Get(vendorKey(vendorID), &vendor); err != nil {
			return err
		}
		vendor.LogoData = data
		vendor.LogoMime = mime
		vendor.UpdatedAt = s.now().UTC()
		return tx.Put(vendorKey(vendorID), vendor)
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logo uploaded"})
}

// vendorCustomerRoutes serves the roster and per-customer ledgers.
func (s *server) vendorCustomerRoutes(w http.ResponseWriter, r *http.Request, vendorID string, parts []string) {
	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			s.listVendorCustomers(w, r, vendorID)
		case http.MethodPost:
			s.addVendorCustomer(w, r, vendorID)
		default:
			methodNotAllowed(w)
		}
	case len(parts) == 1 && parts[0] == "import":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.importVendorCustomers(w, r, vendorID)
	case len(parts) == 1:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		s.removeVendorCustomer(w, r, vendorID, parts[0])
	case parts[1] == "tracking":
		month, day, ok := parseSheetPath(w, parts[2:])
		if !ok {
			return
		}
		target := sheetTarget{userID: parts[0], month: month, vendorID: vendorID, actor: roleVendor + ":" + vendorID}
		s.serveTracking(w, r, target, day)
	case parts[1] == "paid-tracking":
		month, day, ok := parseSheetPath(w, parts[2:])
		if !ok {
			return
		}
		target := sheetTarget{userID: parts[0], month: month, vendorID: vendorID, actor: roleVendor + ":" + vendorID}
		s.serveVendorPaid(w, r, target, day)
	default:
		http.NotFound(w, r)
	}
}

func (s *server) serveVendorPaid(w http.ResponseWriter, r *http.Request, target sheetTarget, day int) {
	switch {
	case r.Method == http.MethodGet && day == 0:
		view, err := s.readMonth(r.Context(), target)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"month": view.Month, "days": view.Paid, "summary": view.Summary})
	case r.Method == http.MethodPut && day != 0:
		var meals ledger.DayMeals
		if !decodeJSON(w, r, &meals) {
			return
		}
		view, err := s.writePaid(r.Context(), target, day, meals)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		methodNotAllowed(w)
	}
}

func (s *server) listVendorCustomers(w http.ResponseWriter, r *http.Request, vendorID string) {
	month := ledger.MonthOf(s.today())
	if raw := strings.TrimSpace(r.URL.Query().Get("month")); raw != "" {
		parsed, err := ledger.ParseMonth(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		month = parsed
	}
	g := s.service.reader(r.Context())
	var vendor vendorDoc
	if err := g.Get(vendorKey(vendorID), &vendor); err != nil {
		s.respondError(w, r, err)
		return
	}
	customers := make([]customerSummary, 0, len(vendor.CustomerIDs))
	for _, id := range vendor.CustomerIDs {
		var user userDoc
		if err := g.Get(userKey(id), &user); err != nil {
			if isNotFound(err) {
				continue
			}
			s.respondError(w, r, err)
			return
		}
		view, err := s.service.monthFor(g, user, month)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		view.Summary.Days = nil
		customers = append(customers, customerSummary{
			User:    user.view(),
			Status:  ledger.BillStatus(view.Summary.Total),
			Summary: view.Summary,
		})
	}
	sort.Slice(customers, func(i, j int) bool {
		return strings.ToLower(customers[i].User.Name) < strings.ToLower(customers[j].User.Name)
	})
	writeJSON(w, http.StatusOK, map[string]any{"month": month, "customers": customers})
}

var errOtherVendor = errors.New("user is subscribed to another vendor")

// attachByEmail adds an existing user to the vendor's roster. It reports
// whether the user was already on it.
func (s *server) attachByEmail(ctx context.Context, vendorID, email string) (bool, error) {
	already := false
	err := s.store.Update(ctx, func(tx *docstore.Tx) error {
		var userID string
		if err := tx.Get(emailIndexKey(roleUser, email), &userID); err != nil {
			return err
		}
		var user userDoc
		if err := tx.Get(userKey(userID), &user); err != nil {
			return err
		}
		var vendor vendorDoc
		if err := tx.Get(vendorKey(vendorID), &vendor); err != nil {
			return err
		}
		if user.VendorID == vendorID && vendor.hasCustomer(userID) {
			already = true
			return nil
		}
		if user.VendorID != "" && user.VendorID != vendorID {
			return errOtherVendor
		}
		return s.assignCustomer(tx, &user, &vendor)
	})
	return already, err
}

func (s *server) addVendorCustomer(w http.ResponseWriter, r *http.Request, vendorID string) {
	var req addCustomerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := normalizeEmail(req.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	already, err := s.attachByEmail(r.Context(), vendorID, email)
	switch {
	case errors.Is(err, errOtherVendor):
		writeError(w, http.StatusConflict, err.Error())
		return
	case isNotFound(err):
		writeError(w, http.StatusNotFound, "no user registered with this email")
		return
	case err != nil:
		s.respondError(w, r, err)
		return
	}
	status := http.StatusCreated
	if already {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"email": email, "alreadyPresent": already})
}

func (s *server) importVendorCustomers(w http.ResponseWriter, r *http.Request, vendorID string) {
	file, header, err := r.FormFile("roster_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "roster file is required")
		return
	}
	defer file.Close()

	rows, skipped, err := sheets.ParseRoster(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := importCustomersResult{NotFound: []string{}, OtherVendor: []string{}, InvalidLines: []int{}}
	for _, row := range skipped {
		result.InvalidLines = append(result.InvalidLines, row.Line)
	}
	for _, row := range rows {
		already, err := s.attachByEmail(r.Context(), vendorID, row.Email)
		switch {
		case errors.Is(err, errOtherVendor):
			result.OtherVendor = append(result.OtherVendor, row.Email)
		case isNotFound(err):
			result.NotFound = append(result.NotFound, row.Email)
		case err != nil:
			s.respondError(w, r, err)
			return
		case already:
			result.AlreadyPresent++
		default:
			result.Added++
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) removeVendorCustomer(w http.ResponseWriter, r *http.Request, vendorID, userID string) {
	err := s.store.Update(r.Context(), func(tx *docstore.Tx) error {
		var vendor vendorDoc
		if err := tx.Get(vendorKey(vendorID), &vendor); err != nil {
			return err
		}
		if !vendor.hasCustomer(userID) {
			return newAPIError(http.StatusNotFound, "customer not found")
		}
		now := s.now().UTC()
		vendor.removeCustomer(userID)
		vendor.UpdatedAt = now
		if err := tx.Put(vendorKey(vendorID), vendor); err != nil {
			return err
		}
		var user userDoc
		if err := tx.Get(userKey(userID), &user); err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if user.VendorID != vendorID {
			return nil
		}
		user.VendorID = ""
		user.UpdatedAt = now
		return tx.Put(userKey(userID), user)
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "customer removed"})
}

func (s *server) vendorMenu(w http.ResponseWriter, r *http.Request, vendorID string) {
	switch r.Method {
	case http.MethodGet:
		menu, err := s.service.Menu(r.Context(), vendorID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"menu": menu})
	case http.MethodPut:
		var req struct {
			Menu WeeklyMenu `json:"menu"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		menu, err := s.service.SaveMenu(r.Context(), vendorID, req.Menu)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"menu": menu})
	default:
		methodNotAllowed(w)
	}
}

// revenueReport reconciles every customer month the vendor delivered in range.
// Amounts use the vendor's current rates.
func (s *server) revenueReport(r *http.Request, vendorID string) (sheets.RevenueReport, []ledger.Month, error) {
	months, err := s.monthRange(r)
	if err != nil {
		return sheets.RevenueReport{}, nil, err
	}
	g := s.service.reader(r.Context())
	var vendor vendorDoc
	if err := g.Get(vendorKey(vendorID), &vendor); err != nil {
		return sheets.RevenueReport{}, nil, err
	}
	inRange := map[ledger.Month]bool{}
	for _, m := range months {
		inRange[m] = true
	}

	tracked, err := scanDocs[sheetDoc](r.Context(), s.store, "tracking:")
	if err != nil {
		return sheets.RevenueReport{}, nil, err
	}
	rates := vendor.rates()
	perMonth := map[ledger.Month][]ledger.Summary{}
	users := map[string]userDoc{}
	report := sheets.RevenueReport{VendorName: vendor.BusinessName}
	for _, doc := range tracked {
		if doc.VendorID != vendorID || !inRange[doc.Month] {
			continue
		}
		paid, _, err := loadSheet(g, paidKey(doc.UserID, doc.Month), doc.UserID, doc.Month)
		if err != nil {
			return sheets.RevenueReport{}, nil, err
		}
		summary := ledger.Reconcile(doc.Month, doc.Days, paid.Days, rates)
		perMonth[doc.Month] = append(perMonth[doc.Month], summary)

		user, ok := users[doc.UserID]
		if !ok {
			if err := g.Get(userKey(doc.UserID), &user); err != nil && !isNotFound(err) {
				return sheets.RevenueReport{}, nil, err
			}
			users[doc.UserID] = user
		}
		report.Customers = append(report.Customers, sheets.CustomerRevenue{
			Month:  doc.Month,
			UserID: doc.UserID,
			Name:   user.Name,
			Email:  user.Email,
			Totals: summary.Total,
		})
	}
	for _, m := range months {
		report.Months = append(report.Months, ledger.Merge(m, rates, perMonth[m]...))
	}
	sort.Slice(report.Customers, func(i, j int) bool {
		a, b := report.Customers[i], report.Customers[j]
		if a.Month != b.Month {
			return a.Month.Before(b.Month)
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	return report, months, nil
}

func (s *server) vendorRevenue(w http.ResponseWriter, r *http.Request, vendorID string) {
	report, _, err := s.revenueReport(r, vendorID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	customers := make([]customerRevenueView, 0, len(report.Customers))
	for _, c := range report.Customers {
		customers = append(customers, customerRevenueView{
			Month:  c.Month,
			UserID: c.UserID,
			Name:   c.Name,
			Email:  c.Email,
			Totals: c.Totals,
		})
	}
	statement := ledger.Combine(report.Months...)
	writeJSON(w, http.StatusOK, map[string]any{
		"months":    statement.Months,
		"total":     statement.Total,
		"customers": customers,
	})
}

func (s *server) exportVendorRevenue(w http.ResponseWriter, r *http.Request, vendorID string) {
	report, months, err := s.revenueReport(r, vendorID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	data, err := sheets.RevenueWorkbook(report)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	filename := "revenue-" + months[0].String() + "-to-" + months[len(months)-1].String() + ".xlsx"
	writeBinary(w, xlsxMime, filename, data)
}

// generateVendorBills defaults to the month before the current one.
func (s *server) generateVendorBills(w http.ResponseWriter, r *http.Request, vendorID string) {
	var req generateBillsRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	month := ledger.MonthOf(s.today()).Prev()
	if raw := strings.TrimSpace(req.Month); raw != "" {
		parsed, err := ledger.ParseMonth(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		month = parsed
	}
	count, err := s.service.GenerateVendorBills(r.Context(), month, vendorID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"month": month, "generated": count})
}
