package apiapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tiffinledger/tiffin/internal/docstore"
	"github.com/tiffinledger/tiffin/internal/ledger"
	"github.com/tiffinledger/tiffin/internal/security"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	billingMetaKey     = "meta:billing:last"
	billingConcurrency = 4
	maxMenuTextLength  = 200
)

// Service holds the ledger operations shared by handlers, the scheduler and the cli.
type Service struct {
	store  *docstore.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewService(store *docstore.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger.Named("ledger"), now: time.Now}
}

// getter is satisfied by *docstore.Tx and by storeReader.
type getter interface {
	Get(key string, value any) error
}

type storeReader struct {
	ctx   context.Context
	store *docstore.Store
}

func (r storeReader) Get(key string, value any) error {
	return r.store.Get(r.ctx, key, value)
}

func (s *Service) reader(ctx context.Context) getter {
	return storeReader{ctx: ctx, store: s.store}
}

// loadSheet returns an empty record when none is stored yet.
func loadSheet(g getter, key, userID string, month ledger.Month) (sheetDoc, bool, error) {
	var doc sheetDoc
	err := g.Get(key, &doc)
	if errors.Is(err, docstore.ErrNotFound) {
		return sheetDoc{UserID: userID, Month: month, Days: ledger.Sheet{}}, false, nil
	}
	if err != nil {
		return sheetDoc{}, false, err
	}
	if doc.Days == nil {
		doc.Days = ledger.Sheet{}
	}
	return doc, true, nil
}

type monthView struct {
	Month    ledger.Month   `json:"month"`
	VendorID string         `json:"vendorId"`
	Tracking ledger.Sheet   `json:"tracking"`
	Paid     ledger.Sheet   `json:"paid"`
	Summary  ledger.Summary `json:"summary"`
}

// monthFor reconciles one user's month at the rates of the vendor who delivered it.
func (s *Service) monthFor(g getter, user userDoc, month ledger.Month) (monthView, error) {
	tracking, _, err := loadSheet(g, trackingKey(user.ID, month), user.ID, month)
	if err != nil {
		return monthView{}, err
	}
	paid, _, err := loadSheet(g, paidKey(user.ID, month), user.ID, month)
	if err != nil {
		return monthView{}, err
	}
	vendorID := tracking.VendorID
	if vendorID == "" {
		vendorID = user.VendorID
	}
	rates := ledger.Rates{}
	if vendorID != "" {
		var vendor vendorDoc
		if err := g.Get(vendorKey(vendorID), &vendor); err == nil {
			rates = vendor.rates()
		} else if !errors.Is(err, docstore.ErrNotFound) {
			return monthView{}, err
		}
	}
	return monthView{
		Month:    month,
		VendorID: vendorID,
		Tracking: tracking.Days,
		Paid:     paid.Days,
		Summary:  ledger.Reconcile(month, tracking.Days, paid.Days, rates),
	}, nil
}

// refreshBill rewrites the bill snapshot. Without create it only touches
// bills that already exist.
func (s *Service) refreshBill(tx *docstore.Tx, view monthView, userID string, create bool) error {
	var bill billDoc
	err := tx.Get(billKey(userID, view.Month), &bill)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		if !create {
			return nil
		}
		bill = billDoc{
			ID:          billNumber(userID, view.Month),
			UserID:      userID,
			Month:       view.Month,
			GeneratedAt: s.now().UTC(),
		}
	case err != nil:
		return err
	}
	bill.VendorID = view.VendorID
	bill.Summary = view.Summary
	bill.Status = ledger.BillStatus(view.Summary.Total)
	bill.UpdatedAt = s.now().UTC()
	return tx.Put(billKey(userID, view.Month), bill)
}

// GenerateBills snapshots a bill for every user with deliveries in month.
func (s *Service) GenerateBills(ctx context.Context, month ledger.Month) (int, error) {
	return s.generateBills(ctx, month, "")
}

// GenerateVendorBills is GenerateBills restricted to months delivered by vendorID.
func (s *Service) GenerateVendorBills(ctx context.Context, month ledger.Month, vendorID string) (int, error) {
	return s.generateBills(ctx, month, vendorID)
}

func (s *Service) generateBills(ctx context.Context, month ledger.Month, vendorID string) (int, error) {
	keys, err := s.store.Keys(ctx, "tracking:")
	if err != nil {
		return 0, err
	}
	suffix := ":" + month.String()
	userIDs := []string{}
	for _, key := range keys {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		userIDs = append(userIDs, strings.TrimSuffix(strings.TrimPrefix(key, "tracking:"), suffix))
	}

	results := make([]bool, len(userIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(billingConcurrency)
	for i, userID := range userIDs {
		i, userID := i, userID
		g.Go(func() error {
			return s.store.Update(gctx, func(tx *docstore.Tx) error {
				var user userDoc
				if err := tx.Get(userKey(userID), &user); err != nil {
					if errors.Is(err, docstore.ErrNotFound) {
						return nil
					}
					return err
				}
				view, err := s.monthFor(tx, user, month)
				if err != nil {
					return err
				}
				if view.Summary.Total.Delivered == 0 {
					return nil
				}
				if vendorID != "" && view.VendorID != vendorID {
					return nil
				}
				results[i] = true
				return s.refreshBill(tx, view, userID, true)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("generate bills for %s: %w", month, err)
	}

	generated := 0
	for _, ok := range results {
		if ok {
			generated++
		}
	}
	s.logger.Info("bills generated",
		zap.String("month", month.String()),
		zap.String("vendor", vendorID),
		zap.Int("count", generated),
	)
	return generated, nil
}

// LastBilledMonth reports the most recent month the scheduler billed.
func (s *Service) LastBilledMonth(ctx context.Context) (ledger.Month, bool, error) {
	var meta struct {
		Month ledger.Month `json:"month"`
	}
	err := s.store.Get(ctx, billingMetaKey, &meta)
	if errors.Is(err, docstore.ErrNotFound) {
		return ledger.Month{}, false, nil
	}
	if err != nil {
		return ledger.Month{}, false, err
	}
	return meta.Month, true, nil
}

func (s *Service) MarkBilled(ctx context.Context, month ledger.Month) error {
	return s.store.Put(ctx, billingMetaKey, map[string]any{"month": month, "at": s.now().UTC()})
}

// SaveMenu replaces a vendor's weekly menu.
func (s *Service) SaveMenu(ctx context.Context, vendorID string, menu WeeklyMenu) (WeeklyMenu, error) {
	clean, err := validateMenu(menu)
	if err != nil {
		return nil, err
	}
	err = s.store.Update(ctx, func(tx *docstore.Tx) error {
		ok, err := tx.Exists(vendorKey(vendorID))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("vendor %s: %w", vendorID, docstore.ErrNotFound)
		}
		return tx.Put(menuKey(vendorID), menuDoc{VendorID: vendorID, Days: clean, UpdatedAt: s.now().UTC()})
	})
	if err != nil {
		return nil, err
	}
	return clean, nil
}

func (s *Service) Menu(ctx context.Context, vendorID string) (WeeklyMenu, error) {
	var doc menuDoc
	err := s.store.Get(ctx, menuKey(vendorID), &doc)
	if errors.Is(err, docstore.ErrNotFound) {
		return WeeklyMenu{}, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Days, nil
}

// FindVendorByEmail resolves a vendor login email to its id.
func (s *Service) FindVendorByEmail(ctx context.Context, email string) (string, error) {
	var id string
	if err := s.store.Get(ctx, emailIndexKey(roleVendor, email), &id); err != nil {
		return "", err
	}
	return id, nil
}

func validateMenu(menu WeeklyMenu) (WeeklyMenu, error) {
	clean := WeeklyMenu{}
	for day, meals := range menu {
		key := strings.ToLower(strings.TrimSpace(day))
		if !isWeekday(key) {
			return nil, badRequest("unknown weekday %q", day)
		}
		meals = MenuDay{
			Breakfast: strings.TrimSpace(meals.Breakfast),
			Lunch:     strings.TrimSpace(meals.Lunch),
			Dinner:    strings.TrimSpace(meals.Dinner),
		}
		for _, text := range []string{meals.Breakfast, meals.Lunch, meals.Dinner} {
			if len(text) > maxMenuTextLength {
				return nil, badRequest("menu entries must be at most %d characters", maxMenuTextLength)
			}
		}
		clean[key] = meals
	}
	return clean, nil
}

func isWeekday(value string) bool {
	for _, d := range weekdays {
		if d == value {
			return true
		}
	}
	return false
}

// EnsureAdmin creates the operator account or resets its password.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}
	return s.store.Update(ctx, func(tx *docstore.Tx) error {
		var id string
		err := tx.Get(emailIndexKey(roleAdmin, username), &id)
		if errors.Is(err, docstore.ErrNotFound) {
			id = uuid.NewString()
			if err := tx.Put(emailIndexKey(roleAdmin, username), id); err != nil {
				return err
			}
			return tx.Put(adminKey(id), adminDoc{ID: id, Username: username, PasswordHash: hash, CreatedAt: s.now().UTC()})
		}
		if err != nil {
			return err
		}
		var admin adminDoc
		if err := tx.Get(adminKey(id), &admin); err != nil {
			return err
		}
		admin.PasswordHash = hash
		return tx.Put(adminKey(id), admin)
	})
}
