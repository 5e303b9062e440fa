package apiapp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tiffinledger/tiffin/internal/docstore"
	"github.com/tiffinledger/tiffin/internal/ledger"
)

const (
	roleUser   = "user"
	roleVendor = "vendor"
	roleAdmin  = "admin"
)

const (
	paymentInitiated = "initiated"
	paymentConfirmed = "confirmed"
	paymentCancelled = "cancelled"
)

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

type vendorDoc struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	PasswordHash   string          `json:"passwordHash"`
	BusinessName   string          `json:"businessName"`
	OwnerName      string          `json:"ownerName"`
	Phone          string          `json:"phone"`
	Address        string          `json:"address"`
	UPIID          string          `json:"upiId"`
	RatePerDay     decimal.Decimal `json:"ratePerDay"`
	MealRates      ledger.Rates    `json:"mealRates"`
	CustomerIDs    []string        `json:"customerIds"`
	TelegramChatID int64           `json:"telegramChatId,omitempty"`
	LogoData       []byte          `json:"logoData,omitempty"`
	LogoMime       string          `json:"logoMime,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func (v vendorDoc) rates() ledger.Rates {
	return ledger.EffectiveRates(v.RatePerDay, v.MealRates)
}

func (v vendorDoc) hasCustomer(userID string) bool {
	for _, id := range v.CustomerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func (v *vendorDoc) addCustomer(userID string) {
	if !v.hasCustomer(userID) {
		v.CustomerIDs = append(v.CustomerIDs, userID)
	}
}

func (v *vendorDoc) removeCustomer(userID string) {
	kept := v.CustomerIDs[:0]
	for _, id := range v.CustomerIDs {
		if id != userID {
			kept = append(kept, id)
		}
	}
	v.CustomerIDs = kept
}

type vendorView struct {
	ID             string          `json:"id"`
	Email          string          `json:"email,omitempty"`
	BusinessName   string          `json:"businessName"`
	OwnerName      string          `json:"ownerName,omitempty"`
	Phone          string          `json:"phone,omitempty"`
	Address        string          `json:"address,omitempty"`
	UPIID          string          `json:"upiId,omitempty"`
	RatePerDay     decimal.Decimal `json:"ratePerDay"`
	MealRates      ledger.Rates    `json:"mealRates"`
	CustomerCount  int             `json:"customerCount"`
	TelegramChatID int64           `json:"telegramChatId,omitempty"`
	HasLogo        bool            `json:"hasLogo"`
}

func (v vendorView) MarshalJSON() ([]byte, error) {
	type plain vendorView
	return json.Marshal(struct {
		plain
		RatePerDay string `json:"ratePerDay"`
	}{plain: plain(v), RatePerDay: ledger.FormatAmount(v.RatePerDay)})
}

// publicView hides contact and payout details.
func (v vendorDoc) publicView() vendorView {
	return vendorView{
		ID:            v.ID,
		BusinessName:  v.BusinessName,
		RatePerDay:    v.RatePerDay,
		MealRates:     v.rates(),
		CustomerCount: len(v.CustomerIDs),
		HasLogo:       len(v.LogoData) > 0,
	}
}

func (v vendorDoc) ownerView() vendorView {
	view := v.publicView()
	view.Email = v.Email
	view.OwnerName = v.OwnerName
	view.Phone = v.Phone
	view.Address = v.Address
	view.UPIID = v.UPIID
	view.MealRates = v.MealRates
	view.TelegramChatID = v.TelegramChatID
	return view
}

type userDoc struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"passwordHash"`
	Name         string          `json:"name"`
	Phone        string          `json:"phone"`
	Address      string          `json:"address"`
	VendorID     string          `json:"vendorId"`
	Meals        ledger.DayMeals `json:"meals"`
	PhotoData    []byte          `json:"photoData,omitempty"`
	PhotoMime    string          `json:"photoMime,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

type userView struct {
	ID       string          `json:"id"`
	Email    string          `json:"email"`
	Name     string          `json:"name"`
	Phone    string          `json:"phone"`
	Address  string          `json:"address"`
	VendorID string          `json:"vendorId"`
	Meals    ledger.DayMeals `json:"meals"`
	HasPhoto bool            `json:"hasPhoto"`
}

func (u userDoc) view() userView {
	return userView{
		ID:       u.ID,
		Email:    u.Email,
		Name:     u.Name,
		Phone:    u.Phone,
		Address:  u.Address,
		VendorID: u.VendorID,
		Meals:    u.Meals,
		HasPhoto: len(u.PhotoData) > 0,
	}
}

type adminDoc struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// sheetDoc is the stored shape of both tracking and paid-tracking records.
type sheetDoc struct {
	UserID    string       `json:"userId"`
	VendorID  string       `json:"vendorId"`
	Month     ledger.Month `json:"month"`
	Days      ledger.Sheet `json:"days"`
	UpdatedBy string       `json:"updatedBy,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type billDoc struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	VendorID    string         `json:"vendorId"`
	Month       ledger.Month   `json:"month"`
	Status      string         `json:"status"`
	Summary     ledger.Summary `json:"summary"`
	GeneratedAt time.Time      `json:"generatedAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type paymentDoc struct {
	ID          string                  `json:"id"`
	UserID      string                  `json:"userId"`
	VendorID    string                  `json:"vendorId"`
	Amount      decimal.Decimal         `json:"amount"`
	Covered     map[string]ledger.Sheet `json:"covered"`
	Status      string                  `json:"status"`
	Reference   string                  `json:"reference,omitempty"`
	Link        string                  `json:"link"`
	CreatedAt   time.Time               `json:"createdAt"`
	ConfirmedAt *time.Time              `json:"confirmedAt,omitempty"`

	// SupersededBy names the payment whose confirmation cancelled this one.
	SupersededBy string `json:"supersededBy,omitempty"`
}

func (p paymentDoc) overlaps(other paymentDoc) bool {
	for key, sheet := range p.Covered {
		if sheet.Minus(other.Covered[key]).Count() < sheet.Count() {
			return true
		}
	}
	return false
}

// MarshalJSON writes the amount with two decimal places.
func (p paymentDoc) MarshalJSON() ([]byte, error) {
	type plain paymentDoc
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain: plain(p), Amount: ledger.FormatAmount(p.Amount)})
}

func (p paymentDoc) months() []string {
	months := make([]string, 0, len(p.Covered))
	for m := range p.Covered {
		months = append(months, m)
	}
	sortStrings(months)
	return months
}

// MenuDay is what a vendor serves in each slot on one weekday.
type MenuDay struct {
	Breakfast string `json:"breakfast" yaml:"breakfast"`
	Lunch     string `json:"lunch" yaml:"lunch"`
	Dinner    string `json:"dinner" yaml:"dinner"`
}

// WeeklyMenu is keyed by lowercase weekday name.
type WeeklyMenu map[string]MenuDay

type menuDoc struct {
	VendorID  string     `json:"vendorId"`
	Days      WeeklyMenu `json:"days"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type sessionDoc struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Role      string    `json:"role"`
	CSRFToken string    `json:"csrfToken"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func vendorKey(id string) string  { return docstore.Key("vendor", id) }
func userKey(id string) string    { return docstore.Key("user", id) }
func adminKey(id string) string   { return docstore.Key("admin", id) }
func menuKey(id string) string    { return docstore.Key("menu", id) }
func sessionKey(id string) string { return docstore.Key("session", id) }

func emailIndexKey(role, email string) string {
	return docstore.Key("idx", "email", role, normalizeEmail(email))
}

func trackingKey(userID string, month ledger.Month) string {
	return docstore.Key("tracking", userID, month.String())
}

func paidKey(userID string, month ledger.Month) string {
	return docstore.Key("paid", userID, month.String())
}

func billKey(userID string, month ledger.Month) string {
	return docstore.Key("bill", userID, month.String())
}

func paymentKey(userID, id string) string {
	return docstore.Key("payment", userID, id)
}

func billNumber(userID string, month ledger.Month) string {
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	return "INV-" + month.String() + "-" + strings.ToUpper(short)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// scanDocs decodes every document stored under prefix.
func scanDocs[T any](ctx context.Context, store *docstore.Store, prefix string) ([]T, error) {
	out := []T{}
	err := store.Scan(ctx, prefix, func(key string, raw []byte) error {
		var doc T
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, doc)
		return nil
	})
	return out, err
}
