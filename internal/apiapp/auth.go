package apiapp

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tiffinledger/tiffin/internal/docstore"
	"github.com/tiffinledger/tiffin/internal/ledger"
	"github.com/tiffinledger/tiffin/internal/security"
	"github.com/tiffinledger/tiffin/internal/upi"
)

type registerRequest struct {
	Role         string          `json:"role"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Password     string          `json:"password"`
	Phone        string          `json:"phone"`
	Address      string          `json:"address"`
	BusinessName string          `json:"businessName"`
	RatePerDay   decimal.Decimal `json:"ratePerDay"`
	MealRates    ledger.Rates    `json:"mealRates"`
	UPIID        string          `json:"upiId"`
}

type loginRequest struct {
	Role     string `json:"role"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func validateRegister(req *registerRequest) error {
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	req.BusinessName = strings.TrimSpace(req.BusinessName)
	req.UPIID = strings.TrimSpace(req.UPIID)
	if req.Role != roleUser && req.Role != roleVendor {
		return badRequest("role must be user or vendor")
	}
	if req.Name == "" {
		return badRequest("name is required")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil || req.Email == "" {
		return badRequest("a valid email is required")
	}
	if len(req.Password) < security.MinPasswordLength {
		return badRequest("password must be at least %d characters", security.MinPasswordLength)
	}
	if req.Role == roleVendor {
		if req.BusinessName == "" {
			return badRequest("businessName is required for vendors")
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
	}
	return nil
}

func (s *server) register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateRegister(&req); err != nil {
		s.respondError(w, r, err)
		return
	}
	hash, err := security.HashPassword(req.Password)
	if err != nil {
		s.respondError(w, r, badRequest("%s", err.Error()))
		return
	}

	now := s.now().UTC()
	id := uuid.NewString()
	err = s.store.Update(r.Context(), func(tx *docstore.Tx) error {
		taken, err := tx.Exists(emailIndexKey(req.Role, req.Email))
		if err != nil {
			return err
		}
		if taken {
			return conflict("an account with this email already exists")
		}
		if err := tx.Put(emailIndexKey(req.Role, req.Email), id); err != nil {
			return err
		}
		if req.Role == roleVendor {
			return tx.Put(vendorKey(id), vendorDoc{
				ID:           id,
				Email:        req.Email,
				PasswordHash: hash,
				BusinessName: req.BusinessName,
				OwnerName:    req.Name,
				Phone:        strings.TrimSpace(req.Phone),
				Address:      strings.TrimSpace(req.Address),
				UPIID:        req.UPIID,
				RatePerDay:   req.RatePerDay,
				MealRates:    req.MealRates,
				CustomerIDs:  []string{},
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}
		return tx.Put(userKey(id), userDoc{
			ID:           id,
			Email:        req.Email,
			PasswordHash: hash,
			Name:         req.Name,
			Phone:        strings.TrimSpace(req.Phone),
			Address:      strings.TrimSpace(req.Address),
			Meals:        ledger.DayMeals{Breakfast: true, Lunch: true, Dinner: true},
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id, "role": req.Role})
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if req.Role == "" {
		req.Role = roleUser
	}

	accountID, hash, err := s.lookupCredentials(r.Context(), req.Role, req.Email)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.respondError(w, r, err)
		return
	}
	if !security.VerifyPassword(req.Password, hash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	sessionID, err := security.RandomToken(32)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	csrf, err := security.RandomToken(32)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	now := s.now().UTC()
	sess := sessionDoc{
		ID:        sessionID,
		AccountID: accountID,
		Role:      req.Role,
		CSRFToken: csrf,
		ExpiresAt: now.Add(s.sessionTTL),
		CreatedAt: now,
	}
	if err := s.store.Put(r.Context(), sessionKey(sessionID), sess); err != nil {
		s.respondError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(s.sessionTTL.Seconds()),
		Expires:  sess.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"id":        accountID,
		"role":      req.Role,
		"csrfToken": csrf,
	})
}

// lookupCredentials resolves an email (or admin username) to an account id and hash.
func (s *server) lookupCredentials(ctx context.Context, role, email string) (string, string, error) {
	var id string
	switch role {
	case roleUser, roleVendor, roleAdmin:
	default:
		return "", "", docstore.ErrNotFound
	}
	if err := s.store.Get(ctx, emailIndexKey(role, email), &id); err != nil {
		return "", "", err
	}
	switch role {
	case roleVendor:
		var v vendorDoc
		if err := s.store.Get(ctx, vendorKey(id), &v); err != nil {
			return "", "", err
		}
		return id, v.PasswordHash, nil
	case roleAdmin:
		var a adminDoc
		if err := s.store.Get(ctx, adminKey(id), &a); err != nil {
			return "", "", err
		}
		return id, a.PasswordHash, nil
	default:
		var u userDoc
		if err := s.store.Get(ctx, userKey(id), &u); err != nil {
			return "", "", err
		}
		return id, u.PasswordHash, nil
	}
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	sess := sessionFromContext(r.Context())
	resp := map[string]any{"id": sess.AccountID, "role": sess.Role}
	switch sess.Role {
	case roleUser:
		user, err := s.loadUser(r.Context(), sess.AccountID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		resp["user"] = user.view()
	case roleVendor:
		vendor, err := s.loadVendor(r.Context(), sess.AccountID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		resp["vendor"] = vendor.ownerView()
	case roleAdmin:
		var admin adminDoc
		if err := s.store.Get(r.Context(), adminKey(sess.AccountID), &admin); err != nil {
			s.respondError(w, r, err)
			return
		}
		resp["username"] = admin.Username
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) csrfToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": sessionFromContext(r.Context()).CSRFToken})
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	sess := sessionFromContext(r.Context())
	_ = s.store.Delete(r.Context(), sessionKey(sess.ID))
	expireSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

// lookupSession drops expired sessions as it finds them.
func (s *server) lookupSession(ctx context.Context, id string) (*sessionDoc, error) {
	var sess sessionDoc
	if err := s.store.Get(ctx, sessionKey(id), &sess); err != nil {
		return nil, err
	}
	if !s.now().UTC().Before(sess.ExpiresAt) {
		_ = s.store.Delete(ctx, sessionKey(id))
		return nil, docstore.ErrNotFound
	}
	return &sess, nil
}

func (s *server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || strings.TrimSpace(cookie.Value) == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			sess, err := s.lookupSession(r.Context(), cookie.Value)
			if err != nil {
				if errors.Is(err, docstore.ErrNotFound) {
					expireSessionCookie(w)
					writeError(w, http.StatusUnauthorized, "authentication required")
					return
				}
				s.respondError(w, r, err)
				return
			}
			allowed := false
			for _, role := range roles {
				if sess.Role == role {
					allowed = true
					break
				}
			}
			if !allowed {
				writeError(w, http.StatusForbidden, roles[0]+" access required")
				return
			}
			ctx := context.WithValue(r.Context(), sessionContextKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *server) csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}
		sess := sessionFromContext(r.Context())
		if sess == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		token := strings.TrimSpace(r.Header.Get(csrfHeaderName))
		if token == "" || token != sess.CSRFToken {
			writeError(w, http.StatusForbidden, "csrf validation failed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionFromContext(ctx context.Context) *sessionDoc {
	sess, _ := ctx.Value(sessionContextKey).(*sessionDoc)
	return sess
}

func expireSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

func (s *server) loadUser(ctx context.Context, id string) (userDoc, error) {
	var user userDoc
	err := s.store.Get(ctx, userKey(id), &user)
	return user, err
}

func (s *server) loadVendor(ctx context.Context, id string) (vendorDoc, error) {
	var vendor vendorDoc
	err := s.store.Get(ctx, vendorKey(id), &vendor)
	return vendor, err
}
