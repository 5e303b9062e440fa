package apiapp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiffinledger/tiffin/internal/docstore"
	"github.com/tiffinledger/tiffin/internal/notify"
	"go.uber.org/zap/zaptest"
)

const testPassword = "correct-horse-9"

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.PaymentNotice
}

func (n *recordingNotifier) PaymentConfirmed(_ context.Context, notice notify.PaymentNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

type testEnv struct {
	t        *testing.T
	srv      *server
	handler  http.Handler
	notifier *recordingNotifier
}

// session is a logged-in client.
type session struct {
	id     string
	cookie *http.Cookie
	csrf   string
}

// newTestEnv pins the clock to 2024-03-20 so March 2024 is the current month.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := docstore.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	notifier := &recordingNotifier{}
	srv, err := newServer(Config{TimeZone: "UTC", SessionTTL: time.Hour}, Deps{
		Store:    store,
		Notifier: notifier,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	fixed := func() time.Time { return time.Date(2024, time.March, 20, 9, 30, 0, 0, time.UTC) }
	srv.now = fixed
	srv.service.now = fixed

	return &testEnv{t: t, srv: srv, handler: srv.handler(), notifier: notifier}
}

func (e *testEnv) do(c *session, method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(c, req)
}

func (e *testEnv) send(c *session, req *http.Request) *httptest.ResponseRecorder {
	if c != nil {
		req.AddCookie(c.cookie)
		req.Header.Set(csrfHeaderName, c.csrf)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) registerUser(email, name string) {
	e.t.Helper()
	rec := e.do(nil, http.MethodPost, "/api/auth/register", map[string]any{
		"role":     roleUser,
		"name":     name,
		"email":    email,
		"password": testPassword,
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (e *testEnv) registerVendor(email, business string) {
	e.t.Helper()
	rec := e.do(nil, http.MethodPost, "/api/auth/register", map[string]any{
		"role":         roleVendor,
		"name":         "Owner of " + business,
		"email":        email,
		"password":     testPassword,
		"businessName": business,
		"ratePerDay":   90,
		"upiId":        "meals@okaxis",
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (e *testEnv) login(role, email string) *session {
	e.t.Helper()
	rec := e.do(nil, http.MethodPost, "/api/auth/login", map[string]any{
		"role":     role,
		"email":    email,
		"password": testPassword,
	})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	var body map[string]string
	decode(e.t, rec, &body)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	require.NotNil(e.t, cookie)
	return &session{id: body["id"], cookie: cookie, csrf: body["csrfToken"]}
}

// subscribedUser registers a vendor and a user who has picked that vendor.
func (e *testEnv) subscribedUser() (vendor, user *session) {
	e.t.Helper()
	e.registerVendor("kitchen@example.com", "Asha's Kitchen")
	e.registerUser("ravi@example.com", "Ravi")
	vendor = e.login(roleVendor, "kitchen@example.com")
	user = e.login(roleUser, "ravi@example.com")
	rec := e.do(user, http.MethodPut, "/api/profile/vendor", map[string]string{"vendorId": vendor.id})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	return vendor, user
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(nil, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]map[string]any{
		"bad role":       {"role": "chef", "name": "A", "email": "a@example.com", "password": testPassword},
		"bad email":      {"role": "user", "name": "A", "email": "nope", "password": testPassword},
		"short password": {"role": "user", "name": "A", "email": "a@example.com", "password": "short"},
		"vendor no name": {"role": "vendor", "name": "A", "email": "v@example.com", "password": testPassword},
		"vendor bad upi": {"role": "vendor", "name": "A", "email": "v@example.com", "password": testPassword, "businessName": "B", "upiId": "not a vpa"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(nil, http.MethodPost, "/api/auth/register", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRegisterLoginLogout(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser("Ravi@Example.com", "Ravi")

	rec := env.do(nil, http.MethodPost, "/api/auth/register", map[string]any{
		"role": roleUser, "name": "Ravi again", "email": "ravi@example.com", "password": testPassword,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(nil, http.MethodPost, "/api/auth/login", map[string]any{
		"role": roleUser, "email": "ravi@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(nil, http.MethodPost, "/api/auth/login", map[string]any{
		"role": roleVendor, "email": "ravi@example.com", "password": testPassword,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "accounts are scoped by role")

	user := env.login(roleUser, "ravi@example.com")
	rec = env.do(user, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me struct {
		Role string   `json:"role"`
		User userView `json:"user"`
	}
	decode(t, rec, &me)
	assert.Equal(t, roleUser, me.Role)
	assert.Equal(t, "ravi@example.com", me.User.Email)
	assert.True(t, me.User.Meals.Lunch)

	noCSRF := *user
	noCSRF.csrf = ""
	rec = env.do(&noCSRF, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(user, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(user, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpiredSessionIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.registerUser("ravi@example.com", "Ravi")
	user := env.login(roleUser, "ravi@example.com")

	later := func() time.Time { return time.Date(2024, time.March, 20, 12, 0, 0, 0, time.UTC) }
	env.srv.now = later
	rec := env.do(user, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	err := env.srv.store.Get(context.Background(), sessionKey(user.cookie.Value), &sessionDoc{})
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestRoleEnforcement(t *testing.T) {
	env := newTestEnv(t)
	vendor, user := env.subscribedUser()

	assert.Equal(t, http.StatusForbidden, env.do(user, http.MethodGet, "/api/vendor/profile", nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(vendor, http.MethodGet, "/api/tracking/2024-03", nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(user, http.MethodGet, "/api/admin/users", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(nil, http.MethodGet, "/api/profile", nil).Code)
}

func TestAdminLists(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.srv.service.EnsureAdmin(context.Background(), "root", testPassword))
	// A second call resets rather than duplicates.
	require.NoError(t, env.srv.service.EnsureAdmin(context.Background(), "root", testPassword))
	env.subscribedUser()
	env.registerUser("meera@example.com", "Meera")

	admin := env.login(roleAdmin, "root")
	rec := env.do(admin, http.MethodGet, "/api/admin/users?per_page=1&page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users struct {
		Count      int        `json:"count"`
		Page       int        `json:"page"`
		TotalPages int        `json:"totalPages"`
		Users      []userView `json:"users"`
	}
	decode(t, rec, &users)
	assert.Equal(t, 2, users.Count)
	assert.Equal(t, 2, users.Page)
	assert.Equal(t, 2, users.TotalPages)
	assert.Len(t, users.Users, 1)

	rec = env.do(admin, http.MethodGet, "/api/admin/vendors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var vendors struct {
		Vendors []vendorView `json:"vendors"`
	}
	decode(t, rec, &vendors)
	require.Len(t, vendors.Vendors, 1)
	assert.Equal(t, 1, vendors.Vendors[0].CustomerCount)
}

func TestProfileAndVendorSwitch(t *testing.T) {
	env := newTestEnv(t)
	first, user := env.subscribedUser()
	env.registerVendor("second@example.com", "Second Kitchen")
	second := env.login(roleVendor, "second@example.com")

	rec := env.do(user, http.MethodPut, "/api/profile", map[string]any{
		"name": "Ravi K", "phone": "98450", "address": "Indiranagar",
		"meals": map[string]bool{"breakfast": false, "lunch": true, "dinner": true},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var profile userView
	decode(t, rec, &profile)
	assert.Equal(t, "Ravi K", profile.Name)
	assert.False(t, profile.Meals.Breakfast)

	rec = env.do(user, http.MethodPut, "/api/profile/vendor", map[string]string{"vendorId": second.id})
	require.Equal(t, http.StatusOK, rec.Code)

	var firstDoc, secondDoc vendorDoc
	require.NoError(t, env.srv.store.Get(context.Background(), vendorKey(first.id), &firstDoc))
	require.NoError(t, env.srv.store.Get(context.Background(), vendorKey(second.id), &secondDoc))
	assert.False(t, firstDoc.hasCustomer(user.id))
	assert.True(t, secondDoc.hasCustomer(user.id))

	rec = env.do(user, http.MethodPut, "/api/profile/vendor", map[string]string{"vendorId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(user, http.MethodPut, "/api/profile/password", map[string]string{
		"currentPassword": "not-it-at-all", "newPassword": "another-pass-1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(user, http.MethodPut, "/api/profile/password", map[string]string{
		"currentPassword": testPassword, "newPassword": "another-pass-1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublicVendorListHidesContactDetails(t *testing.T) {
	env := newTestEnv(t)
	env.registerVendor("kitchen@example.com", "Asha's Kitchen")

	rec := env.do(nil, http.MethodGet, "/api/vendors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "kitchen@example.com")
	assert.NotContains(t, rec.Body.String(), "okaxis")

	var body struct {
		Vendors []vendorView `json:"vendors"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Vendors, 1)
	assert.Equal(t, "30", body.Vendors[0].MealRates.Lunch.String())
}
