package clientapp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestProxyForwardsSessionAndCSRF(t *testing.T) {
	var gotPath, gotCookie, gotCSRF, gotBody string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotCSRF = r.Header.Get("X-CSRF-Token")
		if c, err := r.Cookie("tiffin_session"); err == nil {
			gotCookie = c.Value
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		http.SetCookie(w, &http.Cookie{Name: "tiffin_session", Value: "fresh", Path: "/", HttpOnly: true})
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer api.Close()

	handler, err := newHandler(Config{APIBaseURL: api.URL + "/"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/intent?x=1", strings.NewReader(`{"months":["2024-03"]}`))
	req.AddCookie(&http.Cookie{Name: "tiffin_session", Value: "abc"})
	req.Header.Set("X-CSRF-Token", "token-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/api/payments/intent?x=1", gotPath)
	assert.Equal(t, "abc", gotCookie)
	assert.Equal(t, "token-1", gotCSRF)
	assert.Equal(t, `{"months":["2024-03"]}`, gotBody)
	assert.Contains(t, rec.Header().Get("Set-Cookie"), "tiffin_session=fresh")
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.Len(t, rec.Header().Values("Content-Security-Policy"), 1)
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "script-src 'self'")
}

func TestProxyReportsUnavailableAPI(t *testing.T) {
	api := httptest.NewServer(http.NotFoundHandler())
	url := api.URL
	api.Close()

	handler, err := newHandler(Config{APIBaseURL: url}, zaptest.NewLogger(t))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"api unavailable"}`, rec.Body.String())
}

func TestServesAppShellAndAssets(t *testing.T) {
	handler, err := newHandler(Config{APIBaseURL: "http://localhost:8080"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	for _, path := range []string{"/", "/bills", "/vendor/customers/abc"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `<script src="/assets/app.js" defer></script>`, path)
		assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "script-src 'self'")
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "X-CSRF-Token")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bills", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNewHandlerRejectsBadAPIURL(t *testing.T) {
	_, err := newHandler(Config{APIBaseURL: "localhost"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
