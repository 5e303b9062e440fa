package apiapp

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func multipartRequest(t *testing.T, path, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func rosterWorkbook(t *testing.T, emails ...string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Email"))
	for i, email := range emails {
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue("Sheet1", cellName, email))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		for y := 0; y < 20; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestVendorRoster(t *testing.T) {
	env := newTestEnv(t)
	env.registerVendor("kitchen@example.com", "Asha's Kitchen")
	env.registerVendor("rival@example.com", "Rival Kitchen")
	env.registerUser("ravi@example.com", "Ravi")
	env.registerUser("meera@example.com", "Meera")
	env.registerUser("taken@example.com", "Taken")
	vendor := env.login(roleVendor, "kitchen@example.com")
	rival := env.login(roleVendor, "rival@example.com")

	rec := env.do(rival, http.MethodPost, "/api/vendor/customers", map[string]string{"email": "taken@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(vendor, http.MethodPost, "/api/vendor/customers", map[string]string{"email": "Ravi@Example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(vendor, http.MethodPost, "/api/vendor/customers", map[string]string{"email": "ravi@example.com"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(vendor, http.MethodPost, "/api/vendor/customers", map[string]string{"email": "taken@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.do(vendor, http.MethodPost, "/api/vendor/customers", map[string]string{"email": "ghost@example.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := multipartRequest(t, "/api/vendor/customers/import", "roster_file", "roster.xlsx",
		rosterWorkbook(t, "meera@example.com", "ravi@example.com", "ghost@example.com", "taken@example.com", "not-an-email"))
	rec = env.send(vendor, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result importCustomersResult
	decode(t, rec, &result)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.AlreadyPresent)
	assert.Equal(t, []string{"ghost@example.com"}, result.NotFound)
	assert.Equal(t, []string{"taken@example.com"}, result.OtherVendor)
	assert.Equal(t, []int{6}, result.InvalidLines)

	rec = env.do(vendor, http.MethodGet, "/api/vendor/customers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roster struct {
		Customers []customerSummary `json:"customers"`
	}
	decode(t, rec, &roster)
	require.Len(t, roster.Customers, 2)
	assert.Equal(t, "Meera", roster.Customers[0].User.Name)
	assert.Equal(t, "empty", roster.Customers[0].Status)

	meeraID := roster.Customers[0].User.ID
	rec = env.do(vendor, http.MethodDelete, "/api/vendor/customers/"+meeraID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(vendor, http.MethodDelete, "/api/vendor/customers/"+meeraID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	meera, err := env.srv.loadUser(context.Background(), meeraID)
	require.NoError(t, err)
	assert.Empty(t, meera.VendorID)
}

func TestVendorRevenue(t *testing.T) {
	env := newTestEnv(t)
	vendor, user := env.subscribedUser()
	require.Equal(t, http.StatusOK, env.do(user, http.MethodPut, "/api/tracking/2024-02/days/1", fullDay).Code)
	require.Equal(t, http.StatusOK, env.do(user, http.MethodPut, "/api/tracking/2024-03/days/1", map[string]bool{"lunch": true}).Code)
	require.Equal(t, http.StatusOK, env.do(vendor, http.MethodPut,
		"/api/vendor/customers/"+user.id+"/paid-tracking/2024-02/days/1", fullDay).Code)

	rec := env.do(vendor, http.MethodGet, "/api/vendor/revenue?from=2024-01&to=2024-03", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var revenue struct {
		Months []struct {
			Month string `json:"month"`
			Total struct {
				Delivered int `json:"delivered"`
				Paid      int `json:"paid"`
			} `json:"total"`
		} `json:"months"`
		Customers []customerRevenueView `json:"customers"`
	}
	decode(t, rec, &revenue)
	require.Len(t, revenue.Months, 3)
	assert.Equal(t, "2024-01", revenue.Months[0].Month)
	assert.Equal(t, 0, revenue.Months[0].Total.Delivered)
	assert.Equal(t, 3, revenue.Months[1].Total.Paid)
	assert.Equal(t, 1, revenue.Months[2].Total.Delivered)
	require.Len(t, revenue.Customers, 2)
	assert.Equal(t, "Ravi", revenue.Customers[0].Name)

	rec = env.do(vendor, http.MethodGet, "/api/vendor/revenue/export.xlsx?from=2024-02&to=2024-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "revenue-2024-02-to-2024-03.xlsx")
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Customers")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestVendorMenu(t *testing.T) {
	env := newTestEnv(t)
	vendor, user := env.subscribedUser()

	rec := env.do(vendor, http.MethodPut, "/api/vendor/menu", map[string]any{
		"menu": map[string]any{"Monday": map[string]string{"breakfast": " Poha ", "lunch": "Dal rice", "dinner": "Roti sabzi"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(vendor, http.MethodPut, "/api/vendor/menu", map[string]any{
		"menu": map[string]any{"funday": map[string]string{"lunch": "Cake"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(user, http.MethodGet, "/api/menu", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Menu WeeklyMenu `json:"menu"`
	}
	decode(t, rec, &body)
	assert.Equal(t, MenuDay{Breakfast: "Poha", Lunch: "Dal rice", Dinner: "Roti sabzi"}, body.Menu["monday"])
}

func TestVendorProfileAndLogo(t *testing.T) {
	env := newTestEnv(t)
	vendor, user := env.subscribedUser()

	rec := env.do(vendor, http.MethodPut, "/api/vendor/profile", map[string]any{
		"businessName": "Asha's Kitchen", "ownerName": "Asha", "upiId": "asha@okicici",
		"ratePerDay": 120, "mealRates": map[string]any{"lunch": 50}, "telegramChatId": 4242,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var profile struct {
		Vendor         vendorView `json:"vendor"`
		EffectiveRates struct {
			Breakfast string `json:"breakfast"`
			Lunch     string `json:"lunch"`
		} `json:"effectiveRates"`
	}
	decode(t, rec, &profile)
	assert.Equal(t, "50.00", profile.EffectiveRates.Lunch)
	assert.Equal(t, "40.00", profile.EffectiveRates.Breakfast)
	assert.Equal(t, int64(4242), profile.Vendor.TelegramChatID)

	rec = env.do(vendor, http.MethodPut, "/api/vendor/profile", map[string]any{"businessName": "", "ratePerDay": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.send(vendor, multipartRequest(t, "/api/vendor/profile/logo", "logo", "logo.png", samplePNG(t)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(nil, http.MethodGet, "/api/public/vendor-logo/"+vendor.id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, []string{"image/png", "image/webp"}, rec.Header().Get("Content-Type"))

	rec = env.send(user, multipartRequest(t, "/api/profile/photo", "photo", "me.txt", []byte("not an image")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.send(user, multipartRequest(t, "/api/profile/photo", "photo", "me.png", samplePNG(t)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(user, http.MethodGet, "/api/profile/photo", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
