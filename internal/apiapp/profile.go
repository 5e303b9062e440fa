package apiapp

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/tiffinledger/tiffin/internal/docstore"
	"github.com/tiffinledger/tiffin/internal/imaging"
	"github.com/tiffinledger/tiffin/internal/ledger"
	"github.com/tiffinledger/tiffin/internal/security"
)

type updateProfileRequest struct {
	Name    string          `json:"name"`
	Phone   string          `json:"phone"`
	Address string          `json:"address"`
	Meals   ledger.DayMeals `json:"meals"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type selectVendorRequest struct {
	VendorID string `json:"vendorId"`
}

func (s *server) profileHandler(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	switch r.Method {
	case http.MethodGet:
		user, err := s.loadUser(r.Context(), sess.AccountID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user.view())
	case http.MethodPut:
		var req updateProfileRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		var updated userDoc
		err := s.store.Update(r.Context(), func(tx *docstore.Tx) error {
			if err := tx.Get(userKey(sess.AccountID), &updated); err != nil {
				return err
			}
			updated.Name = req.Name
			updated.Phone = strings.TrimSpace(req.Phone)
			updated.Address = strings.TrimSpace(req.Address)
			updated.Meals = req.Meals
			updated.UpdatedAt = s.now().UTC()
			return tx.Put(userKey(updated.ID), updated)
		})
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated.view())
	default:
		methodNotAllowed(w)
	}
}

func (s *server) profileRoutes(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r, "/api/profile/")
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	switch parts[0] {
	case "password":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		s.changeUserPassword(w, r)
	case "vendor":
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}
		s.selectVendor(w, r)
	case "photo":
		switch r.Method {
		case http.MethodGet:
			s.getUserPhoto(w, r)
		case http.MethodPost:
			s.uploadUserPhoto(w, r)
		default:
			methodNotAllowed(w)
		}
	default:
		http.NotFound(w, r)
	}
}

func (s *server) changeUserPassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess := sessionFromContext(r.Context())
	hash, err := security.HashPassword(req.NewPassword)
	if err != nil {
		s.respondError(w, r, badRequest("%s", err.Error()))
		return
	}
	err = s.store.Update(r.Context(), func(tx *docstore.Tx) error {
		var user userDoc
		if err := tx.Get(userKey(sess.AccountID), &user); err != nil {
			return err
		}
		if !security.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
			return newAPIError(http.StatusUnauthorized, "current password is incorrect")
		}
		user.PasswordHash = hash
		user.UpdatedAt = s.now().UTC()
		return tx.Put(userKey(user.ID), user)
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// selectVendor moves the user from their current roster to the new vendor's.
func (s *server) selectVendor(w http.ResponseWriter, r *http.Request) {
	var req selectVendorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.VendorID = strings.TrimSpace(req.VendorID)
	if req.VendorID == "" {
		writeError(w, http.StatusBadRequest, "vendorId is required")
		return
	}
	sess := sessionFromContext(r.Context())
	var updated userDoc
	err := s.store.Update(r.Context(), func(tx *docstore.Tx) error {
		if err := tx.Get(userKey(sess.AccountID), &updated); err != nil {
			return err
		}
		var next vendorDoc
		if err := tx.Get(vendorKey(req.VendorID), &next); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return newAPIError(http.StatusNotFound, "vendor not found")
			}
			return err
		}
		if updated.VendorID == next.ID {
			return nil
		}
		return s.assignCustomer(tx, &updated, &next)
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated.view())
}

// assignCustomer detaches user from any previous vendor and attaches it to vendor.
func (s *server) assignCustomer(tx *docstore.Tx, user *userDoc, vendor *vendorDoc) error {
	now := s.now().UTC()
	if user.VendorID != "" && user.VendorID != vendor.ID {
		var previous vendorDoc
		err := tx.Get(vendorKey(user.VendorID), &previous)
		switch {
		case err == nil:
			previous.removeCustomer(user.ID)
			previous.UpdatedAt = now
			if err := tx.Put(vendorKey(previous.ID), previous); err != nil {
				return err
			}
		case !errors.Is(err, docstore.ErrNotFound):
			return err
		}
	}
	vendor.addCustomer(user.ID)
	vendor.UpdatedAt = now
	if err := tx.Put(vendorKey(vendor.ID), *vendor); err != nil {
		return err
	}
	user.VendorID = vendor.ID
	user.UpdatedAt = now
	return tx.Put(userKey(user.ID), *user)
}

func (s *server) getUserPhoto(w http.ResponseWriter, r *http.Request) {
	user, err := s.loadUser(r.Context(), sessionFromContext(r.Context()).AccountID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(user.PhotoData) == 0 {
		http.NotFound(w, r)
		return
	}
	writeImage(w, user.PhotoMime, user.PhotoData)
}

func (s *server) uploadUserPhoto(w http.ResponseWriter, r *http.Request) {
	data, mime, err := parseUploadedImage(r, "photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess := sessionFromContext(r.Context())
	err = s.store.Update(r.Context(), func(tx *docstore.Tx) error {
		var user userDoc
		if err := tx.Get(userKey(sess.AccountID), &user); err != nil {
			return err
		}
		user.PhotoData = data
		user.PhotoMime = mime
		user.UpdatedAt = s.now().UTC()
		return tx.Put(userKey(user.ID), user)
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "photo uploaded"})
}

// parseUploadedImage reads a multipart image plus optional crop_x, crop_y and crop_size.
func parseUploadedImage(r *http.Request, field string) ([]byte, string, error) {
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes + (2 << 20)); err != nil {
		return nil, "", errors.New("invalid upload form")
	}
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, "", errors.New(field + " file is required")
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, imaging.MaxUploadBytes+1))
	if err != nil {
		return nil, "", errors.New("unable to read " + field + " file")
	}
	crop := imaging.Crop{
		X:    parsePositiveInt(r.FormValue("crop_x"), 0),
		Y:    parsePositiveInt(r.FormValue("crop_y"), 0),
		Size: parsePositiveInt(r.FormValue("crop_size"), 0),
	}
	return imaging.Process(raw, crop, imaging.DefaultTargetSize)
}

func writeImage(w http.ResponseWriter, mime string, data []byte) {
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write(data)
}

// listVendors is public so new users can pick a vendor before subscribing.
func (s *server) listVendors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	vendors, err := s.allVendors(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	views := make([]vendorView, 0, len(vendors))
	for _, v := range vendors {
		views = append(views, v.publicView())
	}
	sort.Slice(views, func(i, j int) bool {
		return strings.ToLower(views[i].BusinessName) < strings.ToLower(views[j].BusinessName)
	})
	writeJSON(w, http.StatusOK, map[string]any{"vendors": views})
}

func (s *server) vendorLogo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	parts := pathParts(r, "/api/public/vendor-logo/")
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	s.serveVendorLogo(w, r, parts[0])
}

func (s *server) serveVendorLogo(w http.ResponseWriter, r *http.Request, vendorID string) {
	vendor, err := s.loadVendor(r.Context(), vendorID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if len(vendor.LogoData) == 0 {
		http.NotFound(w, r)
		return
	}
	writeImage(w, vendor.LogoMime, vendor.LogoData)
}

func (s *server) userMenu(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, err := s.loadUser(r.Context(), sessionFromContext(r.Context()).AccountID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if user.VendorID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"vendorId": "", "menu": WeeklyMenu{}})
		return
	}
	menu, err := s.service.Menu(r.Context(), user.VendorID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vendorId": user.VendorID, "menu": menu})
}

func (s *server) allVendors(r *http.Request) ([]vendorDoc, error) {
	return scanDocs[vendorDoc](r.Context(), s.store, "vendor:")
}

func (s *server) allUsers(r *http.Request) ([]userDoc, error) {
	return scanDocs[userDoc](r.Context(), s.store, "user:")
}
