package apiapp

import (
	"net/http"
	"sort"
)

type pageInfo struct {
	Count      int `json:"count"`
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalPages int `json:"totalPages"`
}

// paginate reads ?page=&per_page= and returns the bounds of the requested page.
func paginate(r *http.Request, total int) (pageInfo, int, int) {
	page := parsePositiveInt(r.URL.Query().Get("page"), 1)
	perPage := parsePositiveInt(r.URL.Query().Get("per_page"), defaultPerPage)
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	totalPages := 1
	if total > 0 {
		totalPages = (total + perPage - 1) / perPage
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return pageInfo{Count: total, Page: page, PerPage: perPage, TotalPages: totalPages}, start, end
}

func (s *server) adminListVendors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	vendors, err := s.allVendors(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	// Newest first.
	sort.Slice(vendors, func(i, j int) bool { return vendors[i].CreatedAt.After(vendors[j].CreatedAt) })
	info, start, end := paginate(r, len(vendors))
	views := make([]vendorView, 0, end-start)
	for _, v := range vendors[start:end] {
		views = append(views, v.ownerView())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      info.Count,
		"page":       info.Page,
		"perPage":    info.PerPage,
		"totalPages": info.TotalPages,
		"vendors":    views,
	})
}

func (s *server) adminListUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.allUsers(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	info, start, end := paginate(r, len(users))
	views := make([]userView, 0, end-start)
	for _, u := range users[start:end] {
		views = append(views, u.view())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":      info.Count,
		"page":       info.Page,
		"perPage":    info.PerPage,
		"totalPages": info.TotalPages,
		"users":      views,
	})
}
