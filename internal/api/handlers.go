package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"sponsorscope/pkg/store"
)

// usersResponse is the paginated user listing envelope
type usersResponse struct {
	Users []store.User `json:"users"`
	Total int          `json:"total"`
}

// handleListUsers serves GET /api/users with filtering, multi-field sorting
// and pagination
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Filter parameters repeat to match any of several values.
	opts := store.ListOptions{
		Page:     parseIntDefault(q.Get("page"), 1),
		PerPage:  parseIntDefault(q.Get("per_page"), s.cfg.DefaultPageSize),
		Gender:   q["gender"],
		Type:     q["type"],
		Location: q["location"],
	}
	if opts.PerPage > s.cfg.MaxPageSize {
		opts.PerPage = s.cfg.MaxPageSize
	}

	// sortField and sortOrder pair positionally; a missing order means
	// ascending.
	fields := q["sortField"]
	orders := q["sortOrder"]
	for i, field := range fields {
		desc := false
		if i < len(orders) && orders[i] == "desc" {
			desc = true
		}
		opts.Sort = append(opts.Sort, store.SortField{Field: field, Desc: desc})
	}

	users, total, err := s.store.ListUsers(opts)
	if err != nil {
		s.logger.WithError(err).Error("user listing failed")
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if users == nil {
		users = []store.User{}
	}

	s.respondJSON(w, http.StatusOK, usersResponse{Users: users, Total: total})
}

// handleListLocations serves GET /api/users/locations
func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := s.store.ListLocations()
	if err != nil {
		s.logger.WithError(err).Error("location listing failed")
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if locations == nil {
		locations = []store.LocationCount{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"locations": locations})
}

// handleStats serves GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.WithError(err).Error("stats query failed")
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.respondJSON(w, http.StatusOK, stats)
}

// userResponse is the user detail envelope
type userResponse struct {
	User     store.User           `json:"user"`
	Activity []store.YearActivity `json:"activity"`
}

// handleGetUser serves GET /api/user/{id} with yearly activity
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.store.GetUserByID(id)
	if errors.Is(err, store.ErrUserNotFound) {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("user lookup failed")
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	activity, err := s.store.ListYearActivity(id)
	if err != nil {
		s.logger.WithError(err).Error("activity lookup failed")
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if activity == nil {
		activity = []store.YearActivity{}
	}

	s.respondJSON(w, http.StatusOK, userResponse{User: *user, Activity: activity})
}

// handleSponsorshipHistory serves GET /api/user/{id}/sponsorship-history.
// The interval parameter selects the weekly or monthly series.
func (s *Server) handleSponsorshipHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = store.IntervalWeekly
	}
	if interval != store.IntervalWeekly && interval != store.IntervalMonthly {
		s.respondError(w, http.StatusBadRequest, "interval must be W or M")
		return
	}

	if _, err := s.store.GetUserByID(id); errors.Is(err, store.ErrUserNotFound) {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	} else if err != nil {
		s.logger.WithError(err).Error("user lookup failed")
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	history, err := s.store.SponsorshipHistory(id, interval)
	if err != nil {
		s.logger.WithError(err).Error("history query failed")
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if history == nil {
		history = []store.SponsorshipSnapshot{}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"interval": interval,
		"history":  history,
	})
}

// parseIntDefault parses a positive integer, falling back on bad input
func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return def
	}
	return val
}
