package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"invoicer/internal/auth"
	"invoicer/internal/core"
	applog "invoicer/internal/log"
)

// parseYear reads ?year=, defaulting to the current year.
func parseYear(r *http.Request) (int, bool) {
	v := strings.TrimSpace(r.URL.Query().Get("year"))
	if v == "" {
		return time.Now().Year(), true
	}
	y, err := strconv.Atoi(v)
	if err != nil || y < 1 || y > 9999 {
		return 0, false
	}
	return y, true
}

type earningsResponse struct {
	Year      int                    `json:"year"`
	YearTotal core.Yen               `json:"year_total"`
	Months    []core.MonthlyEarnings `json:"months"`
	Years     []int                  `json:"years"`
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	year, ok := parseYear(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, codeInvalidRequest, "year must be a number between 1 and 9999")
		return
	}
	user, _ := auth.UserFrom(r.Context())
	report, err := s.earnings.Year(r.Context(), user.ID, year)
	if err != nil {
		s.writeServiceError(w, r, "earnings", err)
		return
	}
	writeJSON(w, http.StatusOK, earningsResponse{
		Year:      report.Year,
		YearTotal: report.YearTotal,
		Months:    report.Months,
		Years:     report.Years,
	})
}

type earningsView struct {
	Year      int
	PrevYear  int
	NextYear  int
	YearTotal core.Yen
	Months    []core.MonthlyEarnings
}

// handleEarningsUI serves the full page, or only the section for htmx.
func (s *Server) handleEarningsUI(w http.ResponseWriter, r *http.Request) {
	year, ok := parseYear(r)
	if !ok {
		http.Error(w, "invalid year", http.StatusBadRequest)
		return
	}
	user, _ := auth.UserFrom(r.Context())
	report, err := s.earnings.Year(r.Context(), user.ID, year)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Earnings lookup failed", applog.FieldYear, year, applog.FieldError, err)
		http.Error(w, "could not load earnings", http.StatusInternalServerError)
		return
	}

	view := earningsView{
		Year:      report.Year,
		PrevYear:  report.Year - 1,
		NextYear:  report.Year + 1,
		YearTotal: report.YearTotal,
		Months:    report.Months,
	}
	name := "earnings-page"
	if r.Header.Get("HX-Request") == "true" {
		name = "earnings"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, view); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Earnings template execution failed", "template", name, applog.FieldError, err)
	}
}
