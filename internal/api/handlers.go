package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/goodtune/screentime/internal/policy"
	"github.com/goodtune/screentime/internal/report"
	"github.com/goodtune/screentime/internal/storage"
)

// weekDays is the number of reports returned by the week endpoint.
const weekDays = 7

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// CheckResponse is a blocking decision. Error is set when evaluation failed
// and the app is allowed by default.
type CheckResponse struct {
	policy.Decision
	Error string `json:"error,omitempty"`
}

// StoredUsageResponse is the stored record of one day.
type StoredUsageResponse struct {
	Summary storage.DailySummary `json:"summary"`
	Apps    []storage.DailyUsage `json:"apps"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// writeStorageError maps storage errors onto HTTP statuses.
func (s *Server) writeStorageError(w http.ResponseWriter, err error, date string) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No usage stored for "+date)
		return
	}
	s.logger.Error().Err(err).Str("date", date).Msg("Failed to read stored usage")
	writeError(w, http.StatusInternalServerError, "Failed to read stored usage")
}

// parseDate resolves the {date} path variable: "today" or YYYY-MM-DD in the
// report time zone.
func (s *Server) parseDate(r *http.Request) (time.Time, error) {
	value := mux.Vars(r)["date"]
	if value == "today" {
		return s.builder.Now().In(s.builder.Location()), nil
	}
	return time.ParseInLocation(report.DateFormat, value, s.builder.Location())
}

func (s *Server) handleDays(w http.ResponseWriter, r *http.Request) {
	days, err := s.store.ListDays(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list stored days")
		writeError(w, http.StatusInternalServerError, "Failed to list stored days")
		return
	}
	if days == nil {
		days = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	day, err := s.parseDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD or today")
		return
	}

	rep, err := s.builder.Build(r.Context(), day)
	switch {
	case errors.Is(err, report.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, rep)
	case err != nil:
		s.logger.Error().Err(err).Time("day", day).Msg("Failed to build report")
		writeError(w, http.StatusInternalServerError, "Failed to build report")
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Server) handleStoredUsage(w http.ResponseWriter, r *http.Request) {
	day, err := s.parseDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD or today")
		return
	}
	date := storage.DateOf(day)

	summary, err := s.store.GetDailySummary(r.Context(), date)
	if err != nil {
		s.writeStorageError(w, err, date)
		return
	}

	apps, err := s.store.ListDailyUsage(r.Context(), date)
	if err != nil {
		s.writeStorageError(w, err, date)
		return
	}
	if apps == nil {
		apps = []storage.DailyUsage{}
	}

	writeJSON(w, http.StatusOK, StoredUsageResponse{Summary: *summary, Apps: apps})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	day, err := s.parseDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD or today")
		return
	}
	date := storage.DateOf(day)

	if _, err := s.store.GetDailySummary(r.Context(), date); err != nil {
		s.writeStorageError(w, err, date)
		return
	}

	sessions, err := s.store.ListSessions(r.Context(), date)
	if err != nil {
		s.writeStorageError(w, err, date)
		return
	}
	if sessions == nil {
		sessions = []storage.UsageSession{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":     date,
		"sessions": sessions,
	})
}

func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	day, err := s.parseDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD or today")
		return
	}

	reports, err := s.builder.BuildRange(r.Context(), day.AddDate(0, 0, -(weekDays-1)), weekDays)
	switch {
	case errors.Is(err, report.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, map[string]any{"status": report.StatusNoData, "reports": reports})
	case err != nil:
		s.logger.Error().Err(err).Time("day", day).Msg("Failed to build weekly reports")
		writeError(w, http.StatusInternalServerError, "Failed to build reports")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": report.StatusOK, "reports": reports})
	}
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	appID := mux.Vars(r)["app"]

	// Schedule rules still apply when usage cannot be read
	rep, err := s.builder.Build(r.Context(), s.builder.Now())
	if err != nil && !errors.Is(err, report.ErrPermissionDenied) {
		s.logger.Error().Err(err).Str("app", appID).Msg("Failed to build report for check")
		writeError(w, http.StatusInternalServerError, "Failed to build report")
		return
	}

	decision, err := s.policy.Evaluate(r.Context(), rep, appID)
	resp := CheckResponse{Decision: decision}
	if err != nil {
		s.logger.Warn().Err(err).Str("app", appID).Msg("Policy evaluation failed, allowing")
		resp.Error = "policy evaluation failed"
	}

	writeJSON(w, http.StatusOK, resp)
}
