package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
)

const defaultStatsWindow = 24 * time.Hour

type requestLogView struct {
	ID           int64  `json:"id"`
	RequestID    string `json:"requestId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	Endpoint     string `json:"endpoint"`
	Method       string `json:"method"`
	StatusCode   int    `json:"statusCode"`
	ErrorCode    string `json:"errorCode,omitempty"`
	BusinessType string `json:"businessType,omitempty"`
	ImageCount   int    `json:"imageCount"`
	DurationMS   int64  `json:"processingTimeMs"`
	ClientIP     string `json:"clientIp,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

type systemLogView struct {
	ID        int64          `json:"id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

func toRequestLogViews(ls []model.RequestLog) []requestLogView {
	out := make([]requestLogView, 0, len(ls))
	for _, l := range ls {
		v := requestLogView{
			ID:           l.ID,
			RequestID:    l.RequestID,
			Endpoint:     l.Endpoint,
			Method:       l.Method,
			StatusCode:   l.StatusCode,
			ErrorCode:    l.ErrorCode,
			BusinessType: l.BusinessType,
			ImageCount:   l.ImageCount,
			DurationMS:   l.DurationMS,
			ClientIP:     l.ClientIP,
			CreatedAt:    l.CreatedAt.UTC().Format(timeLayout),
		}
		if l.UserID != nil {
			v.UserID = l.UserID.String()
		}
		out = append(out, v)
	}
	return out
}

func toSystemLogViews(ls []model.SystemLog) []systemLogView {
	out := make([]systemLogView, 0, len(ls))
	for _, l := range ls {
		out = append(out, systemLogView{
			ID:        l.ID,
			Level:     l.Level,
			Message:   l.Message,
			Context:   l.Context,
			CreatedAt: l.CreatedAt.UTC().Format(timeLayout),
		})
	}
	return out
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	action := r.URL.Query().Get("action")
	if r.Method == http.MethodGet && action == "" {
		action = "dashboard"
	}

	switch r.Method + " " + action {
	case "GET dashboard":
		s.adminDashboard(w, r)
	case "GET stats":
		since, ok := s.sinceParam(w, r)
		if !ok {
			return
		}
		st, err := s.admin.Stats(r.Context(), since)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"since": since.UTC().Format(timeLayout), "stats": st})
	case "GET logs":
		s.adminLogs(w, r)
	case "GET health":
		writeOK(w, http.StatusOK, s.admin.Health(r.Context()))
	case "GET users":
		users, err := s.auth.ListUsers(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"users": toUserViews(users), "total": len(users)})
	case "POST clear-logs":
		s.adminClearLogs(w, r)
	case "POST cleanup-rate-limits":
		n, err := s.admin.CleanupRateLimits(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"deleted": n})
	default:
		writeError(w, http.StatusBadRequest, errs.CodeInvalidAction, "Unknown action "+strconv.Quote(action), nil)
	}
}

func (s *Server) adminDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.admin.Dashboard(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"health":           d.Health,
		"users":            d.Users,
		"requests":         d.Requests,
		"recentErrors":     toSystemLogViews(d.RecentErrors),
		"activeRateLimits": d.ActiveRateLimits,
	})
}

func (s *Server) adminLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.LogFilter{Level: q.Get("level")}
	if raw := q.Get("since"); raw != "" {
		since, ok := s.sinceParam(w, r)
		if !ok {
			return
		}
		f.Since = since
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, errs.CodeInvalidRequestBody, "limit must be between 1 and 1000", map[string]string{"field": "limit"})
			return
		}
		f.Limit = n
	}
	if raw := q.Get("userId"); raw != "" {
		id, err := uuid.FromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errs.CodeInvalidRequestBody, "userId must be a UUID", map[string]string{"field": "userId"})
			return
		}
		f.UserID = &id
	}

	switch model.LogKind(q.Get("type")) {
	case "", model.LogKindRequest:
		logs, err := s.admin.RequestLogs(r.Context(), f)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"type": model.LogKindRequest, "logs": toRequestLogViews(logs)})
	case model.LogKindSystem:
		logs, err := s.admin.SystemLogs(r.Context(), f)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"type": model.LogKindSystem, "logs": toSystemLogViews(logs)})
	default:
		writeError(w, http.StatusBadRequest, errs.CodeInvalidRequestBody, "type must be request or system", map[string]string{"field": "type"})
	}
}

func (s *Server) adminClearLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := model.LogKind(q.Get("type"))
	if kind == "" {
		kind = model.LogKindAll
	}
	before := s.now()
	if raw := q.Get("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, errs.CodeInvalidRequestBody, "olderThan must be a duration such as 720h", map[string]string{"field": "olderThan"})
			return
		}
		before = before.Add(-d)
	}
	n, err := s.admin.ClearLogs(r.Context(), kind, before)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"type": kind, "deleted": n})
}

// sinceParam parses ?since= as a duration back from now or an RFC 3339 instant.
func (s *Server) sinceParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return s.now().Add(-defaultStatsWindow), true
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return s.now().Add(-d), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	writeError(w, http.StatusBadRequest, errs.CodeInvalidRequestBody, "since must be a duration or RFC 3339 time", map[string]string{"field": "since"})
	return time.Time{}, false
}
