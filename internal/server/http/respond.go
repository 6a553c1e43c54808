package httpserver

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success   bool      `json:"success"`
	Error     errorBody `json:"error"`
	Timestamp string    `json:"timestamp"`
}

type successEnvelope struct {
	Success   bool           `json:"success"`
	Data      any            `json:"data,omitempty"`
	RateLimit *rateLimitView `json:"rateLimit,omitempty"`
	Timestamp string         `json:"timestamp"`
}

type rateLimitView struct {
	Remaining int   `json:"remaining"`
	ResetTime int64 `json:"resetTime"` // epoch ms
	Limit     int   `json:"limit"`
}

const timeLayout = time.RFC3339Nano

func timestamp() string { return time.Now().UTC().Format(timeLayout) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data, Timestamp: timestamp()})
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{
		Error:     errorBody{Code: code, Message: message, Details: details},
		Timestamp: timestamp(),
	})
}

// errorStatus maps service errors to a status, public code and message.
// Messages for 5xx never include the underlying error.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, errs.CodeAuthenticationRequired, "Invalid or expired credentials"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, errs.CodeInsufficientPermissions, "Insufficient permissions"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, errs.CodeUserNotFound, "User not found"
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, errs.CodeUserAlreadyExists, "User already exists"
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, errs.CodeInvalidRequestBody, err.Error()
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, errs.CodeRateLimitExceeded, "Rate limit exceeded"
	case errors.Is(err, errs.ErrClassifierTimeout):
		return http.StatusGatewayTimeout, errs.CodeClassificationTimeout, "Classification timed out"
	default:
		return http.StatusInternalServerError, errs.CodeInternal, "Internal server error"
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestIDFromCtx(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, code, msg, nil)
}

type userView struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Role            model.Role `json:"role"`
	RateLimit       int        `json:"rateLimit"`
	IsActive        bool       `json:"isActive"`
	HasAPIKey       bool       `json:"hasApiKey"`
	APIKeyPrefix    string     `json:"apiKeyPrefix,omitempty"`
	APIKeyCreatedAt *time.Time `json:"apiKeyCreatedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	LastLoginAt     *time.Time `json:"lastLoginAt,omitempty"`
}

func toUserView(u model.User) userView {
	return userView{
		ID:              u.ID.String(),
		Email:           u.Email,
		Role:            u.Role,
		RateLimit:       u.RateLimit,
		IsActive:        u.IsActive,
		HasAPIKey:       u.HasAPIKey(),
		APIKeyPrefix:    u.APIKeyPrefix,
		APIKeyCreatedAt: u.APIKeyCreatedAt,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
		LastLoginAt:     u.LastLoginAt,
	}
}

func toUserViews(us []model.User) []userView {
	out := make([]userView, 0, len(us))
	for _, u := range us {
		out = append(out, toUserView(u))
	}
	return out
}

// maxJSONBody caps request bodies outside /classify.
const maxJSONBody = 1 << 20

var errContentType = errors.New("content type must be application/json")

// decodeJSON reads a JSON body of at most maxJSONBody bytes into v.
// A missing Content-Type is accepted.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
			return errContentType
		}
	}
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
}

// readJSON decodes the body into v and answers 415, 413 or 400 (with msg)
// when that fails.
func readJSON(w http.ResponseWriter, r *http.Request, v any, msg string) bool {
	err := decodeJSON(w, r, v)
	if err == nil {
		return true
	}
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, errContentType):
		writeError(w, http.StatusUnsupportedMediaType, errs.CodeInvalidContentType, "Content-Type must be application/json", nil)
	case errors.As(err, &mbe):
		writeError(w, http.StatusRequestEntityTooLarge, errs.CodeRequestTooLarge,
			"Request body exceeds "+strconv.FormatInt(mbe.Limit, 10)+" bytes", nil)
	default:
		writeError(w, http.StatusBadRequest, errs.CodeInvalidRequestBody, msg, nil)
	}
	return false
}
