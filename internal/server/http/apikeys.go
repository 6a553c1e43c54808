package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/model"
)

type apiKeyInfo struct {
	UserID    string     `json:"userId"`
	HasAPIKey bool       `json:"hasApiKey"`
	Prefix    string     `json:"prefix,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

type issuedKey struct {
	apiKeyInfo
	APIKey string `json:"apiKey"`
}

func keyInfo(u model.User) apiKeyInfo {
	return apiKeyInfo{
		UserID:    u.ID.String(),
		HasAPIKey: u.HasAPIKey(),
		Prefix:    u.APIKeyPrefix,
		CreatedAt: u.APIKeyCreatedAt,
	}
}

func (s *Server) handleAPIKeys(w http.ResponseWriter, r *http.Request) {
	ac, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	action := r.URL.Query().Get("action")

	switch r.Method {
	case http.MethodGet:
		target, ok := s.targetUser(w, r, ac)
		if !ok {
			return
		}
		u, err := s.auth.GetUser(r.Context(), target)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, keyInfo(u))

	case http.MethodPost:
		switch action {
		case "regenerate":
			target, ok := s.targetUser(w, r, ac)
			if !ok {
				return
			}
			raw, u, err := s.auth.RegenerateAPIKey(r.Context(), target)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeOK(w, http.StatusOK, issuedKey{apiKeyInfo: keyInfo(u), APIKey: raw})
		case "create":
			if !ac.User.IsAdmin() {
				writeError(w, http.StatusForbidden, errs.CodeInsufficientPermissions, "Admin role required", nil)
				return
			}
			target, ok := s.createTarget(w, r)
			if !ok {
				return
			}
			raw, u, err := s.auth.CreateAPIKey(r.Context(), target)
			if err != nil {
				if errors.Is(err, errs.ErrAlreadyExists) {
					writeError(w, http.StatusConflict, errs.CodeAPIKeyExists, "User already has an API key; regenerate it instead", nil)
					return
				}
				s.writeServiceError(w, r, err)
				return
			}
			writeOK(w, http.StatusCreated, issuedKey{apiKeyInfo: keyInfo(u), APIKey: raw})
		default:
			writeError(w, http.StatusBadRequest, errs.CodeInvalidAction, "Unknown action "+strconv.Quote(action), nil)
		}

	case http.MethodDelete:
		target, ok := s.targetUser(w, r, ac)
		if !ok {
			return
		}
		if err := s.auth.RevokeAPIKey(r.Context(), target); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"userId": target.String(), "revoked": true})
	}
}

// createTarget reads the user ID from ?userId= or a {"userId": ...} body.
func (s *Server) createTarget(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("userId")
	if raw == "" {
		var body struct {
			UserID string `json:"userId"`
		}
		if !readJSON(w, r, &body, "Body must be a JSON object with userId") {
			return uuid.Nil, false
		}
		raw = body.UserID
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, errs.CodeInvalidRequestBody, "userId must be a UUID", map[string]string{"field": "userId"})
		return uuid.Nil, false
	}
	return id, true
}
