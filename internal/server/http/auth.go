package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/qris-classifier/internal/errs"
	"github.com/and161185/qris-classifier/internal/limiter"
	"github.com/and161185/qris-classifier/internal/model"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expiresAt"`
	User      userView `json:"user"`
}

type createUserRequest struct {
	Email     string     `json:"email"`
	Password  string     `json:"password"`
	Role      model.Role `json:"role"`
	RateLimit int        `json:"rateLimit"`
}

type createUserResponse struct {
	User   userView `json:"user"`
	APIKey string   `json:"apiKey"`
}

type updateUserRequest struct {
	Email     *string     `json:"email"`
	Password  *string     `json:"password"`
	Role      *model.Role `json:"role"`
	RateLimit *int        `json:"rateLimit"`
	IsActive  *bool       `json:"isActive"`
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	switch r.Method {
	case http.MethodPost:
		switch action {
		case "login":
			s.login(w, r)
		case "create-user":
			s.createUser(w, r)
		default:
			writeError(w, http.StatusBadRequest, errs.CodeInvalidAction, "Unknown action "+strconv.Quote(action), nil)
		}
	case http.MethodGet:
		s.getUsers(w, r)
	case http.MethodPut:
		s.updateUser(w, r)
	case http.MethodDelete:
		s.deleteUser(w, r)
	}
}

// login consumes the anonymous per-IP budget on every attempt.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	res := s.checkBudget(r, limiter.AnonymousKey(clientIP(r, s.opts.TrustProxy)), s.opts.AnonymousLimit)
	if !s.applyRateLimit(w, res) {
		return
	}
	var req loginRequest
	if !readJSON(w, r, &req, "Body must be a JSON object with email and password") {
		return
	}
	tokens, u, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, errs.CodeAuthenticationRequired, "Invalid email or password", nil)
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, loginResponse{
		Token:     tokens.AccessToken,
		ExpiresAt: tokens.ExpiresAt.UTC().Format(timeLayout),
		User:      toUserView(u),
	})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	var req createUserRequest
	if !readJSON(w, r, &req, "Body must be a JSON object") {
		return
	}
	u, key, err := s.auth.CreateUser(r.Context(), model.NewUser{
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		RateLimit: req.RateLimit,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, createUserResponse{User: toUserView(u), APIKey: key})
}

func (s *Server) getUsers(w http.ResponseWriter, r *http.Request) {
	ac, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("action") == "list" {
		if !ac.User.IsAdmin() {
			writeError(w, http.StatusForbidden, errs.CodeInsufficientPermissions, "Admin role required", nil)
			return
		}
		users, err := s.auth.ListUsers(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"users": toUserViews(users), "total": len(users)})
		return
	}
	target, ok := s.targetUser(w, r, ac)
	if !ok {
		return
	}
	if target == ac.User.ID {
		writeOK(w, http.StatusOK, map[string]any{"user": toUserView(ac.User)})
		return
	}
	u, err := s.auth.GetUser(r.Context(), target)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"user": toUserView(u)})
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	ac, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	target, ok := s.targetUser(w, r, ac)
	if !ok {
		return
	}
	var req updateUserRequest
	if !readJSON(w, r, &req, "Body must be a JSON object") {
		return
	}
	u, err := s.auth.UpdateUser(r.Context(), ac.User, target, model.UserPatch{
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		RateLimit: req.RateLimit,
		IsActive:  req.IsActive,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"user": toUserView(u)})
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	ac, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	target, ok := s.targetUser(w, r, ac)
	if !ok {
		return
	}
	soft, _ := strconv.ParseBool(r.URL.Query().Get("soft"))
	deactivated, err := s.auth.DeleteUser(r.Context(), ac.User, target, soft)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"userId":      target.String(),
		"deleted":     !deactivated,
		"deactivated": deactivated,
	})
}

// targetUser resolves ?userId=. Only admins may address other users.
func (s *Server) targetUser(w http.ResponseWriter, r *http.Request, ac *model.AuthContext) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("userId")
	if raw == "" {
		return ac.User.ID, true
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, errs.CodeInvalidRequestBody, "userId must be a UUID", map[string]string{"field": "userId"})
		return uuid.Nil, false
	}
	if id != ac.User.ID && !ac.User.IsAdmin() {
		writeError(w, http.StatusForbidden, errs.CodeInsufficientPermissions, "Admin role required", nil)
		return uuid.Nil, false
	}
	return id, true
}
